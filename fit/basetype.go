package fit

import "fmt"

// BaseType identifies one of the FIT protocol's base wire types. The
// numeric values are the canonical FIT base type bytes (high nibble
// encodes an endian-size hint, low 5 bits the type index).
type BaseType uint8

const (
	BaseEnum    BaseType = 0x00
	BaseSint8   BaseType = 0x01
	BaseUint8   BaseType = 0x02
	BaseSint16  BaseType = 0x83
	BaseUint16  BaseType = 0x84
	BaseSint32  BaseType = 0x85
	BaseUint32  BaseType = 0x86
	BaseString  BaseType = 0x07
	BaseFloat32 BaseType = 0x88
	BaseFloat64 BaseType = 0x89
	BaseUint8z  BaseType = 0x0A
	BaseUint16z BaseType = 0x8B
	BaseUint32z BaseType = 0x8C
	BaseByte    BaseType = 0x0D
	BaseSint64  BaseType = 0x8E
	BaseUint64  BaseType = 0x8F
	BaseUint64z BaseType = 0x90
)

// baseSpec captures everything the decoder needs to know about a base
// type: its wire size, signedness, whether it is IEEE-754, and which
// sentinel marks an invalid value.
type baseSpec struct {
	name          string
	size          int
	signed        bool
	floating      bool
	zeroIsInvalid bool
}

var baseSpecs = map[BaseType]baseSpec{
	BaseEnum:    {name: "enum", size: 1},
	BaseSint8:   {name: "sint8", size: 1, signed: true},
	BaseUint8:   {name: "uint8", size: 1},
	BaseSint16:  {name: "sint16", size: 2, signed: true},
	BaseUint16:  {name: "uint16", size: 2},
	BaseSint32:  {name: "sint32", size: 4, signed: true},
	BaseUint32:  {name: "uint32", size: 4},
	BaseString:  {name: "string", size: 1},
	BaseFloat32: {name: "float32", size: 4, signed: true, floating: true},
	BaseFloat64: {name: "float64", size: 8, signed: true, floating: true},
	BaseUint8z:  {name: "uint8z", size: 1, zeroIsInvalid: true},
	BaseUint16z: {name: "uint16z", size: 2, zeroIsInvalid: true},
	BaseUint32z: {name: "uint32z", size: 4, zeroIsInvalid: true},
	BaseByte:    {name: "byte", size: 1},
	BaseSint64:  {name: "sint64", size: 8, signed: true},
	BaseUint64:  {name: "uint64", size: 8},
	BaseUint64z: {name: "uint64z", size: 8, zeroIsInvalid: true},
}

// BaseTypeInfo is the public, descriptive form of a base type used in
// decoded output.
type BaseTypeInfo struct {
	Raw           uint8
	Name          string
	SizeBytes     int
	Signed        bool
	Floating      bool
	ZeroIsInvalid bool
}

// DescribeBaseType resolves a BaseType to its descriptive form.
func DescribeBaseType(bt BaseType) BaseTypeInfo { return describeBaseType(bt) }

func describeBaseType(bt BaseType) BaseTypeInfo {
	spec, ok := baseSpecs[bt]
	if !ok {
		return BaseTypeInfo{Raw: uint8(bt), Name: fmt.Sprintf("unknown_0x%02X", uint8(bt)), SizeBytes: 1}
	}
	return BaseTypeInfo{
		Raw:           uint8(bt),
		Name:          spec.name,
		SizeBytes:     spec.size,
		Signed:        spec.signed,
		Floating:      spec.floating,
		ZeroIsInvalid: spec.zeroIsInvalid,
	}
}

// decompressBaseType maps the 5-bit compressed base type code carried
// in developer field definitions and a handful of profile-declared
// fields back onto the canonical byte form with its endian/size nibble.
func decompressBaseType(b byte) BaseType {
	switch b & 0x1F {
	case 0x03:
		return BaseSint16
	case 0x04:
		return BaseUint16
	case 0x05:
		return BaseSint32
	case 0x06:
		return BaseUint32
	case 0x08:
		return BaseFloat32
	case 0x09:
		return BaseFloat64
	case 0x0B:
		return BaseUint16z
	case 0x0C:
		return BaseUint32z
	case 0x0E:
		return BaseSint64
	case 0x0F:
		return BaseUint64
	case 0x10:
		return BaseUint64z
	default:
		return BaseType(b & 0x1F)
	}
}
