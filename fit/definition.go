package fit

import (
	"encoding/binary"
	"fmt"

	"fitdecode/fit/profile"
)

const (
	compressedHeaderMask       = 0x80
	compressedLocalMesgNumMask = 0x60
	compressedTimeMask         = 0x1F
	mesgDefinitionMask         = 0x40
	devDataMask                = 0x20
	localMesgNumMask           = 0x0F
)

// FieldDef is one field slot declared by a definition message.
type FieldDef struct {
	Num     uint8
	Size    uint8
	BaseRaw uint8
	Base    BaseType
}

// DevFieldDef is one developer-data field slot declared by a
// definition message carrying the developer-data bit.
type DevFieldDef struct {
	Num              uint8
	Size             uint8
	DeveloperDataIdx uint8
}

// Definition is the decoded form of one definition message, kept by
// local message type so subsequent data messages can be decoded
// against it.
type Definition struct {
	LocalType uint8
	GlobalNum uint16
	ArchByte  uint8
	Arch      binary.ByteOrder
	Fields    []FieldDef
	DevFields []DevFieldDef
}

// accumulators holds the accumulator state for every component that
// declares accumulate=true, keyed by global message number and then by
// the component's own target field definition number. It lives on the
// Decoder, not on a per-local-message-type Definition, so two local
// message slots sharing a global message number (or a redefined local
// slot) share the same running counters for the life of the parser.
type accumulators map[uint16]map[uint8]*accumulatorSlot

func (a accumulators) ensure(global uint16, defNum uint8) *accumulatorSlot {
	byDefNum, ok := a[global]
	if !ok {
		byDefNum = make(map[uint8]*accumulatorSlot)
		a[global] = byDefNum
	}
	slot, ok := byDefNum[defNum]
	if !ok {
		slot = &accumulatorSlot{}
		byDefNum[defNum] = slot
	}
	return slot
}

func decodeDefinition(s *source, headerByte uint8, accum accumulators) (Definition, error) {
	local := headerByte & localMesgNumMask

	if _, err := s.readFull(1); err != nil { // reserved byte
		return Definition{}, err
	}

	archRaw, err := s.readFull(1)
	if err != nil {
		return Definition{}, err
	}
	var arch binary.ByteOrder
	switch archRaw[0] {
	case 0:
		arch = binary.LittleEndian
	default:
		arch = binary.BigEndian
	}

	globalBytes, err := s.readFull(2)
	if err != nil {
		return Definition{}, err
	}
	global := arch.Uint16(globalBytes)

	numFieldsRaw, err := s.readFull(1)
	if err != nil {
		return Definition{}, err
	}
	numFields := int(numFieldsRaw[0])

	def := Definition{
		LocalType: local,
		GlobalNum: global,
		ArchByte:  archRaw[0],
		Arch:      arch,
		Fields:    make([]FieldDef, 0, numFields),
	}

	for i := 0; i < numFields; i++ {
		raw, err := s.readFull(3)
		if err != nil {
			return Definition{}, err
		}
		bt := decompressBaseType(raw[2])
		spec, ok := baseSpecs[bt]
		if ok && spec.size > 0 && int(raw[1])%spec.size != 0 {
			return Definition{}, &ParseError{Reason: fmt.Sprintf(
				"field %d: size %d is not a multiple of base type %s size %d", raw[0], raw[1], spec.name, spec.size)}
		}
		fd := FieldDef{Num: raw[0], Size: raw[1], BaseRaw: raw[2], Base: bt}
		def.Fields = append(def.Fields, fd)

		if pf, ok := profile.FieldFor(global, fd.Num); ok && len(pf.Comps) > 0 {
			for _, c := range pf.Comps {
				if c.Accumulate {
					accum.ensure(global, c.DefNum)
				}
			}
		}
	}

	if headerByte&devDataMask == devDataMask {
		devCountRaw, err := s.readFull(1)
		if err != nil {
			return Definition{}, err
		}
		devCount := int(devCountRaw[0])
		def.DevFields = make([]DevFieldDef, 0, devCount)
		for i := 0; i < devCount; i++ {
			raw, err := s.readFull(3)
			if err != nil {
				return Definition{}, err
			}
			def.DevFields = append(def.DevFields, DevFieldDef{
				Num: raw[0], Size: raw[1], DeveloperDataIdx: raw[2],
			})
		}
	}

	return def, nil
}

// accumulatorSlot tracks the rolling base value for one accumulating
// component across every record that shares its global message number,
// widened to 64 bits so the running total never wraps in practice even
// across a very long recording.
type accumulatorSlot struct {
	has  bool
	base uint64
}

// accumulateBits implements the FIT rollover-aware accumulation law: a
// narrow bit-width counter (e.g. 12-bit cumulative distance) wraps
// every 1<<bits units, and the decoder reconstructs the wide value by
// carrying the high bits of the last known base forward and bumping by
// one wrap whenever the new sample is smaller than the previous one
// modulo the field width.
func accumulateBits(raw uint64, slot *accumulatorSlot, bits int) uint64 {
	max := uint64(1) << uint(bits)
	if !slot.has {
		slot.has = true
		slot.base = raw
		return raw
	}
	base := raw | (slot.base &^ (max - 1))
	if raw < (slot.base & (max - 1)) {
		base += max
	}
	slot.base = base
	return base
}
