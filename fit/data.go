package fit

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
	"time"

	"fitdecode/fit/profile"
)

// fitEpoch is the FIT protocol's reference epoch: UTC timestamps are
// carried as seconds since midnight, December 31st 1989.
var fitEpoch = time.Date(1989, 12, 31, 0, 0, 0, 0, time.UTC)

// FieldData is one decoded field value, either a direct field off the
// wire or a synthetic field produced by sub-field resolution, component
// expansion, or a compressed-timestamp record header.
type FieldData struct {
	Num       uint8
	Name      string
	Units     string
	BaseType  BaseTypeInfo
	RawHex    string
	Raw       any
	Scaled    any
	Invalid   bool
	IsArray   bool
	Synthetic bool
}

// Message is one decoded FIT record: a definition message or a data
// message, named against the minimal profile table.
type Message struct {
	RecordIndex      int
	FileOffset       int64
	Length           int64
	HeaderByte       uint8
	Kind             string // "definition" or "data"
	LocalType        uint8
	GlobalNum        uint16
	Name             string
	Definition       *Definition
	Fields           []FieldData
	DeveloperFields  []FieldData
	CompressedHeader bool
	Timestamp        *time.Time
}

// Field returns the first field with the given name, including
// synthetic component/sub-field names.
func (m *Message) Field(name string) (FieldData, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldData{}, false
}

// AsDict renders the message's data fields into a flat map keyed by
// field name, convenient for downstream consumers that want dynamic
// access instead of iterating FieldData slices.
func (m *Message) AsDict() map[string]any {
	out := make(map[string]any, len(m.Fields))
	for _, f := range m.Fields {
		if f.Invalid {
			continue
		}
		out[f.Name] = f.Scaled
	}
	return out
}

// tsState carries the compressed-timestamp rolling reference shared
// across every message in one FIT file segment: the last absolute
// timestamp seen (from either a normal field 253 or a prior compressed
// header) and the 5-bit offset it was computed from.
type tsState struct {
	last   uint32
	offset int32
}

func decodeDataMessage(s *source, recordIndex int, fileOffset int64, headerByte uint8, local uint8, def *Definition, compressed bool, devReg *developerRegistry, ts *tsState, accum accumulators, proc Processor) (Message, error) {
	msg := Message{
		RecordIndex:      recordIndex,
		FileOffset:       fileOffset,
		HeaderByte:       headerByte,
		Kind:             "data",
		LocalType:        local,
		GlobalNum:        def.GlobalNum,
		Name:             profile.MessageName(def.GlobalNum),
		Definition:       def,
		CompressedHeader: compressed,
		Fields:           make([]FieldData, 0, len(def.Fields)),
	}

	var compressedTS *uint32
	if compressed && ts.last != 0 {
		offset := int32(headerByte & compressedTimeMask)
		ts.last += uint32((offset - ts.offset) & int32(compressedTimeMask))
		ts.offset = offset
		t := fitEpoch.Add(time.Duration(ts.last) * time.Second)
		msg.Timestamp = &t
		v := ts.last
		compressedTS = &v
	}

	rawByFieldNum := make(map[uint8]uint64, len(def.Fields))

	for _, fd := range def.Fields {
		raw, err := s.readFull(int(fd.Size))
		if err != nil {
			return Message{}, err
		}

		pf, known := profile.FieldFor(def.GlobalNum, fd.Num)

		if known && len(pf.Comps) > 0 {
			// Component-bearing fields are packed as a plain
			// little/big-endian integer across their raw bytes,
			// independent of their declared base type (the FIT SDK
			// spells compressed_speed_distance as a 3-byte "byte"
			// field and unpacks it the same way). The parent field
			// itself is emitted first, followed by its components.
			parent := decodeStandardField(raw, fd, def.Arch, pf, known)
			parentRaw := packInteger(raw, def.Arch)
			rawByFieldNum[fd.Num] = parentRaw
			comps := expandComponents(parentRaw, pf.Comps, def.GlobalNum, accum[def.GlobalNum])
			proc.RunType(&parent)
			proc.RunField(&parent)
			proc.RunUnit(&parent)
			msg.Fields = append(msg.Fields, parent)
			for i := range comps {
				proc.RunType(&comps[i])
				proc.RunField(&comps[i])
				proc.RunUnit(&comps[i])
			}
			msg.Fields = append(msg.Fields, comps...)
			continue
		}

		field := decodeStandardField(raw, fd, def.Arch, pf, known)
		rawByFieldNum[fd.Num] = toUint64(field.Raw)

		if known && pf.SubField != nil {
			for _, c := range pf.SubField.Cases {
				if subFieldCaseMatches(c, rawByFieldNum) {
					field = applySubFieldMeaning(field, c.Field)
					break
				}
			}
		}

		proc.RunType(&field)
		proc.RunField(&field)
		proc.RunUnit(&field)
		msg.Fields = append(msg.Fields, field)

		if fd.Num == 253 {
			if raw, ok := field.Raw.(uint32); ok && raw != 0xFFFFFFFF {
				ts.last = raw
				ts.offset = int32(raw & compressedTimeMask)
				t := fitEpoch.Add(time.Duration(raw) * time.Second)
				msg.Timestamp = &t
			}
		}
	}

	if compressedTS != nil {
		tsField := FieldData{Num: 253, Name: "timestamp", Units: "s_since_fit_epoch", BaseType: describeBaseType(BaseUint32), Raw: *compressedTS, Scaled: fitEpoch.Add(time.Duration(*compressedTS) * time.Second).UTC().Format(time.RFC3339), Synthetic: true}
		proc.RunType(&tsField)
		proc.RunField(&tsField)
		proc.RunUnit(&tsField)
		msg.Fields = append(msg.Fields, tsField)
	}

	if len(def.DevFields) > 0 {
		msg.DeveloperFields = make([]FieldData, 0, len(def.DevFields))
		for _, ddf := range def.DevFields {
			raw, err := s.readFull(int(ddf.Size))
			if err != nil {
				return Message{}, err
			}
			name, base := devReg.describe(ddf.DeveloperDataIdx, ddf.Num)
			val, invalid := decodeSingleValue(raw, base, def.Arch)
			devField := FieldData{
				Num:      ddf.Num,
				Name:     name,
				BaseType: describeBaseType(base),
				RawHex:   hex.EncodeToString(raw),
				Raw:      val,
				Scaled:   val,
				Invalid:  invalid,
			}
			proc.RunType(&devField)
			proc.RunField(&devField)
			proc.RunUnit(&devField)
			msg.DeveloperFields = append(msg.DeveloperFields, devField)
		}
	}

	if devReg != nil {
		devReg.observe(def.GlobalNum, &msg)
	}

	proc.RunMessage(&msg)
	return msg, nil
}

// subFieldCaseMatches implements the sub-field selection rule: every
// reference-field constraint the case carries must match the current
// record's raw values (AND across the set), not just one of them.
func subFieldCaseMatches(c profile.SubFieldCase, rawByFieldNum map[uint8]uint64) bool {
	if len(c.Refs) == 0 {
		return false
	}
	for _, ref := range c.Refs {
		v, ok := rawByFieldNum[ref.RefFieldNum]
		if !ok || v != ref.RefValue {
			return false
		}
	}
	return true
}

func decodeStandardField(raw []byte, fd FieldDef, arch binary.ByteOrder, pf profile.Field, known bool) FieldData {
	info := describeBaseType(fd.Base)
	spec, ok := baseSpecs[fd.Base]
	rawHex := hex.EncodeToString(raw)

	name := pf.Name
	units := pf.Units
	if !known || name == "" {
		name = syntheticFieldName(fd.Num)
	}

	if fd.Base == BaseString {
		s := decodeNullTerminatedString(raw)
		return FieldData{Num: fd.Num, Name: name, Units: units, BaseType: info, RawHex: rawHex, Raw: s, Scaled: s, Invalid: len(s) == 0 && allBytes(raw, 0x00)}
	}
	if fd.Base == BaseByte {
		return FieldData{Num: fd.Num, Name: name, Units: units, BaseType: info, RawHex: rawHex, Raw: bytesToInts(raw), Scaled: bytesToInts(raw), Invalid: allBytes(raw, 0xFF), IsArray: len(raw) > 1}
	}
	if !ok || spec.size <= 0 || len(raw)%spec.size != 0 {
		return FieldData{Num: fd.Num, Name: name, Units: units, BaseType: info, RawHex: rawHex, Raw: bytesToInts(raw), Scaled: bytesToInts(raw), IsArray: len(raw) > 1, Invalid: true}
	}

	count := len(raw) / spec.size
	if count == 1 {
		v, invalid := decodeSingleValue(raw, fd.Base, arch)
		scaled := v
		if !invalid && known && pf.Scale != 0 {
			scaled = applyScale(v, pf.Scale, pf.Offset)
		} else if !invalid && known && pf.Units == "s_since_fit_epoch" {
			if ts, ok := v.(uint32); ok {
				scaled = fitEpoch.Add(time.Duration(ts) * time.Second).UTC().Format(time.RFC3339)
			}
		}
		return FieldData{Num: fd.Num, Name: name, Units: units, BaseType: info, RawHex: rawHex, Raw: v, Scaled: scaled, Invalid: invalid}
	}

	values := make([]any, 0, count)
	invalidCount := 0
	for i := 0; i < count; i++ {
		part := raw[i*spec.size : (i+1)*spec.size]
		v, invalid := decodeSingleValue(part, fd.Base, arch)
		values = append(values, v)
		if invalid {
			invalidCount++
		}
	}
	return FieldData{Num: fd.Num, Name: name, Units: units, BaseType: info, RawHex: rawHex, Raw: values, Scaled: values, IsArray: true, Invalid: invalidCount == count}
}

func applySubFieldMeaning(field FieldData, meaning profile.Field) FieldData {
	field.Name = meaning.Name
	field.Units = meaning.Units
	if meaning.Scale != 0 {
		field.Scaled = applyScale(field.Raw, meaning.Scale, meaning.Offset)
	}
	return field
}

func applyScale(raw any, scale, offset float64) any {
	f, ok := toFloat(raw)
	if !ok {
		return raw
	}
	return f/scale - offset
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return 0, false
	}
}

func toUint64(v any) uint64 {
	switch x := v.(type) {
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint64:
		return x
	case int8:
		return uint64(uint8(x))
	case int16:
		return uint64(uint16(x))
	case int32:
		return uint64(uint32(x))
	case int64:
		return uint64(x)
	default:
		return 0
	}
}

// packInteger reassembles a raw field's bytes into a single integer
// according to the definition's architecture byte, regardless of its
// declared base type. Used for component-bearing fields, whose bit
// layout is defined over the field's raw byte span rather than over a
// typed scalar.
func packInteger(raw []byte, arch binary.ByteOrder) uint64 {
	var v uint64
	shift := uint(0)
	order := raw
	if arch == binary.BigEndian {
		for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	for _, b := range order {
		v |= uint64(b) << shift
		shift += 8
	}
	return v
}

func decodeSingleValue(raw []byte, bt BaseType, arch binary.ByteOrder) (any, bool) {
	switch bt {
	case BaseEnum:
		v := raw[0]
		return v, v == 0xFF
	case BaseSint8:
		v := int8(raw[0])
		return v, v == int8(0x7F)
	case BaseUint8:
		v := raw[0]
		return v, v == 0xFF
	case BaseSint16:
		v := int16(arch.Uint16(raw))
		return v, v == int16(0x7FFF)
	case BaseUint16:
		v := arch.Uint16(raw)
		return v, v == 0xFFFF
	case BaseSint32:
		v := int32(arch.Uint32(raw))
		return v, v == int32(0x7FFFFFFF)
	case BaseUint32:
		v := arch.Uint32(raw)
		return v, v == 0xFFFFFFFF
	case BaseFloat32:
		bits := arch.Uint32(raw)
		v := float64(math.Float32frombits(bits))
		return v, bits == 0xFFFFFFFF
	case BaseFloat64:
		bits := arch.Uint64(raw)
		v := math.Float64frombits(bits)
		return v, bits == 0xFFFFFFFFFFFFFFFF
	case BaseUint8z:
		v := raw[0]
		return v, v == 0x00
	case BaseUint16z:
		v := arch.Uint16(raw)
		return v, v == 0x0000
	case BaseUint32z:
		v := arch.Uint32(raw)
		return v, v == 0x00000000
	case BaseSint64:
		v := int64(arch.Uint64(raw))
		return v, v == int64(0x7FFFFFFFFFFFFFFF)
	case BaseUint64:
		v := arch.Uint64(raw)
		return v, v == 0xFFFFFFFFFFFFFFFF
	case BaseUint64z:
		v := arch.Uint64(raw)
		return v, v == 0x0000000000000000
	default:
		return bytesToInts(raw), false
	}
}

func decodeNullTerminatedString(raw []byte) string {
	for i := 0; i < len(raw); i++ {
		if raw[i] == 0x00 {
			return string(raw[:i])
		}
	}
	return string(raw)
}

func allBytes(raw []byte, value byte) bool {
	if len(raw) == 0 {
		return false
	}
	for _, b := range raw {
		if b != value {
			return false
		}
	}
	return true
}

func bytesToInts(raw []byte) []int {
	out := make([]int, len(raw))
	for i := range raw {
		out[i] = int(raw[i])
	}
	return out
}

func syntheticFieldName(num uint8) string {
	return "field_" + strconv.Itoa(int(num))
}
