package llmexport

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"fitdecode/fit"
)

// parseOutput mirrors the shape exporter.go and inmemory.go build their
// manifests from, now produced from a single fitdecode/fit decode pass
// instead of a hand-rolled byte walk.
type parseOutput struct {
	Header             HeaderInfo
	HeaderCRC          CRCCheck
	FileCRC            CRCCheck
	Records            []RecordEnvelope
	DefinitionCount    int
	DataMessageCount   int
	StoredFileCRC      uint16
	ComputedFileCRC    uint16
	LeftoverBytesCount int64
	FileID             *FileIDInfo
}

func parseFITBytes(data []byte, includeAnalysis bool) (*parseOutput, error) {
	dec := fit.NewDecoder(bytes.NewReader(data))

	var records []RecordEnvelope
	var fileID *FileIDInfo
	for msg := range dec.All() {
		env := RecordEnvelope{
			FormatVersion:     ExportFormatVersion,
			RecordIndex:       msg.RecordIndex,
			FileOffset:        msg.FileOffset,
			HeaderByte:        msg.HeaderByte,
			RecordKind:        msg.Kind,
			LocalMessageType:  msg.LocalType,
			GlobalMessageNum:  msg.GlobalNum,
			GlobalMessageName: globalMessageName(msg.GlobalNum),
			RawRecordHex:      hex.EncodeToString(recordBytes(data, msg.FileOffset, msg.Length)),
		}

		switch msg.Kind {
		case "definition":
			env.Definition = definitionRecordFrom(msg.Definition)
		case "data":
			env.Data = dataRecordFrom(msg, includeAnalysis)
			if msg.GlobalNum == 0 && fileID == nil {
				fileID = fileIDFrom(msg)
			}
		}

		records = append(records, env)
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("decoding fit records: %w", err)
	}

	header := dec.Header()
	return &parseOutput{
		Header: HeaderInfo{
			Size:            header.Size,
			ProtocolVersion: header.ProtocolVersion,
			ProfileVersion:  header.ProfileVersion,
			DataSize:        header.DataSize,
			DataType:        header.DataType,
		},
		HeaderCRC:          crcCheckFromFit(dec.HeaderCRC()),
		FileCRC:            crcCheckFromFit(dec.FileCRC()),
		Records:            records,
		DefinitionCount:    countRecordKind(records, "definition"),
		DataMessageCount:   countRecordKind(records, "data"),
		LeftoverBytesCount: 0,
		FileID:             fileID,
	}, nil
}

func recordBytes(data []byte, offset, length int64) []byte {
	if offset < 0 || length <= 0 || offset+length > int64(len(data)) {
		return nil
	}
	return data[offset : offset+length]
}

func definitionRecordFrom(def *fit.Definition) *DefinitionRecord {
	if def == nil {
		return nil
	}
	archLabel := "little"
	if def.ArchByte != 0 {
		archLabel = "big"
	}
	fieldDefs := make([]FieldDefinition, 0, len(def.Fields))
	for _, fd := range def.Fields {
		fieldDefs = append(fieldDefs, FieldDefinition{
			FieldNumber: fd.Num,
			Size:        fd.Size,
			BaseTypeRaw: fd.BaseRaw,
			BaseType:    baseTypeInfoFrom(fit.DescribeBaseType(fd.Base)),
		})
	}
	devDefs := make([]DeveloperFieldDefinition, 0, len(def.DevFields))
	for _, ddf := range def.DevFields {
		devDefs = append(devDefs, DeveloperFieldDefinition{
			FieldNumber:      ddf.Num,
			Size:             ddf.Size,
			DeveloperDataIdx: ddf.DeveloperDataIdx,
		})
	}
	return &DefinitionRecord{
		ArchitectureByte:    def.ArchByte,
		Architecture:        archLabel,
		GlobalMessageNum:    def.GlobalNum,
		FieldDefinitions:    fieldDefs,
		DeveloperDefinition: devDefs,
	}
}

func dataRecordFrom(msg fit.Message, includeAnalysis bool) *DataRecord {
	dr := &DataRecord{
		Fields: make([]FieldValue, 0, len(msg.Fields)),
	}
	if msg.CompressedHeader {
		info := &CompressedTimestampInfo{
			Offset5bit:   msg.HeaderByte & 0x1F,
			HadReference: msg.Timestamp != nil,
		}
		if msg.Timestamp != nil {
			info.AbsoluteTimestampUTC = msg.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		dr.CompressedTimestamp = info
	}
	for i, f := range msg.Fields {
		dr.Fields = append(dr.Fields, fieldValueFrom(i, f))
	}
	for i, f := range msg.DeveloperFields {
		dr.DeveloperFields = append(dr.DeveloperFields, DeveloperFieldValue{
			FieldIndex:        i,
			FieldNumber:       f.Num,
			RawHex:            f.RawHex,
			DecodedByteValues: intsFromAny(f.Raw),
		})
	}
	if includeAnalysis {
		dr.Flat = flatFromMessage(msg)
	}
	return dr
}

// flatFromMessage projects a decoded message's fields into the
// semantically-named shape the canonical sample and workout-structure
// builders consume, by field name rather than field number.
func flatFromMessage(msg fit.Message) *RecordFlat {
	flat := &RecordFlat{MessageName: msg.Name, Values: msg.AsDict()}
	if v, ok := msg.Field("timestamp"); ok && !v.Invalid {
		if s, ok := v.Scaled.(string); ok {
			flat.TimestampUTC = s
		}
	}
	if p, ok := numericFieldPtr(msg, "power"); ok {
		flat.PowerW = p
		flat.ValidPower = true
	}
	if p, ok := numericFieldPtr(msg, "heart_rate"); ok {
		flat.HRBPM = p
		flat.ValidHR = true
	}
	if p, ok := numericFieldPtr(msg, "cadence"); ok {
		flat.CadenceRPM = p
		flat.ValidCadence = true
	}
	if p, ok := numericFieldPtr(msg, "speed"); ok {
		flat.SpeedMPS = p
	}
	if p, ok := numericFieldPtr(msg, "distance"); ok {
		flat.DistanceM = p
	}
	if p, ok := numericFieldPtr(msg, "altitude"); ok {
		flat.AltitudeM = p
	}
	if p, ok := numericFieldPtr(msg, "temperature"); ok {
		flat.TemperatureC = p
	}
	if p, ok := numericFieldPtr(msg, "grade"); ok {
		flat.GradePct = p
	}
	return flat
}

func numericFieldPtr(msg fit.Message, name string) (*float64, bool) {
	f, ok := msg.Field(name)
	if !ok || f.Invalid {
		return nil, false
	}
	v, ok := numericValue(f.Scaled)
	if !ok {
		return nil, false
	}
	return &v, true
}

func numericValue(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
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

func fieldValueFrom(index int, f fit.FieldData) FieldValue {
	fv := FieldValue{
		FieldIndex:  index,
		FieldNumber: f.Num,
		Name:        f.Name,
		BaseType:    baseTypeInfoFrom(f.BaseType),
		RawHex:      f.RawHex,
		Decoded:     f.Raw,
		Scaled:      f.Scaled,
		IsArray:     f.IsArray,
		Invalid:     f.Invalid,
		Synthetic:   f.Synthetic,
	}
	switch f.Raw.(type) {
	case string:
		fv.DecodedType = "string"
	case []any, []int:
		fv.DecodedType = "array"
	default:
		fv.DecodedType = "scalar"
	}
	if fv.Invalid {
		fv.DecodeError = invalidRuleForBase(fv.BaseType)
	}
	return fv
}

func fileIDFrom(msg fit.Message) *FileIDInfo {
	info := &FileIDInfo{}
	if v, ok := msg.Field("type"); ok {
		info.Type = fmt.Sprint(v.Scaled)
	}
	if v, ok := msg.Field("manufacturer"); ok {
		info.Manufacturer = fmt.Sprint(v.Scaled)
	}
	if v, ok := msg.Field("product"); ok {
		info.Product = fmt.Sprint(v.Scaled)
	}
	if v, ok := msg.Field("time_created"); ok {
		info.TimeCreated = fmt.Sprint(v.Scaled)
	}
	if v, ok := msg.Field("serial_number"); ok {
		if n, ok := v.Scaled.(uint32); ok {
			info.SerialNumber = n
		}
	}
	return info
}

func baseTypeInfoFrom(b fit.BaseTypeInfo) BaseTypeInfo {
	return BaseTypeInfo{
		CanonicalByte: b.Raw,
		Name:          b.Name,
		SizeBytes:     b.SizeBytes,
		Signed:        b.Signed,
		Floating:      b.Floating,
		ZeroIsInvalid: b.ZeroIsInvalid,
	}
}

func crcCheckFromFit(c fit.CRCCheck) CRCCheck {
	return CRCCheck{
		Present:         c.Present,
		StoredHex:       c.StoredHex,
		ComputedHex:     c.ComputedHex,
		Valid:           c.Valid,
		ValidationStyle: c.ValidationStyle,
	}
}

func intsFromAny(v any) []int {
	switch x := v.(type) {
	case []int:
		return x
	case int:
		return []int{x}
	default:
		return nil
	}
}

func countRecordKind(records []RecordEnvelope, kind string) int {
	count := 0
	for _, r := range records {
		if r.RecordKind == kind {
			count++
		}
	}
	return count
}
