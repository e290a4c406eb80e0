package fit

import "fmt"

// developerRegistry tracks developer field schemas declared at runtime
// by field_description (206) messages, keyed by developer_data_index
// and field_definition_number as the FIT spec requires. It is owned by
// a single Decoder instance rather than kept at package scope, so two
// Decoders reading two different streams never share state.
type developerRegistry struct {
	descriptions map[devKey]devFieldDescriptor
}

type devKey struct {
	devDataIdx uint8
	fieldNum   uint8
}

type devFieldDescriptor struct {
	name string
	base BaseType
}

func newDeveloperRegistry() *developerRegistry {
	return &developerRegistry{descriptions: make(map[devKey]devFieldDescriptor)}
}

// observe inspects a decoded data message for field_description (206)
// records and registers the developer field schema they declare. Other
// message kinds, including developer_data_id (207), are ignored here —
// developer_data_id only assigns an application identity to an index,
// it carries no field schema.
func (r *developerRegistry) observe(global uint16, msg *Message) {
	if global != 206 {
		return
	}
	var devIdx uint8
	var fieldNum uint8
	var baseRaw uint8
	var name string
	for _, f := range msg.Fields {
		switch f.Name {
		case "developer_data_index":
			devIdx = fieldValueUint8(f.Raw)
		case "field_definition_number":
			fieldNum = fieldValueUint8(f.Raw)
		case "fit_base_type_id":
			baseRaw = fieldValueUint8(f.Raw)
		case "field_name":
			if s, ok := f.Raw.(string); ok {
				name = s
			}
		}
	}
	if name == "" {
		name = fmt.Sprintf("dev_field_%d_%d", devIdx, fieldNum)
	}
	r.descriptions[devKey{devIdx, fieldNum}] = devFieldDescriptor{name: name, base: decompressBaseType(baseRaw)}
}

// describe resolves a developer field's name and wire type. Unknown
// developer fields (described before their schema arrived, or never
// described at all) fall back to a numeric name and raw byte
// reinterpretation.
func (r *developerRegistry) describe(devDataIdx, fieldNum uint8) (string, BaseType) {
	if d, ok := r.descriptions[devKey{devDataIdx, fieldNum}]; ok {
		return d.name, d.base
	}
	return fmt.Sprintf("dev_field_%d_%d", devDataIdx, fieldNum), BaseByte
}

func fieldValueUint8(v any) uint8 {
	switch x := v.(type) {
	case uint8:
		return x
	case int8:
		return uint8(x)
	default:
		return 0
	}
}
