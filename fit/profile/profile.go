// Package profile holds a minimal, hand-curated slice of the ANT FIT
// global profile: just enough message and field metadata to drive
// sub-field resolution, component expansion and human-readable naming
// for the message types this tree actually consumes (file_id, record,
// lap, session, event, workout, workout_step, and the developer-data
// bookkeeping messages).
//
// It is not a code-generated copy of the full SDK profile. Unknown
// global message numbers and field numbers are handled by callers
// falling back to numeric names.
package profile

import "strconv"

// Field describes one statically known field of a global message.
type Field struct {
	Num      uint8
	Name     string
	Units    string
	Scale    float64 // 0 means no scale/offset applied (raw passthrough)
	Offset   float64
	SubField *SubField    // optional, resolved against a sibling field's raw value
	Comps    []Component  // optional, components this field expands into
}

// SubField is an alternate interpretation of a field chosen by the raw
// values of one or more other fields in the same message (the
// "reference fields").
type SubField struct {
	Cases []SubFieldCase
}

// SubFieldCase is one candidate reinterpretation. It is selected when
// every constraint in Refs matches the corresponding reference field's
// raw decoded value (AND, not first-match-wins across fields).
type SubFieldCase struct {
	Refs  []SubFieldRef
	Field Field
}

// SubFieldRef is one reference-field constraint: the sibling field's
// definition number and the raw value it must carry.
type SubFieldRef struct {
	RefFieldNum uint8
	RefValue    uint64
}

// Component is a bit-slice view of a parent field's raw integer value,
// rendered into its own named field with its own scale/offset and
// optional accumulation across records (for narrow counters that wrap).
// DefNum identifies the sibling field this component's value belongs
// to (e.g. the record message's own "distance" field), so the decoder
// can resolve its canonical name/units rather than relying solely on
// the literal Name/Units carried here.
type Component struct {
	DefNum     uint8
	Name       string
	BitOffset  int
	Bits       int
	Scale      float64
	Offset     float64
	Units      string
	Accumulate bool
}

// Message describes one global message's known fields.
type Message struct {
	Num    uint16
	Name   string
	Fields map[uint8]Field
}

// Messages is the minimal profile table, keyed by global message number.
var Messages = map[uint16]Message{
	0: {Num: 0, Name: "file_id", Fields: map[uint8]Field{
		0: {Num: 0, Name: "type"},
		1: {Num: 1, Name: "manufacturer"},
		2: {Num: 2, Name: "product"},
		3: {Num: 3, Name: "serial_number"},
		4: {Num: 4, Name: "time_created", Units: "s_since_fit_epoch"},
		5: {Num: 5, Name: "number"},
		8: {Num: 8, Name: "product_name"},
	}},
	18: {Num: 18, Name: "session", Fields: map[uint8]Field{
		253: {Num: 253, Name: "timestamp", Units: "s_since_fit_epoch"},
		2:   {Num: 2, Name: "start_time", Units: "s_since_fit_epoch"},
		5:   {Num: 5, Name: "sport"},
		6:   {Num: 6, Name: "sub_sport"},
		7:   {Num: 7, Name: "total_elapsed_time", Units: "s", Scale: 1000},
		8:   {Num: 8, Name: "total_timer_time", Units: "s", Scale: 1000},
		9:   {Num: 9, Name: "total_distance", Units: "m", Scale: 100},
		14:  {Num: 14, Name: "avg_speed", Units: "m/s", Scale: 1000},
		15:  {Num: 15, Name: "max_speed", Units: "m/s", Scale: 1000},
		16:  {Num: 16, Name: "avg_heart_rate", Units: "bpm"},
		17:  {Num: 17, Name: "max_heart_rate", Units: "bpm"},
		18:  {Num: 18, Name: "avg_cadence", Units: "rpm"},
		19:  {Num: 19, Name: "max_cadence", Units: "rpm"},
		20:  {Num: 20, Name: "avg_power", Units: "w"},
		21:  {Num: 21, Name: "max_power", Units: "w"},
		22:  {Num: 22, Name: "total_ascent", Units: "m"},
		23:  {Num: 23, Name: "total_descent", Units: "m"},
		24:  {Num: 24, Name: "total_calories", Units: "kcal"},
		48:  {Num: 48, Name: "normalized_power", Units: "w"},
		57:  {Num: 57, Name: "threshold_power", Units: "w"},
		124: {Num: 124, Name: "enhanced_avg_speed", Units: "m/s", Scale: 1000},
		125: {Num: 125, Name: "enhanced_max_speed", Units: "m/s", Scale: 1000},
	}},
	19: {Num: 19, Name: "lap", Fields: map[uint8]Field{
		253: {Num: 253, Name: "timestamp", Units: "s_since_fit_epoch"},
		2:   {Num: 2, Name: "start_time", Units: "s_since_fit_epoch"},
		7:   {Num: 7, Name: "total_elapsed_time", Units: "s", Scale: 1000},
		8:   {Num: 8, Name: "total_timer_time", Units: "s", Scale: 1000},
		9:   {Num: 9, Name: "total_distance", Units: "m", Scale: 100},
		13:  {Num: 13, Name: "avg_speed", Units: "m/s", Scale: 1000},
		14:  {Num: 14, Name: "max_speed", Units: "m/s", Scale: 1000},
		15:  {Num: 15, Name: "avg_heart_rate", Units: "bpm"},
		16:  {Num: 16, Name: "max_heart_rate", Units: "bpm"},
		17:  {Num: 17, Name: "avg_cadence", Units: "rpm"},
		18:  {Num: 18, Name: "max_cadence", Units: "rpm"},
		19:  {Num: 19, Name: "avg_power", Units: "w"},
		20:  {Num: 20, Name: "max_power", Units: "w"},
		42:  {Num: 42, Name: "total_work", Units: "j"},
	}},
	20: {Num: 20, Name: "record", Fields: map[uint8]Field{
		253: {Num: 253, Name: "timestamp", Units: "s_since_fit_epoch"},
		2:   {Num: 2, Name: "altitude", Units: "m", Scale: 5, Offset: 500},
		3:   {Num: 3, Name: "heart_rate", Units: "bpm"},
		4:   {Num: 4, Name: "cadence", Units: "rpm"},
		5:   {Num: 5, Name: "distance", Units: "m", Scale: 100},
		6:   {Num: 6, Name: "speed", Units: "m/s", Scale: 1000},
		7:   {Num: 7, Name: "power", Units: "w"},
		8: {Num: 8, Name: "compressed_speed_distance", Comps: []Component{
			{DefNum: 6, Name: "speed", BitOffset: 0, Bits: 12, Scale: 100, Units: "m/s"},
			{DefNum: 5, Name: "distance", BitOffset: 12, Bits: 12, Scale: 16, Units: "m", Accumulate: true},
		}},
		9:  {Num: 9, Name: "grade", Units: "%", Scale: 100},
		13: {Num: 13, Name: "temperature", Units: "c"},
	}},
	21: {Num: 21, Name: "event", Fields: map[uint8]Field{
		253: {Num: 253, Name: "timestamp", Units: "s_since_fit_epoch"},
		0: {Num: 0, Name: "event"},
		1: {Num: 1, Name: "event_type"},
		2: {Num: 2, Name: "data16"},
		3: {Num: 3, Name: "data", SubField: &SubField{
			Cases: []SubFieldCase{
				{Refs: []SubFieldRef{{RefFieldNum: 0, RefValue: 0}}, Field: Field{Name: "timer_trigger"}},
			},
		}},
		4: {Num: 4, Name: "event_group"},
	}},
	26: {Num: 26, Name: "workout", Fields: map[uint8]Field{
		4: {Num: 4, Name: "wkt_name"},
		5: {Num: 5, Name: "sport"},
		6: {Num: 6, Name: "sub_sport"},
		7: {Num: 7, Name: "num_valid_steps"},
		8: {Num: 8, Name: "capabilities"},
	}},
	27: {Num: 27, Name: "workout_step", Fields: map[uint8]Field{
		254: {Num: 254, Name: "message_index"},
		0:   {Num: 0, Name: "wkt_step_name"},
		1:   {Num: 1, Name: "duration_type"},
		2:   {Num: 2, Name: "duration_value"},
		3:   {Num: 3, Name: "target_type"},
		4:   {Num: 4, Name: "target_value"},
		5:   {Num: 5, Name: "custom_target_value_low"},
		6:   {Num: 6, Name: "custom_target_value_high"},
		7:   {Num: 7, Name: "intensity"},
		8:   {Num: 8, Name: "notes"},
	}},
	206: {Num: 206, Name: "field_description", Fields: map[uint8]Field{
		0: {Num: 0, Name: "developer_data_index"},
		1: {Num: 1, Name: "field_definition_number"},
		2: {Num: 2, Name: "fit_base_type_id"},
		3: {Num: 3, Name: "field_name"},
		6: {Num: 6, Name: "native_mesg_num"},
		7: {Num: 7, Name: "native_field_num"},
		8: {Num: 8, Name: "units"},
	}},
	207: {Num: 207, Name: "developer_data_id", Fields: map[uint8]Field{
		0: {Num: 0, Name: "developer_id"},
		1: {Num: 1, Name: "application_id"},
		2: {Num: 2, Name: "manufacturer_id"},
		3: {Num: 3, Name: "developer_data_index"},
		4: {Num: 4, Name: "application_version"},
	}},
}

// sportNames is a hand-reduced slice of the FIT profile's sport enum,
// covering the sports a structured training file is likely to carry.
// Codes outside this set fall back to a numeric label.
var sportNames = map[uint8]string{
	0:  "generic",
	1:  "running",
	2:  "cycling",
	4:  "fitness_equipment",
	5:  "swimming",
	10: "training",
	11: "walking",
	15: "rowing",
	17: "hiking",
	18: "multisport",
}

// subSportNames mirrors sportNames for the sub_sport enum.
var subSportNames = map[uint8]string{
	0:  "generic",
	1:  "treadmill",
	2:  "street",
	3:  "trail",
	4:  "track",
	6:  "indoor_cycling",
	7:  "road",
	8:  "mountain",
	14: "virtual_activity",
	58: "gravel_cycling",
}

// SportName resolves a sport enum code to its FIT profile name, falling
// back to "sport_<n>" for codes this table doesn't carry.
func SportName(code uint8) string {
	if name, ok := sportNames[code]; ok {
		return name
	}
	return "sport_" + strconv.Itoa(int(code))
}

// SubSportName resolves a sub_sport enum code the same way SportName does.
func SubSportName(code uint8) string {
	if name, ok := subSportNames[code]; ok {
		return name
	}
	return "sub_sport_" + strconv.Itoa(int(code))
}

// MessageName returns the known name for a global message number, or a
// synthetic global_<n> name when the profile has no entry for it.
func MessageName(global uint16) string {
	if m, ok := Messages[global]; ok {
		return m.Name
	}
	return syntheticName(global)
}

// MessageNumberByName does the reverse lookup, for callers that filter
// a stream by name instead of number. ok is false for names not in the
// minimal profile.
func MessageNumberByName(name string) (uint16, bool) {
	for num, m := range Messages {
		if m.Name == name {
			return num, true
		}
	}
	return 0, false
}

// FieldFor looks up a field descriptor for a global message + field
// number pair. ok is false when the message or field isn't in the
// minimal profile, in which case callers fall back to a numeric name.
func FieldFor(global uint16, field uint8) (Field, bool) {
	m, ok := Messages[global]
	if !ok {
		return Field{}, false
	}
	f, ok := m.Fields[field]
	return f, ok
}

func syntheticName(global uint16) string {
	return "global_" + strconv.Itoa(int(global))
}
