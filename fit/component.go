package fit

import "fitdecode/fit/profile"

// expandComponents renders a parent field's raw integer value into one
// synthetic FieldData per declared component: slice out its bits,
// accumulate if the component rolls over, apply the component's own
// scale/offset (never the parent field's — they may legitimately
// differ), then resolve the target component field by def_num so the
// emitted FieldData carries the sibling field's canonical name/units.
// Components never carry their own base type on the wire — they are
// views into the parent's already-decoded raw integer.
func expandComponents(parentRaw uint64, comps []profile.Component, global uint16, byDefNum map[uint8]*accumulatorSlot) []FieldData {
	out := make([]FieldData, 0, len(comps))
	for _, c := range comps {
		mask := uint64(1)<<uint(c.Bits) - 1
		raw := (parentRaw >> uint(c.BitOffset)) & mask

		value := raw
		if c.Accumulate {
			slot := byDefNum[c.DefNum]
			if slot == nil {
				slot = &accumulatorSlot{}
			}
			value = accumulateBits(raw, slot, c.Bits)
		}

		var rendered any = value
		if c.Scale != 0 {
			rendered = float64(value)/c.Scale - c.Offset
		}

		name, units := c.Name, c.Units
		if target, ok := profile.FieldFor(global, c.DefNum); ok {
			if target.Name != "" {
				name = target.Name
			}
			if target.Units != "" {
				units = target.Units
			}
		}

		out = append(out, FieldData{
			Num:       c.DefNum,
			Name:      name,
			Units:     units,
			Raw:       value,
			Scaled:    rendered,
			Synthetic: true,
		})
	}
	return out
}
