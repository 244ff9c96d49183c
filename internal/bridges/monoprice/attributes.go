package monoprice

import (
	"fmt"

	"github.com/twolfekc/monozone-pi/internal/zone"
)

// attributeSpec describes one attribute's wire encoding and value domain.
type attributeSpec struct {
	// Code is the two-letter control code on the wire (e.g. "PR", "VO").
	Code string

	// Min and Max bound the attribute's valid value domain, inclusive.
	Min int
	Max int

	// Writable is false for status-only fields that cannot be commanded.
	Writable bool
}

// attributeTable maps domain attributes to their wire encoding.
//
// This table is the single source of truth for the command grammar:
// encode, decode and domain validation are all driven from it, so
// supporting a different amplifier model (more zones, wider volume
// range, extra controls) is a table change only.
var attributeTable = map[zone.Attribute]attributeSpec{
	zone.AttrPower:   {Code: "PR", Min: 0, Max: 1, Writable: true},
	zone.AttrMute:    {Code: "MU", Min: 0, Max: 1, Writable: true},
	zone.AttrVolume:  {Code: "VO", Min: 0, Max: 38, Writable: true},
	zone.AttrSource:  {Code: "CH", Min: 1, Max: 6, Writable: true},
	zone.AttrBass:    {Code: "BS", Min: 0, Max: 14, Writable: true},
	zone.AttrTreble:  {Code: "TR", Min: 0, Max: 14, Writable: true},
	zone.AttrBalance: {Code: "BL", Min: 0, Max: 20, Writable: true},
	zone.AttrPA:      {Code: "PA", Min: 0, Max: 1},
	zone.AttrDND:     {Code: "DT", Min: 0, Max: 1},
	zone.AttrKeypad:  {Code: "LS", Min: 0, Max: 1},
}

// codeTable is the reverse mapping, wire code → attribute.
var codeTable = func() map[string]zone.Attribute {
	m := make(map[string]zone.Attribute, len(attributeTable))
	for attr, spec := range attributeTable {
		m[spec.Code] = attr
	}
	return m
}()

// AttributeDomain returns the inclusive [min, max] value domain for a
// writable attribute.
//
// Returns:
//   - min, max: the attribute's valid domain
//   - error: ErrEncoding if the attribute is unknown or read-only
func AttributeDomain(attr zone.Attribute) (minVal, maxVal int, err error) {
	spec, ok := attributeTable[attr]
	if !ok || !spec.Writable {
		return 0, 0, fmt.Errorf("%w: attribute %q is not writable", ErrEncoding, attr)
	}
	return spec.Min, spec.Max, nil
}

// Clamp forces a value into the attribute's valid domain.
//
// Unknown attributes are returned unchanged; the subsequent encode will
// reject them. Clamping is the caller's tool — the codec itself never
// clamps.
func Clamp(attr zone.Attribute, value int) int {
	spec, ok := attributeTable[attr]
	if !ok {
		return value
	}
	if value < spec.Min {
		return spec.Min
	}
	if value > spec.Max {
		return spec.Max
	}
	return value
}

// Attributes returns all writable attributes. Order is unspecified.
func Attributes() []zone.Attribute {
	attrs := make([]zone.Attribute, 0, len(attributeTable))
	for attr, spec := range attributeTable {
		if spec.Writable {
			attrs = append(attrs, attr)
		}
	}
	return attrs
}
