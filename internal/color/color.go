// Package color defines the RGB value streamed to the light and its
// "#RRGGBB" text form.
package color

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is an 8-bit-per-channel RGB triple.
type Color struct {
	R, G, B uint8
}

// Black is the zero Color.
var Black = Color{}

// New returns the color with the given channel values.
func New(r, g, b uint8) Color {
	return Color{R: r, G: g, B: b}
}

// ParseHex parses "#RRGGBB". The leading '#' may be omitted and hex
// digits are case-insensitive.
func ParseHex(s string) (Color, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return Black, fmt.Errorf("color: %q is not of the form #RRGGBB", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Black, fmt.Errorf("color: %q is not of the form #RRGGBB", s)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// Parse accepts either a hex color (see ParseHex) or three decimal
// channel values separated by spaces or commas, e.g. "255 0 128".
func Parse(s string) (Color, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	switch len(fields) {
	case 1:
		return ParseHex(fields[0])
	case 3:
		var ch [3]uint8
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 10, 8)
			if err != nil {
				return Black, fmt.Errorf("color: channel %q must be an integer in [0,255]", f)
			}
			ch[i] = uint8(v)
		}
		return Color{R: ch[0], G: ch[1], B: ch[2]}, nil
	default:
		return Black, fmt.Errorf("color: cannot parse %q", s)
	}
}

// Hex formats c as "#RRGGBB" with upper-case digits.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

func (c Color) String() string {
	return fmt.Sprintf("rgb(%d, %d, %d)", c.R, c.G, c.B)
}
