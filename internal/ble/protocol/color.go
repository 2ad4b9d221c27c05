// Package protocol implements the payload format of the ESP32 light's
// color characteristic.
package protocol

import (
	"fmt"

	"github.com/chaz8081/blelight/internal/color"
)

// PayloadSize is the length of a color write: one byte each for R, G, B.
const PayloadSize = 3

// MarshalColor encodes c as the 3-byte write payload, in R, G, B order.
func MarshalColor(c color.Color) []byte {
	return []byte{c.R, c.G, c.B}
}

// UnmarshalColor decodes a payload written by MarshalColor.
func UnmarshalColor(data []byte) (color.Color, error) {
	if len(data) != PayloadSize {
		return color.Black, fmt.Errorf("protocol: color payload must be %d bytes, got %d", PayloadSize, len(data))
	}
	return color.New(data[0], data[1], data[2]), nil
}
