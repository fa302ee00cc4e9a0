package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidColor is returned when a colour value cannot be parsed
var ErrInvalidColor = errors.New("invalid color")

// ParseHexColor parses "#rrggbb", "rrggbb" or the short "#rgb" form
func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// ParseColorValue parses a JSON colour given either as a hex string or as an
// array of at least three 0..255 components (extra components are ignored).
func ParseColorValue(raw json.RawMessage) (color.RGBA, error) {
	var hex string
	if err := json.Unmarshal(raw, &hex); err == nil {
		return ParseHexColor(hex)
	}

	var components []float64
	if err := json.Unmarshal(raw, &components); err != nil {
		return color.RGBA{}, fmt.Errorf("%w: expected hex string or component array", ErrInvalidColor)
	}
	if len(components) < 3 {
		return color.RGBA{}, fmt.Errorf("%w: need 3 components, got %d", ErrInvalidColor, len(components))
	}
	var rgb [3]uint8
	for i := range rgb {
		v := components[i]
		if math.IsNaN(v) || v < 0 || v > 255 {
			return color.RGBA{}, fmt.Errorf("%w: component %d out of range", ErrInvalidColor, i)
		}
		rgb[i] = uint8(math.Round(v))
	}
	return color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 255}, nil
}

// HexColor formats c as "#rrggbb"
func HexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
