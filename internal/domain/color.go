package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var hexColorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// PlayerPalette is the ordered set of colors handed out to joining players.
var PlayerPalette = []string{
	"#FF0000",
	"#00FF00",
	"#0000FF",
	"#FFFF00",
	"#FF00FF",
	"#00FFFF",
	"#FF8000",
	"#8000FF",
}

// RGB is a color split into channels.
type RGB struct {
	R, G, B uint8
}

// IsHexColor reports whether s has the #RRGGBB form.
func IsHexColor(s string) bool {
	return hexColorPattern.MatchString(s)
}

// ParseHexColor parses #RRGGBB in either case.
func ParseHexColor(s string) (RGB, error) {
	if !IsHexColor(s) {
		return RGB{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// Hex formats the color as uppercase #RRGGBB.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// NormalizeHexColor uppercases a valid color. Invalid input is returned untouched.
func NormalizeHexColor(s string) string {
	if !IsHexColor(s) {
		return s
	}
	return strings.ToUpper(s)
}

// BlendColors averages the channels of the given colors, rounding down. Colors
// that fail to parse are skipped; ok is false when nothing was averaged.
func BlendColors(colors []string) (string, bool) {
	var r, g, b, n uint32
	for _, s := range colors {
		c, err := ParseHexColor(s)
		if err != nil {
			continue
		}
		r += uint32(c.R)
		g += uint32(c.G)
		b += uint32(c.B)
		n++
	}
	if n == 0 {
		return "", false
	}
	return RGB{R: uint8(r / n), G: uint8(g / n), B: uint8(b / n)}.Hex(), true
}

// NextFreeColor returns the first palette color not in used.
func NextFreeColor(used map[string]bool) string {
	for _, c := range PlayerPalette {
		if !used[c] {
			return c
		}
	}
	// Capacity is bounded by the palette in config validation, so this only
	// happens with a misconfigured palette.
	return PlayerPalette[len(used)%len(PlayerPalette)]
}
