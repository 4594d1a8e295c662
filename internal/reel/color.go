package reel

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// RGB is an 8-bit-per-channel color.
type RGB struct {
	R, G, B uint8
}

// ParseHex parses "#RRGGBB" (or "#RGB"); the leading '#' is optional.
func ParseHex(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return RGB{}, fmt.Errorf("parse color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return RGB{R: r, G: g, B: b}, nil
}

// MustParseHex is ParseHex for compile-time constants.
func MustParseHex(s string) RGB {
	c, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Hex formats the color as "#rrggbb".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// RGBA converts to an opaque image/color value.
func (c RGB) RGBA() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff}
}

func (c RGB) colorful() colorful.Color {
	return colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}
}

// Interpolate blends start toward end in HSV space. Each of H, S and V moves
// linearly by progress and the result is truncated back to 8-bit channels.
//
// Hue moves along its raw value, not the shortest way around the wheel, so
// endpoints with distant hues pass through every hue in between. colorful's
// BlendHsv takes the short path and is deliberately not used here.
func Interpolate(start, end RGB, progress float64) RGB {
	h1, s1, v1 := start.colorful().Hsv()
	h2, s2, v2 := end.colorful().Hsv()

	h := h1 + (h2-h1)*progress
	s := s1 + (s2-s1)*progress
	v := v1 + (v2-v1)*progress

	out := colorful.Hsv(h, s, v)
	return RGB{
		R: truncateChannel(out.R),
		G: truncateChannel(out.G),
		B: truncateChannel(out.B),
	}
}

// BackgroundAt returns the background for the word at index of count words.
func BackgroundAt(start, end RGB, index, count int) RGB {
	return Interpolate(start, end, float64(index)/float64(count))
}

func truncateChannel(x float64) uint8 {
	v := int(x * 255)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
