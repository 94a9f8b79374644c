package compositor

import (
	"fmt"
	"image/color"
	"sort"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Background presets offered by the photo UI
var presets = map[string]string{
	"white":      "#ffffff",
	"light-blue": "#e6eef6",
	"soft-green": "#cfe8d6",
	"cream":      "#f7f3ea",
	"sky-blue":   "#dbeafe",
	"black":      "#000000",
	"gray":       "#808080",
	"grey":       "#808080",
}

// PresetNames returns the named backgrounds accepted by ParseColor
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseColor parses "#rrggbb", "#rgb" (leading # optional) or a preset name
// such as "light-blue". The result is always opaque.
func ParseColor(s string) (color.NRGBA, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return color.NRGBA{}, fmt.Errorf("empty color")
	}
	key := strings.NewReplacer(" ", "-", "_", "-").Replace(v)
	if hex, ok := presets[key]; ok {
		v = hex
	}
	if !strings.HasPrefix(v, "#") {
		v = "#" + v
	}
	if len(v) != 4 && len(v) != 7 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	c, err := colorful.Hex(v)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

// FormatColor renders c as "#rrggbb"
func FormatColor(c color.Color) string {
	cf, _ := colorful.MakeColor(c)
	return cf.Clamped().Hex()
}
