// Package badge renders the counter badge: a two-segment rounded SVG with a
// label on the left and the formatted count on the right.
package badge

import "strings"

// ColorName is one of the named colour presets.
type ColorName string

const (
	Green  ColorName = "green"
	Blue   ColorName = "blue"
	Red    ColorName = "red"
	Orange ColorName = "orange"
	Yellow ColorName = "yellow"
	Purple ColorName = "purple"
	Pink   ColorName = "pink"
	Gray   ColorName = "gray"
	Black  ColorName = "black"
	Cyan   ColorName = "cyan"
)

// DefaultColor is used for empty or unrecognised colour names.
const DefaultColor = Green

// palette is the closed set of presets, in display order.
var palette = []struct {
	name ColorName
	hex  string
}{
	{Green, "#4c1"},
	{Blue, "#007ec6"},
	{Red, "#e05d44"},
	{Orange, "#fe7d37"},
	{Yellow, "#dfb317"},
	{Purple, "#9f7be1"},
	{Pink, "#e85aad"},
	{Gray, "#555"},
	{Black, "#1a1a1a"},
	{Cyan, "#24b9a7"},
}

// Hex returns the hex value of a preset and whether it exists.
func (c ColorName) Hex() (string, bool) {
	for _, p := range palette {
		if p.name == c {
			return p.hex, true
		}
	}
	return "", false
}

// Names lists the preset names in display order.
func Names() []ColorName {
	out := make([]ColorName, len(palette))
	for i, p := range palette {
		out[i] = p.name
	}
	return out
}

// ResolveColor maps a request colour to a fill value. Preset names resolve
// to their hex value, strings starting with "#" pass through untouched, and
// everything else (including "") resolves to the default preset. It never
// fails.
func ResolveColor(name string) string {
	return resolveColor(name, "")
}

// resolveColor is ResolveColor with an overridable default for empty input.
func resolveColor(name, fallback string) string {
	if name == "" && fallback != "" {
		return fallback
	}
	if hex, ok := ColorName(name).Hex(); ok {
		return hex
	}
	if strings.HasPrefix(name, "#") {
		return name
	}
	hex, _ := DefaultColor.Hex()
	return hex
}
