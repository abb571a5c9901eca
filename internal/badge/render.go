package badge

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Fixed layout constants.
const (
	charWidthFactor = 0.65
	padding         = 6.0
	height          = 20.0
	radius          = 3.0
)

// Style controls the badge look. Zero-valued fields fall back to
// DefaultStyle.
type Style struct {
	Label                string
	Color                string // preset name or "#hex" for the count segment
	LabelBackgroundColor string
	CountBackgroundColor string // used when Color is empty
	TextColor            string
	FontFamily           string
	FontSize             float64
	Locale               language.Tag
}

// DefaultStyle is the stock shields-like look.
func DefaultStyle() Style {
	return Style{
		Label:                "Views",
		LabelBackgroundColor: "#555",
		CountBackgroundColor: "#4c1",
		TextColor:            "#fff",
		FontFamily:           "Verdana,Geneva,DejaVu Sans,sans-serif",
		FontSize:             11,
		Locale:               language.AmericanEnglish,
	}
}

// Merge returns s with every zero field taken from base.
func (s Style) Merge(base Style) Style {
	if s.Label == "" {
		s.Label = base.Label
	}
	if s.Color == "" {
		s.Color = base.Color
	}
	if s.LabelBackgroundColor == "" {
		s.LabelBackgroundColor = base.LabelBackgroundColor
	}
	if s.CountBackgroundColor == "" {
		s.CountBackgroundColor = base.CountBackgroundColor
	}
	if s.TextColor == "" {
		s.TextColor = base.TextColor
	}
	if s.FontFamily == "" {
		s.FontFamily = base.FontFamily
	}
	if s.FontSize <= 0 {
		s.FontSize = base.FontSize
	}
	if s.Locale == language.Und {
		s.Locale = base.Locale
	}
	return s
}

// Layout is the computed geometry of a badge.
type Layout struct {
	LabelWidth float64
	CountWidth float64
	Width      float64
	Height     float64
	LabelX     float64
	CountX     float64
	TextY      float64
}

// FormatCount renders n with the locale's digit grouping.
func FormatCount(n uint64, tag language.Tag) string {
	return message.NewPrinter(tag).Sprintf("%d", n)
}

// Measure computes the badge geometry for a label and count text. Character
// width is approximated as fontSize*0.65; there is no real font metrics
// lookup.
func Measure(label, countText string, fontSize float64) Layout {
	charWidth := fontSize * charWidthFactor
	labelWidth := float64(utf8.RuneCountInString(label))*charWidth + padding*2
	countWidth := float64(utf8.RuneCountInString(countText))*charWidth + padding*2
	return Layout{
		LabelWidth: labelWidth,
		CountWidth: countWidth,
		Width:      labelWidth + countWidth,
		Height:     height,
		LabelX:     labelWidth / 2,
		CountX:     labelWidth + countWidth/2,
		TextY:      height/2 + 1,
	}
}

// Render produces the SVG markup for count. Output depends only on its
// arguments.
func Render(count uint64, style Style) string {
	style = style.Merge(DefaultStyle())
	countColor := resolveColor(style.Color, style.CountBackgroundColor)
	countText := FormatCount(count, style.Locale)
	l := Measure(style.Label, countText, style.FontSize)

	var b strings.Builder
	b.Grow(1024)
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s">`+"\n", num(l.Width), num(l.Height))
	b.WriteString(`  <linearGradient id="smooth" x2="0" y2="100%">` + "\n")
	b.WriteString(`    <stop offset="0" stop-color="#bbb" stop-opacity=".1"/>` + "\n")
	b.WriteString(`    <stop offset="1" stop-opacity=".1"/>` + "\n")
	b.WriteString(`  </linearGradient>` + "\n")
	b.WriteString(`  <clipPath id="round">` + "\n")
	fmt.Fprintf(&b, `    <rect width="%s" height="%s" rx="%s" fill="#fff"/>`+"\n", num(l.Width), num(l.Height), num(radius))
	b.WriteString(`  </clipPath>` + "\n")
	b.WriteString(`  <g clip-path="url(#round)">` + "\n")
	fmt.Fprintf(&b, `    <rect width="%s" height="%s" fill="%s"/>`+"\n", num(l.LabelWidth), num(l.Height), attr(style.LabelBackgroundColor))
	fmt.Fprintf(&b, `    <rect x="%s" width="%s" height="%s" fill="%s"/>`+"\n", num(l.LabelWidth), num(l.CountWidth), num(l.Height), attr(countColor))
	fmt.Fprintf(&b, `    <rect width="%s" height="%s" fill="url(#smooth)"/>`+"\n", num(l.Width), num(l.Height))
	b.WriteString(`  </g>` + "\n")
	fmt.Fprintf(&b, `  <g fill="%s" text-anchor="middle" font-family="%s" font-size="%s">`+"\n", attr(style.TextColor), attr(style.FontFamily), num(style.FontSize))
	fmt.Fprintf(&b, `    <text x="%s" y="%s" dominant-baseline="middle">%s</text>`+"\n", num(l.LabelX), num(l.TextY), html.EscapeString(style.Label))
	fmt.Fprintf(&b, `    <text x="%s" y="%s" dominant-baseline="middle">%s</text>`+"\n", num(l.CountX), num(l.TextY), html.EscapeString(countText))
	b.WriteString(`  </g>` + "\n")
	b.WriteString(`</svg>`)
	return b.String()
}

// num prints the shortest decimal that round-trips, so 47.75 stays "47.75"
// and 20 stays "20".
func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func attr(s string) string {
	return html.EscapeString(s)
}
