package app

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorTheme is a predefined altitude colour scheme
type ColorTheme string

const (
	ClassicTheme ColorTheme = "classic" // Blue to red transition
	ThermalTheme ColorTheme = "thermal" // Dark purple to red to yellow
	MarineTheme  ColorTheme = "marine"  // Deep blue to cyan to white

	DefaultColorMapSize = 256

	hueStart = 236.0
	hueEnd   = 0.0
)

var themes = map[ColorTheme]func(float64) color.Color{
	ClassicTheme: classicColor,
	ThermalTheme: gradient("#1b0c41", "#b52f26", "#fbd524"),
	MarineTheme:  gradient("#08306b", "#2fa4c8", "#f7fbff"),
}

func classicColor(v float64) color.Color {
	hue := hueStart - v*(hueStart-hueEnd)
	return colorful.Hsv(hue, 1, 0.90)
}

// gradient blends evenly spaced hex stops in the HCL colour space
func gradient(stops ...string) func(float64) color.Color {
	colors := make([]colorful.Color, len(stops))
	for i, s := range stops {
		colors[i] = colorful.MustParseHex(s)
	}

	return func(v float64) color.Color {
		pos := v * float64(len(colors)-1)
		i := int(math.Floor(pos))
		if i >= len(colors)-1 {
			return colors[len(colors)-1].Clamped()
		}
		return colors[i].BlendHcl(colors[i+1], pos-float64(i)).Clamped()
	}
}

// ColorMapper maps relative altitudes to colours through a pre-computed
// table spanning [min, max]
type ColorMapper struct {
	colorMap []color.Color
	min      float64
	span     float64
}

// NewColorMapper creates a mapper for the altitude range [min, max]. An
// unknown theme falls back to ClassicTheme.
func NewColorMapper(theme ColorTheme, min, max float64) *ColorMapper {
	fn, ok := themes[theme]
	if !ok {
		fn = classicColor
	}

	cm := ColorMapper{
		colorMap: make([]color.Color, DefaultColorMapSize),
		min:      min,
		span:     max - min,
	}
	for i := range DefaultColorMapSize {
		cm.colorMap[i] = fn(float64(i) / float64(DefaultColorMapSize-1))
	}
	return &cm
}

// Color returns the colour of altitude; values outside the range are clamped
func (cm *ColorMapper) Color(altitude float64) color.Color {
	if cm.span <= 0 || math.IsNaN(altitude) {
		return cm.colorMap[0]
	}

	v := (altitude - cm.min) / cm.span
	v = math.Min(math.Max(v, 0), 1)
	return cm.colorMap[int(math.Round(v*float64(DefaultColorMapSize-1)))]
}
