package app

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi            = 120.0
	fontSize       = 10.0
	plotMargin     = 24
	pointRadius    = 2
	homeMarkerSize = 7
	legendWidth    = 16
	tickMarkWidth  = 5

	// Default border sizes in pixels
	defaultTopBorder    = 30
	defaultLeftBorder   = 30
	defaultBottomBorder = 80
	defaultRightBorder  = 90

	defaultDatetimeFormat = time.DateTime
)

var (
	trackBackground = color.RGBA{R: 0xf4, G: 0xf4, B: 0xf0, A: 0xff}
	homeColor       = color.Black
)

// BorderConfig defines the sizes of white space around the plot
type BorderConfig struct {
	Top    int // Space for the north marker
	Left   int // Left padding
	Bottom int // Space for the scale bar and information bar
	Right  int // Space for the altitude legend
}

// RenderConfig holds the configuration options of track visualization
type RenderConfig struct {
	Size           int            // Width and height of the plot area
	DatetimeFormat string         // Format string for date/time display
	Location       *time.Location // Timezone for time display
	FontSize       float64        // Font size in points
	ColorTheme     ColorTheme     // Colour scheme for altitude values
	NoAnnotations  bool

	BorderConfig BorderConfig
}

// TrackRenderer draws a ground track coloured by relative altitude
type TrackRenderer struct {
	config RenderConfig
}

// NewTrackRenderer creates a new track renderer with the given configuration
func NewTrackRenderer(config RenderConfig) (*TrackRenderer, error) {
	if config.Size == 0 {
		config.Size = defaultSize
	}
	if config.Size < minSize {
		return nil, fmt.Errorf("plot size must be at least %d pixels: %d given", minSize, config.Size)
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	return &TrackRenderer{config: config}, nil
}

// PlotArea returns the rectangle the track is drawn in
func (r *TrackRenderer) PlotArea() image.Rectangle {
	b := r.config.BorderConfig
	return image.Rect(b.Left, b.Top, b.Left+r.config.Size, b.Top+r.config.Size)
}

// Render creates an image of the track with annotations
func (r *TrackRenderer) Render(track *TrackData) (*image.RGBA, error) {
	if track.Len() == 0 {
		return nil, fmt.Errorf("track of drone '%s' has no points", track.DroneID)
	}

	b := r.config.BorderConfig
	img := image.NewRGBA(image.Rect(0, 0, b.Left+r.config.Size+b.Right, b.Top+r.config.Size+b.Bottom))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	area := r.PlotArea()
	draw.Draw(img, area, image.NewUniform(trackBackground), image.Point{}, draw.Src)

	proj := NewProjection(track, r.config.Size, plotMargin)
	colors := NewColorMapper(r.config.ColorTheme, track.MinAltitude, track.MaxAltitude)

	r.renderTrack(img, area, proj, colors, track)

	if !r.config.NoAnnotations {
		ann, err := newAnnotator(annotatorConfig{
			DatetimeFormat: r.config.DatetimeFormat,
			Location:       r.config.Location,
			FontSize:       r.config.FontSize,
			Area:           area,
		})
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		defer ann.Close()

		if err = ann.annotate(img, track, proj, colors); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	return img, nil
}

func (r *TrackRenderer) renderTrack(img *image.RGBA, area image.Rectangle, proj *Projection, colors *ColorMapper, track *TrackData) {
	at := func(p TrackPoint) image.Point {
		x, y := proj.Point(p.Latitude, p.Longitude)
		return image.Pt(area.Min.X+x, area.Min.Y+y)
	}

	for i := 1; i < track.Len(); i++ {
		c := colors.Color(track.Points[i].RelativeAltitude)
		drawLine(img, area, at(track.Points[i-1]), at(track.Points[i]), c)
	}
	for _, p := range track.Points {
		fillCircle(img, area, at(p), pointRadius, colors.Color(p.RelativeAltitude))
	}

	home := track.Points[0]
	if track.HasHome {
		home = TrackPoint{Latitude: track.HomeLatitude, Longitude: track.HomeLongitude}
	}
	drawHomeMarker(img, area, at(home))
}

// drawLine draws a two pixel wide line using Bresenham's algorithm
func drawLine(img *image.RGBA, clip image.Rectangle, from, to image.Point, c color.Color) {
	dx := abs(to.X - from.X)
	dy := -abs(to.Y - from.Y)
	sx, sy := 1, 1
	if from.X > to.X {
		sx = -1
	}
	if from.Y > to.Y {
		sy = -1
	}

	e := dx + dy
	x, y := from.X, from.Y
	for {
		setClipped(img, clip, x, y, c)
		setClipped(img, clip, x+1, y, c)
		setClipped(img, clip, x, y+1, c)
		if x == to.X && y == to.Y {
			return
		}

		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

func fillCircle(img *image.RGBA, clip image.Rectangle, center image.Point, radius int, c color.Color) {
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y <= radius*radius {
				setClipped(img, clip, center.X+x, center.Y+y, c)
			}
		}
	}
}

// drawHomeMarker draws an outlined square with a cross in the middle
func drawHomeMarker(img *image.RGBA, clip image.Rectangle, center image.Point) {
	n := homeMarkerSize
	for i := -n; i <= n; i++ {
		setClipped(img, clip, center.X+i, center.Y-n, homeColor)
		setClipped(img, clip, center.X+i, center.Y+n, homeColor)
		setClipped(img, clip, center.X-n, center.Y+i, homeColor)
		setClipped(img, clip, center.X+n, center.Y+i, homeColor)
		if abs(i) < n/2 {
			setClipped(img, clip, center.X+i, center.Y, homeColor)
			setClipped(img, clip, center.X, center.Y+i, homeColor)
		}
	}
}

func setClipped(img *image.RGBA, clip image.Rectangle, x, y int, c color.Color) {
	if image.Pt(x, y).In(clip) {
		img.Set(x, y, c)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type annotatorConfig struct {
	DatetimeFormat string
	Location       *time.Location
	FontSize       float64
	Area           image.Rectangle
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) fontHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) annotate(img *image.RGBA, track *TrackData, proj *Projection, colors *ColorMapper) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func() error
	}{
		{"drawing north marker", func() error { return a.drawNorth() }},
		{"drawing scale bar", func() error { return a.drawScaleBar(img, proj) }},
		{"drawing altitude legend", func() error { return a.drawLegend(img, track, colors) }},
		{"drawing info bar", func() error { return a.drawInfoBar(img, track) }},
	}
	for _, op := range ops {
		if err := op.fn(); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	return nil
}

func (a *annotator) drawNorth() error {
	label := "N"
	width := font.MeasureString(a.fontFace, label).Round()
	pt := freetype.Pt(a.config.Area.Max.X-width-4, a.config.Area.Min.Y-6)
	_, err := a.context.DrawString(label, pt)
	return err
}

func (a *annotator) drawScaleBar(img *image.RGBA, proj *Projection) error {
	meters := niceDistance(float64(a.config.Area.Dx()) / 4 / proj.Scale())
	length := int(math.Round(meters * proj.Scale()))

	x0 := a.config.Area.Min.X
	y := a.config.Area.Max.Y + tickMarkWidth + 2
	for x := x0; x <= x0+length; x++ {
		img.Set(x, y, color.Black)
	}
	for i := 0; i < tickMarkWidth; i++ {
		img.Set(x0, y-i, color.Black)
		img.Set(x0+length, y-i, color.Black)
	}

	pt := freetype.Pt(x0+length+6, y+a.fontHeight()/3)
	_, err := a.context.DrawString(formatDistance(meters), pt)
	return err
}

func (a *annotator) drawLegend(img *image.RGBA, track *TrackData, colors *ColorMapper) error {
	area := a.config.Area
	x0 := area.Max.X + 12
	height := area.Dy()

	for y := 0; y < height; y++ {
		altitude := track.MaxAltitude - (track.MaxAltitude-track.MinAltitude)*float64(y)/float64(height-1)
		c := colors.Color(altitude)
		for x := x0; x < x0+legendWidth; x++ {
			img.Set(x, area.Min.Y+y, c)
		}
	}

	labels := []struct {
		y        int
		altitude float64
	}{
		{area.Min.Y, track.MaxAltitude},
		{area.Min.Y + height/2, (track.MaxAltitude + track.MinAltitude) / 2},
		{area.Max.Y, track.MinAltitude},
	}
	for _, l := range labels {
		for x := x0 + legendWidth; x < x0+legendWidth+tickMarkWidth; x++ {
			img.Set(x, l.y, color.Black)
		}

		pt := freetype.Pt(x0+legendWidth+tickMarkWidth+3, l.y+a.fontHeight()/3)
		if _, err := a.context.DrawString(formatAltitude(l.altitude), pt); err != nil {
			return err
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, track *TrackData) error {
	lines := []string{
		fmt.Sprintf("Drone: %s; Time: %s - %s (%s)",
			track.DroneID,
			track.TimestampStart.In(a.config.Location).Format(a.config.DatetimeFormat),
			track.TimestampEnd.In(a.config.Location).Format(a.config.DatetimeFormat),
			track.Duration().Round(time.Second)),
		fmt.Sprintf("Distance: %s; Max altitude: %s; Max speed: %s km/h; Points: %s",
			formatDistance(track.Distance),
			formatAltitude(track.MaxAltitude),
			humanize.FtoaWithDigits(track.MaxSpeed, 1),
			humanize.Comma(int64(track.Len()))),
	}

	lineHeight := a.fontHeight() + 2
	y := img.Bounds().Max.Y - len(lines)*lineHeight
	for _, line := range lines {
		y += lineHeight
		pt := freetype.Pt(a.config.Area.Min.X, y-a.fontFace.Metrics().Descent.Round())
		if _, err := a.context.DrawString(line, pt); err != nil {
			return fmt.Errorf("drawing info text: %w", err)
		}
	}
	return nil
}

// niceDistance rounds meters down to 1, 2 or 5 times a power of ten
func niceDistance(meters float64) float64 {
	if meters <= 1 {
		return 1
	}

	magnitude := math.Pow(10, math.Floor(math.Log10(meters)))
	for _, step := range []float64{5, 2, 1} {
		if step*magnitude <= meters {
			return step * magnitude
		}
	}
	return magnitude
}

func formatDistance(meters float64) string {
	return strings.TrimSpace(humanize.SIWithDigits(meters, 1, "m"))
}

func formatAltitude(meters float64) string {
	return humanize.FtoaWithDigits(meters, 1) + " m"
}
