package app

import (
	"image"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/drone-tracker/internal/geodesy"
)

func squareTrack() *TrackData {
	track := NewTrackData("D1")
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	coords := [][2]float64{{41.0, 29.0}, {41.001, 29.0}, {41.001, 29.001}, {41.0, 29.001}}
	for i, c := range coords {
		track.Update(normalized("D1", base+int64(i)*1000, c[0], c[1], float64(i*10)))
	}
	return track
}

func TestTrackData_Update(t *testing.T) {
	track := squareTrack()

	assert.Equal(t, 4, track.Len())
	assert.Equal(t, 3*time.Second, track.Duration())
	assert.Equal(t, 41.0, track.MinLatitude)
	assert.Equal(t, 41.001, track.MaxLatitude)
	assert.Equal(t, 0.0, track.MinAltitude)
	assert.Equal(t, 30.0, track.MaxAltitude)
	assert.Equal(t, 15.0, track.MaxSpeed)
	assert.True(t, track.HasHome)

	expected := geodesy.Distance(41.0, 29.0, 41.001, 29.0) +
		geodesy.Distance(41.001, 29.0, 41.001, 29.001) +
		geodesy.Distance(41.001, 29.001, 41.0, 29.001)
	assert.InDelta(t, expected, track.Distance, 1e-6)
}

func TestProjection(t *testing.T) {
	track := squareTrack()
	proj := NewProjection(track, 500, 50)

	// the track is taller than wide, latitude spans the plot height
	_, top := proj.Point(41.001, 29.0)
	_, bottom := proj.Point(41.0, 29.0)
	assert.Equal(t, 50, top)
	assert.Equal(t, 450, bottom)

	left, _ := proj.Point(41.0, 29.0)
	right, _ := proj.Point(41.0, 29.001)
	assert.Less(t, left, right)
	assert.Less(t, right-left, bottom-top)

	cx, cy := proj.Point(41.0005, 29.0005)
	assert.Equal(t, 250, cx)
	assert.Equal(t, 250, cy)
}

func TestProjection_SinglePoint(t *testing.T) {
	track := NewTrackData("D1")
	track.Update(normalized("D1", 0, 41, 29, 0))

	proj := NewProjection(track, 300, 20)
	assert.False(t, math.IsInf(proj.Scale(), 0))
	x, y := proj.Point(41, 29)
	assert.Equal(t, 150, x)
	assert.Equal(t, 150, y)
}

func TestColorMapper(t *testing.T) {
	for theme := range themes {
		cm := NewColorMapper(theme, 0, 100)
		assert.Equal(t, cm.Color(-10), cm.Color(0), theme)
		assert.Equal(t, cm.Color(500), cm.Color(100), theme)
		assert.NotEqual(t, cm.Color(0), cm.Color(100), theme)
	}

	flat := NewColorMapper(ClassicTheme, 20, 20)
	assert.Equal(t, flat.Color(0), flat.Color(20))
	assert.Equal(t, flat.Color(math.NaN()), flat.Color(20))
}

func TestNiceDistance(t *testing.T) {
	assert.Equal(t, 1.0, niceDistance(0.3))
	assert.Equal(t, 2.0, niceDistance(3))
	assert.Equal(t, 50.0, niceDistance(73))
	assert.Equal(t, 100.0, niceDistance(199))
	assert.Equal(t, 200.0, niceDistance(200))
	assert.Equal(t, 5000.0, niceDistance(9999))
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "1.5 km", formatDistance(1500))
	assert.Equal(t, "12.5 m", formatAltitude(12.5))
}

func TestTrackRenderer_Render(t *testing.T) {
	renderer, err := NewTrackRenderer(RenderConfig{Size: minSize, Location: time.UTC})
	require.NoError(t, err)

	track := squareTrack()
	img, err := renderer.Render(track)
	require.NoError(t, err)

	area := renderer.PlotArea()
	assert.Equal(t, image.Rect(defaultLeftBorder, defaultTopBorder, defaultLeftBorder+minSize, defaultTopBorder+minSize), area)

	// the home marker is black, the last point carries the top altitude colour
	proj := NewProjection(track, minSize, plotMargin)
	hx, hy := proj.Point(track.HomeLatitude, track.HomeLongitude)
	assert.Equal(t, color.RGBAModel.Convert(homeColor), img.At(area.Min.X+hx-homeMarkerSize, area.Min.Y+hy))

	colors := NewColorMapper(ClassicTheme, track.MinAltitude, track.MaxAltitude)
	last := track.Points[track.Len()-1]
	lx, ly := proj.Point(last.Latitude, last.Longitude)
	assert.Equal(t, color.RGBAModel.Convert(colors.Color(last.RelativeAltitude)), img.At(area.Min.X+lx, area.Min.Y+ly))
}

func TestTrackRenderer_Errors(t *testing.T) {
	_, err := NewTrackRenderer(RenderConfig{Size: 100})
	assert.Error(t, err)

	renderer, err := NewTrackRenderer(RenderConfig{})
	require.NoError(t, err)
	_, err = renderer.Render(NewTrackData("D1"))
	assert.Error(t, err)
}
