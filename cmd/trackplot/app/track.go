package app

import (
	"math"
	"time"

	"github.com/roman-kulish/drone-tracker/internal/geodesy"
	"github.com/roman-kulish/drone-tracker/internal/telemetry"
)

// TrackPoint is a single fix of a track
type TrackPoint struct {
	Latitude         float64
	Longitude        float64
	RelativeAltitude float64
	Timestamp        time.Time
}

// TrackData accumulates a drone's track and its statistics while samples
// are read from the store
type TrackData struct {
	DroneID        string
	Points         []TrackPoint
	TimestampStart time.Time
	TimestampEnd   time.Time

	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64

	MinAltitude float64 // Relative altitude in meters
	MaxAltitude float64 // Relative altitude in meters
	MaxSpeed    float64 // Calculated speed in km/h
	Distance    float64 // Ground distance in meters

	HomeLatitude  float64
	HomeLongitude float64
	HasHome       bool
}

func NewTrackData(droneID string) *TrackData {
	return &TrackData{
		DroneID:      droneID,
		MinLatitude:  math.Inf(1),
		MaxLatitude:  math.Inf(-1),
		MinLongitude: math.Inf(1),
		MaxLongitude: math.Inf(-1),
		MinAltitude:  math.Inf(1),
		MaxAltitude:  math.Inf(-1),
	}
}

// Update adds a sample to the track. Samples are expected in time order.
func (t *TrackData) Update(s *telemetry.Normalized) {
	p := TrackPoint{
		Latitude:         s.Latitude,
		Longitude:        s.Longitude,
		RelativeAltitude: s.RelativeAltitude,
		Timestamp:        s.Time(),
	}

	if len(t.Points) == 0 {
		t.TimestampStart = p.Timestamp
		t.HomeLatitude = s.HomeLatitude
		t.HomeLongitude = s.HomeLongitude
		t.HasHome = s.HomeLatitude != 0 || s.HomeLongitude != 0
	} else {
		prev := t.Points[len(t.Points)-1]
		t.Distance += geodesy.Distance(prev.Latitude, prev.Longitude, p.Latitude, p.Longitude)
	}
	t.TimestampEnd = p.Timestamp

	t.MinLatitude = math.Min(t.MinLatitude, p.Latitude)
	t.MaxLatitude = math.Max(t.MaxLatitude, p.Latitude)
	t.MinLongitude = math.Min(t.MinLongitude, p.Longitude)
	t.MaxLongitude = math.Max(t.MaxLongitude, p.Longitude)
	t.MinAltitude = math.Min(t.MinAltitude, p.RelativeAltitude)
	t.MaxAltitude = math.Max(t.MaxAltitude, p.RelativeAltitude)
	t.MaxSpeed = math.Max(t.MaxSpeed, s.CalculatedSpeed)

	t.Points = append(t.Points, p)
}

// Len returns the number of points in the track
func (t *TrackData) Len() int {
	return len(t.Points)
}

// Duration returns the time between the first and the last point
func (t *TrackData) Duration() time.Duration {
	return t.TimestampEnd.Sub(t.TimestampStart)
}

// Projection maps geographic coordinates of a track onto a square plot
// area. It is an equirectangular projection centred on the track, accurate
// enough for the few kilometres a drone covers.
type Projection struct {
	size      int
	centerLat float64
	centerLon float64
	cosLat    float64
	scale     float64 // pixels per meter
}

// NewProjection fits the track bounds into a size x size area leaving margin
// pixels on every side
func NewProjection(t *TrackData, size, margin int) *Projection {
	p := Projection{
		size:      size,
		centerLat: (t.MinLatitude + t.MaxLatitude) / 2,
		centerLon: (t.MinLongitude + t.MaxLongitude) / 2,
	}
	p.cosLat = math.Cos(p.centerLat * math.Pi / 180)

	width := p.metersX(t.MaxLongitude - t.MinLongitude)
	height := p.metersY(t.MaxLatitude - t.MinLatitude)
	extent := math.Max(width, height)
	if extent < 1 {
		extent = 1 // a hovering drone still gets a readable plot
	}

	p.scale = float64(size-2*margin) / extent
	return &p
}

func (p *Projection) metersX(dLon float64) float64 {
	return dLon * math.Pi / 180 * geodesy.EarthRadius * p.cosLat
}

func (p *Projection) metersY(dLat float64) float64 {
	return dLat * math.Pi / 180 * geodesy.EarthRadius
}

// Scale returns the number of pixels per meter
func (p *Projection) Scale() float64 {
	return p.scale
}

// Point returns the pixel position of a coordinate; north is up
func (p *Projection) Point(latitude, longitude float64) (x, y int) {
	half := float64(p.size) / 2
	x = int(math.Round(half + p.metersX(longitude-p.centerLon)*p.scale))
	y = int(math.Round(half - p.metersY(latitude-p.centerLat)*p.scale))
	return x, y
}
