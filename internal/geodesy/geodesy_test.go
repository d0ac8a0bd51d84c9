package geodesy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	cases := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want, delta            float64
	}{
		{"same point", 41.0, 29.0, 41.0, 29.0, 0, 1e-9},
		{"one thousandth degree north", 41.0, 29.0, 41.001, 29.0, 111.195, 0.01},
		{"one degree along equator", 0, 0, 0, 1, 111_194.9, 1},
		{"London to Paris", 51.5074, -0.1278, 48.8566, 2.3522, 343_556, 1500},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Distance(tc.lat1, tc.lon1, tc.lat2, tc.lon2), tc.delta)
		})
	}
}

func TestDistance_Symmetric(t *testing.T) {
	a := Distance(40.7128, -74.0060, 34.0522, -118.2437)
	b := Distance(34.0522, -118.2437, 40.7128, -74.0060)
	assert.InDelta(t, a, b, 1e-6)
}

func TestDistance_NaN(t *testing.T) {
	assert.True(t, math.IsNaN(Distance(math.NaN(), 0, 1, 1)))
}

func TestBearing(t *testing.T) {
	assert.InDelta(t, 0, Bearing(41, 29, 42, 29), 1e-9)
	assert.InDelta(t, 180, Bearing(42, 29, 41, 29), 1e-9)
	assert.InDelta(t, 90, Bearing(0, 0, 0, 1), 1e-9)
	assert.InDelta(t, 270, Bearing(0, 1, 0, 0), 1e-9)

	for _, b := range []float64{Bearing(10, 10, 9, 9), Bearing(-10, 170, -11, -170)} {
		assert.GreaterOrEqual(t, b, 0.0)
		assert.Less(t, b, 360.0)
	}
}

func TestNormalizeDegrees(t *testing.T) {
	assert.Equal(t, 10.0, NormalizeDegrees(370))
	assert.Equal(t, 350.0, NormalizeDegrees(-10))
	assert.Equal(t, 0.0, NormalizeDegrees(360))
	assert.Equal(t, 0.0, NormalizeDegrees(-720))
}

func TestRound1(t *testing.T) {
	assert.Equal(t, 20.0, Round1(19.96))
	assert.Equal(t, 1.3, Round1(1.25))
	assert.Equal(t, -1.2, Round1(-1.25))
	assert.Equal(t, -0.2, Round1(-0.25))
	assert.Equal(t, -1.3, Round1(-1.26))
	assert.Equal(t, 120.0, Round1(120))
}

func TestConversions(t *testing.T) {
	assert.InDelta(t, 36.0, MetersPerSecondToKmh(10), 1e-9)
}
