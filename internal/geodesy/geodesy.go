// Package geodesy implements the spherical-earth helpers used to turn
// consecutive GPS fixes into distances, bearings and speeds.
package geodesy

import "math"

// EarthRadius is the mean radius of the Earth in meters
const EarthRadius = 6_371_000.0

// Distance returns the great-circle distance in meters between two points
// given in degrees, using the haversine formula. NaN inputs yield NaN.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	a := sinLat*sinLat + math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*sinLon*sinLon
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadius * c
}

// Bearing returns the initial bearing in degrees, normalized to [0, 360),
// for the great-circle path from the first point to the second.
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	dLon := toRadians(lon2 - lon1)
	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)

	y := math.Sin(dLon) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) - math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(dLon)

	return NormalizeDegrees(toDegrees(math.Atan2(y, x)))
}

// NormalizeDegrees wraps an angle into [0, 360)
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 { // -0.0 and tiny negatives rounding up
		deg = 0
	}
	return deg
}

// MetersPerSecondToKmh converts a speed in m/s to km/h
func MetersPerSecondToKmh(v float64) float64 {
	return v * 3.6
}

// Round1 rounds v to one decimal place, halves towards positive infinity.
func Round1(v float64) float64 {
	return math.Floor(v*10+0.5) / 10
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
