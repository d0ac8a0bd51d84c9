package derive

import "time"

const (
	// DefaultMinInterval is the shortest time between fixes for which a new
	// speed is computed; closer fixes repeat the previous speed.
	DefaultMinInterval = 500 * time.Millisecond

	// DefaultMinDistance is the GPS noise floor in meters below which a unit
	// is considered stationary.
	DefaultMinDistance = 2.0

	// DefaultMaxSpeed is the plausibility ceiling in km/h; faster readings are
	// treated as outliers.
	DefaultMaxSpeed = 200.0
)

// Thresholds holds the noise and plausibility limits of speed derivation
type Thresholds struct {
	MinInterval time.Duration `yaml:"minInterval" json:"minInterval"`
	MinDistance float64       `yaml:"minDistance" json:"minDistance"` // meters
	MaxSpeed    float64       `yaml:"maxSpeed" json:"maxSpeed"`       // km/h
}

// DefaultThresholds returns the thresholds tuned for small drones
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinInterval: DefaultMinInterval,
		MinDistance: DefaultMinDistance,
		MaxSpeed:    DefaultMaxSpeed,
	}
}

// UnitState is the reference state kept for a single tracked unit between
// samples. Home fields are fixed by the first sample and never change until
// the unit is reset.
type UnitState struct {
	LastLatitude         float64 // Last accepted latitude in degrees
	LastLongitude        float64 // Last accepted longitude in degrees
	LastAbsoluteAltitude float64 // Last absolute altitude in meters
	LastTimestamp        int64   // Epoch milliseconds of the last accepted fix
	LastCalculatedSpeed  float64 // Last emitted speed in km/h

	HomeAltitude  float64 // Reference altitude in meters
	HomeLatitude  float64 // Position at first contact
	HomeLongitude float64
}

// Fix is the positional part of a sample that drives derivation
type Fix struct {
	Latitude  float64
	Longitude float64
	Altitude  *float64 // Device reported altitude, nil when not reported
	Timestamp int64    // Epoch milliseconds
}

// Altitude is the altitude decomposition of a sample
type Altitude struct {
	Absolute      float64 // Above sea level, meters
	Relative      float64 // Above home, meters
	Home          float64 // Home altitude, meters
	HomeLatitude  float64
	HomeLongitude float64
}

// Derived holds every metric derived for a sample
type Derived struct {
	CalculatedSpeed float64 // km/h
	Altitude
}
