package telemetry

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Field is a raw JSON value that remembers whether its key was present in
// the payload. Numeric fields accept both JSON numbers and numeric strings.
type Field struct {
	raw json.RawMessage
	set bool
}

// Number returns a Field holding a JSON number
func Number(v float64) Field {
	return Field{raw: json.RawMessage(strconv.FormatFloat(v, 'f', -1, 64)), set: true}
}

// Text returns a Field holding a JSON string
func Text(s string) Field {
	p, _ := json.Marshal(s)
	return Field{raw: p, set: true}
}

// Null returns a Field holding an explicit JSON null
func Null() Field {
	return Field{raw: json.RawMessage("null"), set: true}
}

func (f *Field) UnmarshalJSON(p []byte) error {
	f.raw = append(f.raw[:0], p...)
	f.set = true
	return nil
}

func (f Field) MarshalJSON() ([]byte, error) {
	if !f.set || len(f.raw) == 0 {
		return []byte("null"), nil
	}
	return f.raw, nil
}

// IsZero reports whether the key was absent, so omitempty skips it
func (f Field) IsZero() bool {
	return !f.set
}

// Missing reports whether the value is absent or null
func (f Field) Missing() bool {
	return !f.set || len(f.raw) == 0 || bytes.Equal(bytes.TrimSpace(f.raw), []byte("null"))
}

// Float coerces the value to a finite number. Strings are parsed, booleans
// and other JSON types are not numbers.
func (f Field) Float() (float64, bool) {
	if f.Missing() {
		return 0, false
	}

	raw := bytes.TrimSpace(f.raw)

	var v float64
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		v = n

	default:
		if err := json.Unmarshal(raw, &v); err != nil {
			return 0, false
		}
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// String renders the value as text: strings unquoted, everything else as
// its JSON literal.
func (f Field) String() string {
	if f.Missing() {
		return ""
	}

	raw := bytes.TrimSpace(f.raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// RawSample is an inbound telemetry payload as sent by a tracking unit,
// before validation.
type RawSample struct {
	DroneID   Field `json:"droneId,omitzero"`
	Latitude  Field `json:"latitude,omitzero"`
	Longitude Field `json:"longitude,omitzero"`
	Altitude  Field `json:"altitude,omitzero"`
	Speed     Field `json:"speed,omitzero"`
	Heading   Field `json:"heading,omitzero"`
	Battery   Field `json:"battery,omitzero"`
	Timestamp Field `json:"timestamp,omitzero"`
}

// Sample is a validated telemetry sample
type Sample struct {
	DroneID   string   // Tracking unit identifier
	Latitude  float64  // GPS latitude in degrees
	Longitude float64  // GPS longitude in degrees
	Altitude  *float64 // Device reported altitude in meters, nil when not reported
	Speed     float64  // Device reported speed in m/s, informational
	Heading   float64  // Heading in degrees, [0, 360)
	Battery   float64  // Battery level, [0, 1]
	Timestamp int64    // Epoch milliseconds
}

// Time returns the sample timestamp as time.Time
func (s *Sample) Time() time.Time {
	return time.UnixMilli(s.Timestamp).UTC()
}

// Normalized is a validated sample merged with its derived metrics. This is
// the record published to observers and persisted.
type Normalized struct {
	DroneID          string   `json:"droneId"`
	Latitude         float64  `json:"latitude"`
	Longitude        float64  `json:"longitude"`
	Altitude         *float64 `json:"altitude"`         // Raw altitude as reported by the device
	AbsoluteAltitude float64  `json:"absoluteAltitude"` // Altitude above sea level in meters
	RelativeAltitude float64  `json:"relativeAltitude"` // Altitude above the home point in meters
	HomeAltitude     float64  `json:"homeAltitude"`     // Home point altitude in meters
	HomeLatitude     float64  `json:"homeLatitude"`     // Home point latitude in degrees
	HomeLongitude    float64  `json:"homeLongitude"`    // Home point longitude in degrees
	Speed            float64  `json:"speed"`            // Raw speed as reported by the device in m/s
	CalculatedSpeed  float64  `json:"calculatedSpeed"`  // Ground speed derived from GPS fixes in km/h
	Heading          float64  `json:"heading"`
	Battery          float64  `json:"battery"`
	Timestamp        int64    `json:"timestamp"` // Epoch milliseconds
}

// Time returns the sample timestamp as time.Time
func (n *Normalized) Time() time.Time {
	return time.UnixMilli(n.Timestamp).UTC()
}
