package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/roman-kulish/drone-tracker/internal/geodesy"
)

// maxTimestamp is the largest integer a float64 holds exactly. Timestamps
// above it, or not positive, are replaced by now.
const maxTimestamp = 1 << 53

// ErrValidation matches every *ValidationError with errors.Is
var ErrValidation = errors.New("invalid telemetry")

// ValidationError reports a malformed or incomplete telemetry payload
type ValidationError struct {
	Field  string // Offending field, empty for payload level problems
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation.Error(), e.Reason, e.Field)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Decode reads a single JSON telemetry payload
func Decode(r io.Reader) (RawSample, error) {
	var raw *RawSample
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return RawSample{}, &ValidationError{Reason: "empty payload"}
		}
		return RawSample{}, &ValidationError{Reason: "malformed payload", Err: err}
	}
	if raw == nil {
		return RawSample{}, &ValidationError{Reason: "empty payload"}
	}
	return *raw, nil
}

// DecodeBytes is Decode for an in-memory payload
func DecodeBytes(p []byte) (RawSample, error) {
	var raw *RawSample
	if len(p) == 0 {
		return RawSample{}, &ValidationError{Reason: "empty payload"}
	}
	if err := json.Unmarshal(p, &raw); err != nil {
		return RawSample{}, &ValidationError{Reason: "malformed payload", Err: err}
	}
	if raw == nil {
		return RawSample{}, &ValidationError{Reason: "empty payload"}
	}
	return *raw, nil
}

// Validate checks the required fields of a raw payload and coerces it into
// a Sample. Altitude is optional. Speed, heading and battery must be numeric.
// Heading is wrapped into [0, 360), battery clamped into [0, 1], and a
// timestamp that is not a usable epoch millisecond value is replaced by now.
func Validate(raw RawSample, now func() time.Time) (Sample, error) {
	if now == nil {
		now = time.Now
	}

	required := []struct {
		name  string
		field Field
	}{
		{"droneId", raw.DroneID},
		{"latitude", raw.Latitude},
		{"longitude", raw.Longitude},
		{"speed", raw.Speed},
		{"heading", raw.Heading},
		{"battery", raw.Battery},
		{"timestamp", raw.Timestamp},
	}
	for _, r := range required {
		if r.field.Missing() {
			return Sample{}, &ValidationError{Field: r.name, Reason: "missing"}
		}
	}

	s := Sample{DroneID: raw.DroneID.String()}
	if s.DroneID == "" {
		return Sample{}, &ValidationError{Field: "droneId", Reason: "empty"}
	}

	var ok bool
	if s.Latitude, ok = raw.Latitude.Float(); !ok {
		return Sample{}, &ValidationError{Field: "latitude", Reason: "invalid"}
	}
	if s.Longitude, ok = raw.Longitude.Float(); !ok {
		return Sample{}, &ValidationError{Field: "longitude", Reason: "invalid"}
	}

	if altitude, ok := raw.Altitude.Float(); ok {
		s.Altitude = &altitude
	}

	if s.Speed, ok = raw.Speed.Float(); !ok {
		return Sample{}, &ValidationError{Field: "speed", Reason: "invalid"}
	}

	heading, ok := raw.Heading.Float()
	if !ok {
		return Sample{}, &ValidationError{Field: "heading", Reason: "invalid"}
	}
	s.Heading = geodesy.NormalizeDegrees(heading)

	battery, ok := raw.Battery.Float()
	if !ok {
		return Sample{}, &ValidationError{Field: "battery", Reason: "invalid"}
	}
	s.Battery = math.Max(0, math.Min(1, battery))

	if ts, ok := raw.Timestamp.Float(); ok && ts >= 1 && ts <= maxTimestamp {
		s.Timestamp = int64(ts)
	} else {
		s.Timestamp = now().UnixMilli()
	}

	return s, nil
}
