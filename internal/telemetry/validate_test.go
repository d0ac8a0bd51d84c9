package telemetry

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

func decode(t *testing.T, payload string) RawSample {
	t.Helper()
	raw, err := Decode(strings.NewReader(payload))
	require.NoError(t, err)
	return raw
}

func TestValidate_Valid(t *testing.T) {
	raw := decode(t, `{"droneId":"U1","latitude":41.0,"longitude":29.0,"altitude":100,
		"speed":0,"heading":0,"battery":1,"timestamp":1000}`)

	s, err := Validate(raw, fixedNow)
	require.NoError(t, err)

	assert.Equal(t, "U1", s.DroneID)
	assert.Equal(t, 41.0, s.Latitude)
	assert.Equal(t, 29.0, s.Longitude)
	require.NotNil(t, s.Altitude)
	assert.Equal(t, 100.0, *s.Altitude)
	assert.Equal(t, int64(1000), s.Timestamp)
	assert.Equal(t, 1.0, s.Battery)
}

func TestValidate_MissingFields(t *testing.T) {
	base := map[string]string{
		"droneId":   `"U1"`,
		"latitude":  `41`,
		"longitude": `29`,
		"speed":     `1`,
		"heading":   `10`,
		"battery":   `0.5`,
		"timestamp": `1000`,
	}

	for field := range base {
		for _, variant := range []string{"absent", "null"} {
			t.Run(field+"/"+variant, func(t *testing.T) {
				var parts []string
				for k, v := range base {
					if k == field {
						if variant == "absent" {
							continue
						}
						v = "null"
					}
					parts = append(parts, `"`+k+`":`+v)
				}

				_, err := Validate(decode(t, "{"+strings.Join(parts, ",")+"}"), fixedNow)
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)

				var verr *ValidationError
				require.True(t, errors.As(err, &verr))
				assert.Equal(t, field, verr.Field)
				assert.Equal(t, "missing", verr.Reason)
			})
		}
	}
}

func TestValidate_AltitudeOptional(t *testing.T) {
	for _, payload := range []string{
		`{"droneId":"U1","latitude":41,"longitude":29,"speed":0,"heading":0,"battery":1,"timestamp":1}`,
		`{"droneId":"U1","latitude":41,"longitude":29,"altitude":null,"speed":0,"heading":0,"battery":1,"timestamp":1}`,
		`{"droneId":"U1","latitude":41,"longitude":29,"altitude":"n/a","speed":0,"heading":0,"battery":1,"timestamp":1}`,
	} {
		s, err := Validate(decode(t, payload), fixedNow)
		require.NoError(t, err)
		assert.Nil(t, s.Altitude, payload)
	}
}

func TestValidate_InvalidCoordinates(t *testing.T) {
	for _, payload := range []string{
		`{"droneId":"U1","latitude":"north","longitude":29,"speed":0,"heading":0,"battery":1,"timestamp":1}`,
		`{"droneId":"U1","latitude":41,"longitude":"","speed":0,"heading":0,"battery":1,"timestamp":1}`,
		`{"droneId":"U1","latitude":41,"longitude":true,"speed":0,"heading":0,"battery":1,"timestamp":1}`,
	} {
		_, err := Validate(decode(t, payload), fixedNow)
		assert.ErrorIs(t, err, ErrValidation, payload)
	}
}

func TestValidate_Coercion(t *testing.T) {
	raw := decode(t, `{"droneId":42,"latitude":"41.5","longitude":" 29.25 ","altitude":"120.5",
		"speed":"3.5","heading":-90,"battery":1.7,"timestamp":"soon"}`)

	s, err := Validate(raw, fixedNow)
	require.NoError(t, err)

	assert.Equal(t, "42", s.DroneID)
	assert.Equal(t, 41.5, s.Latitude)
	assert.Equal(t, 29.25, s.Longitude)
	require.NotNil(t, s.Altitude)
	assert.Equal(t, 120.5, *s.Altitude)
	assert.Equal(t, 3.5, s.Speed)
	assert.Equal(t, 270.0, s.Heading)
	assert.Equal(t, 1.0, s.Battery)
	assert.Equal(t, fixedNow().UnixMilli(), s.Timestamp)
}

func TestValidate_TimestampOutOfRange(t *testing.T) {
	for _, ts := range []string{`1e30`, `-1e30`, `-5000`, `9007199254740994`, `"1e19"`, `0`} {
		raw := decode(t, `{"droneId":"U1","latitude":41,"longitude":29,"speed":0,"heading":0,"battery":1,"timestamp":`+ts+`}`)

		s, err := Validate(raw, fixedNow)
		require.NoError(t, err, ts)
		assert.Equal(t, fixedNow().UnixMilli(), s.Timestamp, ts)
	}

	raw := decode(t, `{"droneId":"U1","latitude":41,"longitude":29,"speed":0,"heading":0,"battery":1,"timestamp":1700000000123.9}`)
	s, err := Validate(raw, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_123), s.Timestamp)
}

func TestValidate_NonNumericFields(t *testing.T) {
	base := map[string]string{"speed": `0`, "heading": `0`, "battery": `1`}

	for field := range base {
		t.Run(field, func(t *testing.T) {
			parts := []string{`"droneId":"U1"`, `"latitude":41`, `"longitude":29`, `"timestamp":1000`}
			for k, v := range base {
				if k == field {
					v = `"abc"`
				}
				parts = append(parts, `"`+k+`":`+v)
			}

			_, err := Validate(decode(t, "{"+strings.Join(parts, ",")+"}"), fixedNow)
			require.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, field, verr.Field)
			assert.Equal(t, "invalid", verr.Reason)
		})
	}
}

func TestValidate_HeadingAndBattery(t *testing.T) {
	cases := []struct {
		heading, battery         float64
		wantHeading, wantBattery float64
	}{
		{heading: 370, battery: -0.2, wantHeading: 10, wantBattery: 0},
		{heading: 360, battery: 0.42, wantHeading: 0, wantBattery: 0.42},
		{heading: 359.5, battery: 2, wantHeading: 359.5, wantBattery: 1},
	}

	for _, tc := range cases {
		raw := RawSample{
			DroneID:   Text("U1"),
			Latitude:  Number(1),
			Longitude: Number(2),
			Speed:     Number(0),
			Heading:   Number(tc.heading),
			Battery:   Number(tc.battery),
			Timestamp: Number(5),
		}
		s, err := Validate(raw, fixedNow)
		require.NoError(t, err)
		assert.Equal(t, tc.wantHeading, s.Heading)
		assert.Equal(t, tc.wantBattery, s.Battery)
	}
}

func TestValidate_EmptyDroneID(t *testing.T) {
	raw := RawSample{
		DroneID:   Text(""),
		Latitude:  Number(1),
		Longitude: Number(2),
		Speed:     Number(0),
		Heading:   Number(0),
		Battery:   Number(1),
		Timestamp: Number(5),
	}
	_, err := Validate(raw, fixedNow)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDecode_Errors(t *testing.T) {
	for _, payload := range []string{"", "null", "{not json"} {
		_, err := Decode(strings.NewReader(payload))
		assert.ErrorIs(t, err, ErrValidation, payload)
	}

	_, err := DecodeBytes(nil)
	assert.ErrorIs(t, err, ErrValidation)
}
