package storage

import (
	"database/sql"

	"github.com/roman-kulish/drone-tracker/internal/flight"
	"github.com/roman-kulish/drone-tracker/internal/telemetry"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func toTelemetryData(n *telemetry.Normalized) *telemetryData {
	var altitude sql.NullFloat64
	if n.Altitude != nil {
		altitude.Float64 = *n.Altitude
		altitude.Valid = true
	}

	return &telemetryData{
		DroneID:          n.DroneID,
		Timestamp:        n.Timestamp,
		Latitude:         n.Latitude,
		Longitude:        n.Longitude,
		Altitude:         altitude,
		AbsoluteAltitude: n.AbsoluteAltitude,
		RelativeAltitude: n.RelativeAltitude,
		HomeAltitude:     n.HomeAltitude,
		HomeLatitude:     n.HomeLatitude,
		HomeLongitude:    n.HomeLongitude,
		Speed:            n.Speed,
		CalculatedSpeed:  n.CalculatedSpeed,
		Heading:          n.Heading,
		Battery:          n.Battery,
	}
}

func scanTelemetry(s scanner) (*telemetry.Normalized, error) {
	var d telemetryData
	err := s.Scan(
		&d.DroneID,
		&d.Timestamp,
		&d.Latitude,
		&d.Longitude,
		&d.Altitude,
		&d.AbsoluteAltitude,
		&d.RelativeAltitude,
		&d.HomeAltitude,
		&d.HomeLatitude,
		&d.HomeLongitude,
		&d.Speed,
		&d.CalculatedSpeed,
		&d.Heading,
		&d.Battery,
	)
	if err != nil {
		return nil, err
	}

	n := telemetry.Normalized{
		DroneID:          d.DroneID,
		Latitude:         d.Latitude,
		Longitude:        d.Longitude,
		AbsoluteAltitude: d.AbsoluteAltitude,
		RelativeAltitude: d.RelativeAltitude,
		HomeAltitude:     d.HomeAltitude,
		HomeLatitude:     d.HomeLatitude,
		HomeLongitude:    d.HomeLongitude,
		Speed:            d.Speed,
		CalculatedSpeed:  d.CalculatedSpeed,
		Heading:          d.Heading,
		Battery:          d.Battery,
		Timestamp:        d.Timestamp,
	}
	if d.Altitude.Valid {
		n.Altitude = &d.Altitude.Float64
	}
	return &n, nil
}

func scanDrone(s scanner) (*flight.Drone, error) {
	var d droneData
	if err := s.Scan(&d.ID, &d.Name, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}

	return &flight.Drone{
		ID:        d.ID,
		Name:      d.Name,
		Status:    flight.Status(d.Status),
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}

func scanSession(s scanner) (*flight.Session, error) {
	var d sessionData
	if err := s.Scan(&d.ID, &d.DroneID, &d.StartTime, &d.EndTime, &d.CreatedAt); err != nil {
		return nil, err
	}

	sess := flight.Session{
		ID:        d.ID,
		DroneID:   d.DroneID,
		StartTime: d.StartTime.UTC(),
		CreatedAt: d.CreatedAt.UTC(),
	}
	if d.EndTime.Valid {
		end := d.EndTime.Time.UTC()
		sess.EndTime = &end
	}
	return &sess, nil
}
