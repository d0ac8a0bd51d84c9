package storage

import (
	"database/sql"
	"time"
)

type droneData struct {
	ID        string
	Name      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type sessionData struct {
	ID        int64
	DroneID   string
	StartTime time.Time
	EndTime   sql.NullTime
	CreatedAt time.Time
}

type telemetryData struct {
	DroneID          string
	Timestamp        int64
	Latitude         float64
	Longitude        float64
	Altitude         sql.NullFloat64
	AbsoluteAltitude float64
	RelativeAltitude float64
	HomeAltitude     float64
	HomeLatitude     float64
	HomeLongitude    float64
	Speed            float64
	CalculatedSpeed  float64
	Heading          float64
	Battery          float64
}
