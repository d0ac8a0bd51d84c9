package storage

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

const (
	insertDroneIfAbsentSQL = `
INSERT INTO drones (id,
                    name,
                    status,
                    created_at,
                    updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`

	upsertDroneSQL = `
INSERT INTO drones (id,
                    name,
                    status,
                    created_at,
                    updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name       = excluded.name,
                               status     = excluded.status,
                               updated_at = excluded.updated_at`

	selectDroneSQL = `
SELECT id,
       name,
       status,
       created_at,
       updated_at
FROM drones
WHERE id = ?`

	selectDronesSQL = `
SELECT id,
       name,
       status,
       created_at,
       updated_at
FROM drones
ORDER BY created_at DESC, id`

	insertSessionSQL = `
INSERT INTO flight_sessions (drone_id,
                             start_time,
                             created_at)
VALUES (?, ?, ?)`

	endSessionSQL = `
UPDATE flight_sessions
SET end_time = ?
WHERE id = ?
  AND end_time IS NULL`

	selectSessionSQL = `
SELECT id,
       drone_id,
       start_time,
       end_time,
       created_at
FROM flight_sessions
WHERE id = ?`

	selectSessionsSQL = `
SELECT id,
       drone_id,
       start_time,
       end_time,
       created_at
FROM flight_sessions
ORDER BY start_time DESC, id DESC
LIMIT ?`

	selectDroneSessionsSQL = `
SELECT id,
       drone_id,
       start_time,
       end_time,
       created_at
FROM flight_sessions
WHERE drone_id = ?
ORDER BY start_time DESC, id DESC
LIMIT ?`

	insertTelemetrySQL = `
INSERT INTO telemetry (drone_id,
                       timestamp,
                       latitude,
                       longitude,
                       altitude,
                       absolute_altitude,
                       relative_altitude,
                       home_altitude,
                       home_latitude,
                       home_longitude,
                       speed,
                       calculated_speed,
                       heading,
                       battery)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	telemetryColumnsSQL = `
SELECT drone_id,
       timestamp,
       latitude,
       longitude,
       altitude,
       absolute_altitude,
       relative_altitude,
       home_altitude,
       home_latitude,
       home_longitude,
       speed,
       calculated_speed,
       heading,
       battery
FROM telemetry`

	selectLatestTelemetrySQL = telemetryColumnsSQL + `
WHERE drone_id = ?
ORDER BY timestamp DESC, id DESC
LIMIT ?`

	selectTrackSQL = telemetryColumnsSQL + `
WHERE drone_id = ?
  AND timestamp BETWEEN ? AND ?
ORDER BY timestamp, id`
)
