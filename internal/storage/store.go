package storage

import (
	"context"
	"errors"
	"time"

	"github.com/roman-kulish/drone-tracker/internal/flight"
	"github.com/roman-kulish/drone-tracker/internal/telemetry"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// SampleStore is the append-only durable history of normalized samples
type SampleStore interface {
	// AppendSample persists a single normalized telemetry sample.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - sample: Normalized sample, raw fields plus derived metrics
	//
	// Returns:
	//   - error: If the write fails or context is cancelled
	AppendSample(ctx context.Context, sample *telemetry.Normalized) error

	// Close releases all resources held by the store.
	// It is safe to call Close multiple times.
	Close() error
}

// Store provides access to the drone registry, flight sessions and
// telemetry history.
type Store interface {
	SampleStore

	// EnsureDrone registers a drone with a default name and the in-flight
	// status unless it is already known. It never modifies an existing drone.
	//
	// Returns:
	//   - drone: The stored drone
	//   - error: If the operation fails or context is cancelled
	EnsureDrone(ctx context.Context, droneID string) (drone *flight.Drone, err error)

	// UpsertDrone creates a drone or updates the name and status of an
	// existing one.
	UpsertDrone(ctx context.Context, droneID, name string, status flight.Status) (drone *flight.Drone, err error)

	// Drone returns a drone by its ID, ErrNotFound if it does not exist.
	Drone(ctx context.Context, droneID string) (drone *flight.Drone, err error)

	// Drones returns all drones, most recently registered first.
	Drones(ctx context.Context) (drones []*flight.Drone, err error)

	// LatestSamples returns up to limit most recent samples of a drone,
	// newest first.
	LatestSamples(ctx context.Context, droneID string, limit int) (samples []*telemetry.Normalized, err error)

	// ReadTrack returns a reader over a drone's samples in time order.
	// The returned reader must be closed after use.
	ReadTrack(ctx context.Context, droneID string, opts ...ReaderOption) (*SqliteTrackReader, error)

	// StartSession opens a new flight session for a drone.
	StartSession(ctx context.Context, droneID string, start time.Time) (session *flight.Session, err error)

	// EndSession closes a flight session. Ending an already ended session
	// returns it unchanged. Returns ErrNotFound if the session does not exist.
	EndSession(ctx context.Context, id int64, end time.Time) (session *flight.Session, err error)

	// Session returns a flight session by its ID, ErrNotFound if it does
	// not exist.
	Session(ctx context.Context, id int64) (session *flight.Session, err error)

	// Sessions returns up to limit flight sessions, most recent first,
	// optionally restricted to a single drone when droneID is not empty.
	Sessions(ctx context.Context, droneID string, limit int) (sessions []*flight.Session, err error)
}
