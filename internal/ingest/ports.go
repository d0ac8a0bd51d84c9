package ingest

import (
	"context"

	"github.com/roman-kulish/drone-tracker/internal/flight"
	"github.com/roman-kulish/drone-tracker/internal/telemetry"
)

// Registry guarantees a drone record exists before telemetry is attributed
// to it.
type Registry interface {
	// EnsureDrone registers the drone with defaults unless it already
	// exists. It must be idempotent.
	EnsureDrone(ctx context.Context, droneID string) (*flight.Drone, error)
}

// SampleStore is the append-only durable history of normalized samples.
type SampleStore interface {
	AppendSample(ctx context.Context, sample *telemetry.Normalized) error
}

// Publisher fans normalized samples out to real-time subscribers. Delivery
// is best-effort.
type Publisher interface {
	// Broadcast delivers the payload to every subscriber.
	Broadcast(event string, payload any)

	// Send delivers the payload to a single subscriber identified by handle.
	Send(handle, event string, payload any) error
}

// Metrics receives the outcome of every ingested sample.
type Metrics interface {
	SampleIngested()
	SampleRejected(reason string)
	SamplePersisted()
	PersistFailed()
}
