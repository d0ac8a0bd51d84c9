// Package ingest is the single entry point for arriving telemetry. It
// validates a raw payload, derives speed and altitude, publishes the
// normalized sample and persists it at a bounded rate.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roman-kulish/drone-tracker/internal/derive"
	"github.com/roman-kulish/drone-tracker/internal/telemetry"
)

const (
	// DefaultPersistInterval is the minimum time between two durable writes
	// of the same drone
	DefaultPersistInterval = 2000 * time.Millisecond

	// EventTelemetryUpdate is sent to the subscriber the sample came from
	EventTelemetryUpdate = "telemetry_update"

	// EventTelemetryBroadcast is broadcast to every subscriber
	EventTelemetryBroadcast = "drone:telemetry:broadcast"

	tracerName = "github.com/roman-kulish/drone-tracker/internal/ingest"
)

// WithStore sets the durable sample store. Without one nothing is persisted.
func WithStore(store SampleStore) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithLogger sets the logger for the orchestrator
func WithLogger(logger *slog.Logger) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.logger = logger.With(slog.String("component", "ingest"))
	}
}

// WithPersistInterval overrides the per-drone persistence throttle. A zero
// interval persists every sample.
func WithPersistInterval(d time.Duration) func(*Orchestrator) {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.persistInterval = d
		}
	}
}

// WithClock sets the wall clock used for the persistence throttle and for
// samples without a usable timestamp
func WithClock(now func() time.Time) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer overrides the tracer, the global tracer provider is used by
// default
func WithTracer(t trace.Tracer) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// Orchestrator ingests raw telemetry samples
type Orchestrator struct {
	engine    *derive.Engine
	registry  Registry
	publisher Publisher
	store     SampleStore
	metrics   Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time

	persistInterval time.Duration

	mu            sync.Mutex
	lastPersisted map[string]time.Time
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(engine *derive.Engine, registry Registry, publisher Publisher, options ...func(*Orchestrator)) *Orchestrator {
	o := Orchestrator{
		engine:          engine,
		registry:        registry,
		publisher:       publisher,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:             time.Now,
		persistInterval: DefaultPersistInterval,
		lastPersisted:   make(map[string]time.Time),
	}

	for _, option := range options {
		option(&o)
	}

	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	return &o
}

// Ingest processes a single raw sample. origin identifies the subscriber
// the sample arrived from and is empty for request/response transports.
//
// A *telemetry.ValidationError is returned for malformed samples, before
// any state is touched. A registry failure is returned as is. Persistence
// failures are logged and never returned: the sample has already been
// published at that point.
func (o *Orchestrator) Ingest(ctx context.Context, raw telemetry.RawSample, origin string) (*telemetry.Normalized, error) {
	ctx, span := o.tracer.Start(ctx, "ingest.Sample")
	defer span.End()

	sample, err := telemetry.Validate(raw, o.now)
	if err != nil {
		o.reject(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid telemetry")
		return nil, err
	}
	span.SetAttributes(attribute.String("drone.id", sample.DroneID))

	if _, err = o.registry.EnsureDrone(ctx, sample.DroneID); err != nil {
		err = fmt.Errorf("registering drone '%s': %w", sample.DroneID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "registry failure")
		return nil, err
	}

	derived := o.engine.Process(ctx, sample.DroneID, derive.Fix{
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Altitude:  sample.Altitude,
		Timestamp: sample.Timestamp,
	})

	normalized := assemble(&sample, derived)

	if origin != "" {
		if err = o.publisher.Send(origin, EventTelemetryUpdate, normalized); err != nil {
			o.logger.Debug(fmt.Sprintf("sending telemetry update: %s", err.Error()),
				slog.String("origin", origin))
		}
	}
	o.publisher.Broadcast(EventTelemetryBroadcast, normalized)

	if o.metrics != nil {
		o.metrics.SampleIngested()
	}

	if err = o.persist(ctx, normalized); err != nil {
		span.RecordError(err)
		o.logger.Error(err.Error(), slog.String("drone_id", normalized.DroneID))
	}

	return normalized, nil
}

// IngestBytes decodes a JSON payload and ingests it
func (o *Orchestrator) IngestBytes(ctx context.Context, payload []byte, origin string) (*telemetry.Normalized, error) {
	raw, err := telemetry.DecodeBytes(payload)
	if err != nil {
		o.reject(err)
		return nil, err
	}
	return o.Ingest(ctx, raw, origin)
}

// ResetUnit discards the derivation state and persistence throttle of a
// drone, so the next sample establishes a fresh home point.
func (o *Orchestrator) ResetUnit(droneID string) {
	o.engine.ResetUnit(droneID)

	o.mu.Lock()
	delete(o.lastPersisted, droneID)
	o.mu.Unlock()

	o.logger.Info("drone state reset", slog.String("drone_id", droneID))
}

// ResetAll discards the derivation state of every drone
func (o *Orchestrator) ResetAll() {
	o.engine.ResetAll()

	o.mu.Lock()
	clear(o.lastPersisted)
	o.mu.Unlock()

	o.logger.Info("all drone state reset")
}

func (o *Orchestrator) reject(err error) {
	if o.metrics == nil {
		return
	}

	reason := "invalid"
	var ve *telemetry.ValidationError
	if errors.As(err, &ve) && ve.Reason != "" {
		reason = ve.Reason
	}
	o.metrics.SampleRejected(reason)
}

// due reports whether a drone's sample should be written now and, if so,
// marks the write. The mark is kept even if the write fails.
func (o *Orchestrator) due(droneID string) bool {
	now := o.now()

	o.mu.Lock()
	defer o.mu.Unlock()

	if last, ok := o.lastPersisted[droneID]; ok && now.Sub(last) < o.persistInterval {
		return false
	}
	o.lastPersisted[droneID] = now
	return true
}

func (o *Orchestrator) persist(ctx context.Context, n *telemetry.Normalized) error {
	if o.store == nil || !o.due(n.DroneID) {
		return nil
	}

	if err := o.store.AppendSample(ctx, n); err != nil {
		if o.metrics != nil {
			o.metrics.PersistFailed()
		}
		return &PersistenceError{DroneID: n.DroneID, Timestamp: n.Timestamp, Err: err}
	}

	if o.metrics != nil {
		o.metrics.SamplePersisted()
	}
	return nil
}

func assemble(s *telemetry.Sample, d derive.Derived) *telemetry.Normalized {
	return &telemetry.Normalized{
		DroneID:          s.DroneID,
		Latitude:         s.Latitude,
		Longitude:        s.Longitude,
		Altitude:         s.Altitude,
		AbsoluteAltitude: d.Absolute,
		RelativeAltitude: d.Relative,
		HomeAltitude:     d.Home,
		HomeLatitude:     d.HomeLatitude,
		HomeLongitude:    d.HomeLongitude,
		Speed:            s.Speed,
		CalculatedSpeed:  d.CalculatedSpeed,
		Heading:          s.Heading,
		Battery:          s.Battery,
		Timestamp:        s.Timestamp,
	}
}
