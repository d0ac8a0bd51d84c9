package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/drone-tracker/internal/derive"
	"github.com/roman-kulish/drone-tracker/internal/flight"
	"github.com/roman-kulish/drone-tracker/internal/telemetry"
)

type fakeRegistry struct {
	mu   sync.Mutex
	seen map[string]int
	err  error
}

func (r *fakeRegistry) EnsureDrone(_ context.Context, droneID string) (*flight.Drone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if r.seen == nil {
		r.seen = make(map[string]int)
	}
	r.seen[droneID]++
	return &flight.Drone{ID: droneID, Name: flight.DefaultName(droneID), Status: flight.StatusInFlight}, nil
}

type message struct {
	handle  string
	event   string
	payload any
}

type fakePublisher struct {
	mu         sync.Mutex
	broadcasts []message
	sent       []message
	sendErr    error
}

func (p *fakePublisher) Broadcast(event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcasts = append(p.broadcasts, message{event: event, payload: payload})
}

func (p *fakePublisher) Send(handle, event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, message{handle: handle, event: event, payload: payload})
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	samples []*telemetry.Normalized
	err     error
}

func (s *fakeStore) AppendSample(_ context.Context, n *telemetry.Normalized) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.samples = append(s.samples, n)
	return nil
}

type fakeMetrics struct {
	ingested, persisted, failed int
	rejected                    map[string]int
}

func (m *fakeMetrics) SampleIngested() { m.ingested++ }
func (m *fakeMetrics) SampleRejected(reason string) {
	if m.rejected == nil {
		m.rejected = make(map[string]int)
	}
	m.rejected[reason]++
}
func (m *fakeMetrics) SamplePersisted() { m.persisted++ }
func (m *fakeMetrics) PersistFailed()   { m.failed++ }

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	engine    *derive.Engine
	registry  *fakeRegistry
	publisher *fakePublisher
	store     *fakeStore
	metrics   *fakeMetrics
	clock     *clock
	o         *Orchestrator
}

func newFixture(options ...func(*Orchestrator)) *fixture {
	f := fixture{
		engine:    derive.New(nil),
		registry:  &fakeRegistry{},
		publisher: &fakePublisher{},
		store:     &fakeStore{},
		metrics:   &fakeMetrics{},
		clock:     &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	options = append([]func(*Orchestrator){
		WithStore(f.store),
		WithMetrics(f.metrics),
		WithClock(f.clock.now),
	}, options...)
	f.o = NewOrchestrator(f.engine, f.registry, f.publisher, options...)
	return &f
}

func raw(droneID string, lat, lon float64, altitude *float64, ts int64) telemetry.RawSample {
	r := telemetry.RawSample{
		DroneID:   telemetry.Text(droneID),
		Latitude:  telemetry.Number(lat),
		Longitude: telemetry.Number(lon),
		Speed:     telemetry.Number(5),
		Heading:   telemetry.Number(10),
		Battery:   telemetry.Number(0.9),
		Timestamp: telemetry.Number(float64(ts)),
	}
	if altitude != nil {
		r.Altitude = telemetry.Number(*altitude)
	}
	return r
}

func ptr(v float64) *float64 { return &v }

func TestOrchestrator_Ingest_Scenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.o.Ingest(ctx, raw("U1", 41.0, 29.0, ptr(100), 1000), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "U1", a.DroneID)
	assert.Equal(t, 100.0, a.HomeAltitude)
	assert.Equal(t, 100.0, a.AbsoluteAltitude)
	assert.Equal(t, 0.0, a.RelativeAltitude)
	assert.Equal(t, 0.0, a.CalculatedSpeed)
	assert.Equal(t, 41.0, a.HomeLatitude)
	assert.Equal(t, 29.0, a.HomeLongitude)
	assert.Equal(t, 5.0, a.Speed)
	assert.Equal(t, int64(1000), a.Timestamp)

	b, err := f.o.Ingest(ctx, raw("U1", 41.001, 29.0, ptr(120), 3000), "conn-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, b.CalculatedSpeed) // ~200.15km/h is above the ceiling
	assert.Equal(t, 120.0, b.AbsoluteAltitude)
	assert.Equal(t, 20.0, b.RelativeAltitude)
	assert.Equal(t, 100.0, b.HomeAltitude)
	assert.Equal(t, 41.0, b.HomeLatitude)
	require.NotNil(t, b.Altitude)
	assert.Equal(t, 120.0, *b.Altitude)

	require.Len(t, f.publisher.sent, 2)
	assert.Equal(t, "conn-1", f.publisher.sent[0].handle)
	assert.Equal(t, EventTelemetryUpdate, f.publisher.sent[0].event)
	assert.Same(t, a, f.publisher.sent[0].payload)

	require.Len(t, f.publisher.broadcasts, 2)
	assert.Equal(t, EventTelemetryBroadcast, f.publisher.broadcasts[1].event)
	assert.Same(t, b, f.publisher.broadcasts[1].payload)

	assert.Equal(t, 2, f.registry.seen["U1"])
	assert.Equal(t, 2, f.metrics.ingested)
}

func TestOrchestrator_Ingest_NoOrigin(t *testing.T) {
	f := newFixture()

	_, err := f.o.Ingest(context.Background(), raw("U1", 41.0, 29.0, ptr(100), 1000), "")
	require.NoError(t, err)

	assert.Empty(t, f.publisher.sent)
	assert.Len(t, f.publisher.broadcasts, 1)
}

func TestOrchestrator_Ingest_ValidationError(t *testing.T) {
	f := newFixture()

	r := raw("U1", 41.0, 29.0, nil, 1000)
	r.Battery = telemetry.Field{}

	n, err := f.o.Ingest(context.Background(), r, "conn-1")
	require.ErrorIs(t, err, telemetry.ErrValidation)
	assert.Nil(t, n)

	var ve *telemetry.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "battery", ve.Field)

	assert.Empty(t, f.registry.seen)
	assert.Empty(t, f.publisher.broadcasts)
	assert.Empty(t, f.publisher.sent)
	assert.Empty(t, f.store.samples)
	assert.Equal(t, 0, f.engine.Len())
	assert.Equal(t, 1, f.metrics.rejected["missing"])
}

func TestOrchestrator_IngestBytes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	n, err := f.o.IngestBytes(ctx, []byte(`{"droneId":"U1","latitude":"41.0","longitude":29,"speed":0,"heading":370,"battery":1.4,"timestamp":1000}`), "")
	require.NoError(t, err)
	assert.Equal(t, 10.0, n.Heading)
	assert.Equal(t, 1.0, n.Battery)
	assert.Nil(t, n.Altitude)
	assert.Equal(t, 0.0, n.HomeAltitude)

	_, err = f.o.IngestBytes(ctx, []byte(`{"droneId":`), "")
	require.ErrorIs(t, err, telemetry.ErrValidation)
	assert.Equal(t, 1, f.metrics.rejected["malformed payload"])
}

func TestOrchestrator_Ingest_RegistryError(t *testing.T) {
	f := newFixture()
	boom := errors.New("database is locked")
	f.registry.err = boom

	_, err := f.o.Ingest(context.Background(), raw("U1", 41.0, 29.0, ptr(100), 1000), "")
	require.ErrorIs(t, err, boom)

	assert.Empty(t, f.publisher.broadcasts)
	assert.Equal(t, 0, f.engine.Len())
}

func TestOrchestrator_Ingest_SendErrorIgnored(t *testing.T) {
	f := newFixture()
	f.publisher.sendErr = errors.New("subscriber gone")

	_, err := f.o.Ingest(context.Background(), raw("U1", 41.0, 29.0, ptr(100), 1000), "conn-1")
	require.NoError(t, err)
	assert.Len(t, f.publisher.broadcasts, 1)
}

func TestOrchestrator_PersistThrottle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.o.Ingest(ctx, raw("U1", 41.0, 29.0, ptr(100), 1000), "")
	require.NoError(t, err)

	f.clock.advance(500 * time.Millisecond)
	_, err = f.o.Ingest(ctx, raw("U1", 41.0, 29.0, ptr(100), 1500), "")
	require.NoError(t, err)

	assert.Len(t, f.publisher.broadcasts, 2)
	assert.Len(t, f.store.samples, 1)

	// other drones are throttled independently
	_, err = f.o.Ingest(ctx, raw("U2", 40.0, 29.0, ptr(50), 1500), "")
	require.NoError(t, err)
	assert.Len(t, f.store.samples, 2)

	f.clock.advance(1500 * time.Millisecond)
	_, err = f.o.Ingest(ctx, raw("U1", 41.0, 29.0, ptr(100), 3000), "")
	require.NoError(t, err)
	assert.Len(t, f.store.samples, 3)
	assert.Equal(t, int64(3000), f.store.samples[2].Timestamp)
	assert.Equal(t, 3, f.metrics.persisted)
}

func TestOrchestrator_PersistInterval(t *testing.T) {
	f := newFixture(WithPersistInterval(0))
	ctx := context.Background()

	for ts := int64(1000); ts <= 3000; ts += 1000 {
		_, err := f.o.Ingest(ctx, raw("U1", 41.0, 29.0, ptr(100), ts), "")
		require.NoError(t, err)
	}
	assert.Len(t, f.store.samples, 3)
}

func TestOrchestrator_PersistenceError(t *testing.T) {
	f := newFixture()
	f.store.err = errors.New("disk full")
	ctx := context.Background()

	n, err := f.o.Ingest(ctx, raw("U1", 41.0, 29.0, ptr(100), 1000), "conn-1")
	require.NoError(t, err)
	require.NotNil(t, n)

	assert.Len(t, f.publisher.broadcasts, 1)
	assert.Len(t, f.publisher.sent, 1)
	assert.Equal(t, 1, f.metrics.failed)
	assert.Equal(t, 1, f.metrics.ingested)

	// the failed write still counts against the throttle
	f.store.err = nil
	f.clock.advance(time.Second)
	_, err = f.o.Ingest(ctx, raw("U1", 41.0, 29.0, ptr(100), 2000), "")
	require.NoError(t, err)
	assert.Empty(t, f.store.samples)
}

func TestOrchestrator_NoStore(t *testing.T) {
	f := newFixture(WithStore(nil))

	_, err := f.o.Ingest(context.Background(), raw("U1", 41.0, 29.0, ptr(100), 1000), "")
	require.NoError(t, err)
	assert.Empty(t, f.store.samples)
	assert.Equal(t, 0, f.metrics.persisted)
}

func TestOrchestrator_ResetUnit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.o.Ingest(ctx, raw("U1", 41.0, 29.0, ptr(100), 1000), "")
	require.NoError(t, err)
	_, err = f.o.Ingest(ctx, raw("U2", 40.0, 28.0, ptr(10), 1000), "")
	require.NoError(t, err)

	f.o.ResetUnit("U1")

	n, err := f.o.Ingest(ctx, raw("U1", 42.0, 30.0, ptr(300), 2000), "")
	require.NoError(t, err)
	assert.Equal(t, 300.0, n.HomeAltitude)
	assert.Equal(t, 42.0, n.HomeLatitude)
	assert.Equal(t, 0.0, n.RelativeAltitude)

	// throttle entry cleared with the state
	assert.Len(t, f.store.samples, 3)

	other, ok := f.engine.State("U2")
	require.True(t, ok)
	assert.Equal(t, 10.0, other.HomeAltitude)
}

func TestOrchestrator_ResetAll(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.o.Ingest(ctx, raw("U1", 41.0, 29.0, ptr(100), 1000), "")
	require.NoError(t, err)

	f.o.ResetAll()
	assert.Equal(t, 0, f.engine.Len())

	_, err = f.o.Ingest(ctx, raw("U1", 41.0, 29.0, ptr(100), 1200), "")
	require.NoError(t, err)
	assert.Len(t, f.store.samples, 2)
}

func TestOrchestrator_ConcurrentDrones(t *testing.T) {
	f := newFixture()
	f.o = NewOrchestrator(f.engine, f.registry, f.publisher, WithStore(f.store), WithPersistInterval(0))
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"A", "B", "C", "D"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 20 {
				_, err := f.o.Ingest(ctx, raw(id, 41.0+float64(i)*0.0001, 29.0, ptr(100), int64(1000*(i+1))), "")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, f.publisher.broadcasts, 80)
	assert.Len(t, f.store.samples, 80)
	assert.Equal(t, 4, f.engine.Len())
}
