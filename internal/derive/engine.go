// Package derive turns consecutive raw fixes of a tracked unit into ground
// speed and an altitude decomposition referenced to the unit's home point.
//
// The Engine keeps one UnitState per unit. Samples of different units are
// processed in parallel; samples of the same unit are committed one at a
// time. Elevation lookups run without any lock held, and a sample's state is
// committed exactly once, after both speed and altitude are known.
package derive

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/roman-kulish/drone-tracker/internal/elevation"
	"github.com/roman-kulish/drone-tracker/internal/geodesy"
)

const numShards = 64

type shard struct {
	mu     sync.Mutex
	states map[string]UnitState
}

// WithLogger sets the logger for the engine
func WithLogger(logger *slog.Logger) func(*Engine) {
	return func(e *Engine) {
		e.logger = logger.With(slog.String("component", "derive"))
	}
}

// WithThresholds overrides the speed derivation thresholds. Zero values keep
// the defaults.
func WithThresholds(t Thresholds) func(*Engine) {
	return func(e *Engine) {
		if t.MinInterval > 0 {
			e.thresholds.MinInterval = t.MinInterval
		}
		if t.MinDistance > 0 {
			e.thresholds.MinDistance = t.MinDistance
		}
		if t.MaxSpeed > 0 {
			e.thresholds.MaxSpeed = t.MaxSpeed
		}
	}
}

// Engine derives speed and altitude metrics for tracked units
type Engine struct {
	shards     [numShards]shard
	lookup     elevation.Lookup
	thresholds Thresholds
	logger     *slog.Logger
}

// New creates a new Engine. A nil lookup disables elevation fallback.
func New(lookup elevation.Lookup, options ...func(*Engine)) *Engine {
	if lookup == nil {
		lookup = elevation.Disabled{}
	}

	e := Engine{
		lookup:     lookup,
		thresholds: DefaultThresholds(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for i := range e.shards {
		e.shards[i].states = make(map[string]UnitState)
	}

	for _, option := range options {
		option(&e)
	}

	return &e
}

// Thresholds returns the thresholds in effect
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

func (e *Engine) shard(unitID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(unitID))
	return &e.shards[h.Sum32()%numShards]
}

func (e *Engine) load(unitID string) (UnitState, bool) {
	sh := e.shard(unitID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	state, ok := sh.states[unitID]
	return state, ok
}

// State returns a copy of the unit's current state
func (e *Engine) State(unitID string) (UnitState, bool) {
	return e.load(unitID)
}

// Len returns the number of tracked units
func (e *Engine) Len() int {
	var n int
	for i := range e.shards {
		sh := &e.shards[i]
		sh.mu.Lock()
		n += len(sh.states)
		sh.mu.Unlock()
	}
	return n
}

// DeriveSpeed returns the ground speed in km/h implied by moving from the
// unit's last fix to the given one. It does not modify the unit's state.
func (e *Engine) DeriveSpeed(unitID string, latitude, longitude float64, timestamp int64) float64 {
	state, ok := e.load(unitID)
	if !ok {
		return 0
	}
	return e.speed(unitID, &state, latitude, longitude, timestamp)
}

// DeriveAltitude returns the altitude decomposition for a sample. When the
// device did not report altitude the elevation lookup is consulted, which
// may block for up to the lookup timeout. It does not modify the unit's
// state.
func (e *Engine) DeriveAltitude(ctx context.Context, unitID string, altitude *float64, latitude, longitude float64) Altitude {
	elev, elevOK := e.resolveElevation(ctx, altitude, latitude, longitude)

	state, ok := e.load(unitID)
	var prev *UnitState
	if ok {
		prev = &state
	}

	return e.altitude(unitID, prev, altitude, latitude, longitude, elev, elevOK)
}

// Process derives speed and altitude for a fix and commits the unit's new
// state. The elevation lookup, if needed, runs before the unit is locked;
// derivation and commit then happen atomically against the latest state.
func (e *Engine) Process(ctx context.Context, unitID string, fix Fix) Derived {
	elev, elevOK := e.resolveElevation(ctx, fix.Altitude, fix.Latitude, fix.Longitude)

	sh := e.shard(unitID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var prev *UnitState
	if state, ok := sh.states[unitID]; ok {
		prev = &state
	}

	var d Derived
	if prev != nil {
		d.CalculatedSpeed = e.speed(unitID, prev, fix.Latitude, fix.Longitude, fix.Timestamp)
	}
	d.Altitude = e.altitude(unitID, prev, fix.Altitude, fix.Latitude, fix.Longitude, elev, elevOK)

	next := UnitState{
		LastLatitude:         fix.Latitude,
		LastLongitude:        fix.Longitude,
		LastAbsoluteAltitude: d.Absolute,
		LastTimestamp:        fix.Timestamp,
		LastCalculatedSpeed:  d.CalculatedSpeed,
		HomeAltitude:         d.Home,
		HomeLatitude:         d.HomeLatitude,
		HomeLongitude:        d.HomeLongitude,
	}
	if prev != nil {
		next.HomeAltitude = prev.HomeAltitude
		next.HomeLatitude = prev.HomeLatitude
		next.HomeLongitude = prev.HomeLongitude
	}
	sh.states[unitID] = next

	return d
}

// ResetUnit forgets the unit's state; its next sample establishes a new home
func (e *Engine) ResetUnit(unitID string) {
	sh := e.shard(unitID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	delete(sh.states, unitID)
}

// ResetAll forgets the state of every unit
func (e *Engine) ResetAll() {
	for i := range e.shards {
		sh := &e.shards[i]
		sh.mu.Lock()
		clear(sh.states)
		sh.mu.Unlock()
	}
}

func (e *Engine) resolveElevation(ctx context.Context, altitude *float64, latitude, longitude float64) (float64, bool) {
	if usable(altitude) {
		return 0, false
	}
	return e.lookup.Elevation(ctx, latitude, longitude)
}

func (e *Engine) speed(unitID string, prev *UnitState, latitude, longitude float64, timestamp int64) float64 {
	logger := e.logger.With(slog.String("unitID", unitID))

	dt := float64(timestamp-prev.LastTimestamp) / 1000
	if dt < e.thresholds.MinInterval.Seconds() {
		logger.Debug(fmt.Sprintf("fix interval too short (%.2fs), repeating previous speed", dt))
		return prev.LastCalculatedSpeed
	}

	distance := geodesy.Distance(prev.LastLatitude, prev.LastLongitude, latitude, longitude)
	if distance < e.thresholds.MinDistance {
		logger.Debug(fmt.Sprintf("movement below noise floor (%.2fm), unit is stationary", distance))
		return 0
	}

	kmh := geodesy.MetersPerSecondToKmh(distance / dt)
	if kmh > e.thresholds.MaxSpeed || math.IsNaN(kmh) {
		logger.Debug(fmt.Sprintf("implausible speed (%.2fkm/h), repeating previous speed", kmh))
		return prev.LastCalculatedSpeed
	}

	return geodesy.Round1(kmh)
}

func (e *Engine) altitude(unitID string, prev *UnitState, altitude *float64, latitude, longitude, elev float64, elevOK bool) Altitude {
	logger := e.logger.With(slog.String("unitID", unitID))

	if prev == nil {
		var home float64
		switch {
		case usable(altitude):
			home = *altitude
			logger.Debug("home altitude from device", slog.Float64("home", home))
		case elevOK:
			home = elev
			logger.Debug("home altitude from elevation lookup", slog.Float64("home", home))
		default:
			logger.Debug("home altitude unknown, defaulting to zero")
		}

		return Altitude{
			Absolute:      geodesy.Round1(home),
			Relative:      0,
			Home:          geodesy.Round1(home),
			HomeLatitude:  latitude,
			HomeLongitude: longitude,
		}
	}

	var absolute float64
	switch {
	case usable(altitude):
		absolute = *altitude
	case elevOK:
		absolute = elev
	default:
		absolute = prev.LastAbsoluteAltitude
		logger.Debug("altitude unknown, keeping last absolute altitude", slog.Float64("absolute", absolute))
	}

	absolute = geodesy.Round1(absolute)
	home := geodesy.Round1(prev.HomeAltitude)

	return Altitude{
		Absolute:      absolute,
		Relative:      geodesy.Round1(absolute - home),
		Home:          home,
		HomeLatitude:  prev.HomeLatitude,
		HomeLongitude: prev.HomeLongitude,
	}
}

func usable(altitude *float64) bool {
	return altitude != nil && !math.IsNaN(*altitude) && !math.IsInf(*altitude, 0)
}
