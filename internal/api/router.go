// Package api exposes the tracker over HTTP: the drone registry, telemetry
// history and ingestion, flight sessions, the websocket stream and metrics.
package api

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/roman-kulish/drone-tracker/internal/flight"
	"github.com/roman-kulish/drone-tracker/internal/telemetry"
)

// Store is the part of the storage layer the API reads and writes
type Store interface {
	Drones(ctx context.Context) ([]*flight.Drone, error)
	UpsertDrone(ctx context.Context, droneID, name string, status flight.Status) (*flight.Drone, error)
	LatestSamples(ctx context.Context, droneID string, limit int) ([]*telemetry.Normalized, error)
	StartSession(ctx context.Context, droneID string, start time.Time) (*flight.Session, error)
	EndSession(ctx context.Context, id int64, end time.Time) (*flight.Session, error)
	Sessions(ctx context.Context, droneID string, limit int) ([]*flight.Session, error)
}

// Ingester accepts telemetry and resets per-drone derivation state
type Ingester interface {
	Ingest(ctx context.Context, raw telemetry.RawSample, origin string) (*telemetry.Normalized, error)
	ResetUnit(droneID string)
}

// WithLogger sets the logger for the router
func WithLogger(logger *slog.Logger) func(*Router) {
	return func(rt *Router) {
		rt.logger = logger.With(slog.String("component", "api"))
	}
}

// WithWebsocket mounts the real-time stream at /ws
func WithWebsocket(h http.Handler) func(*Router) {
	return func(rt *Router) {
		rt.websocket = h
	}
}

// WithMetrics mounts a metrics handler at path
func WithMetrics(path string, h http.Handler) func(*Router) {
	return func(rt *Router) {
		rt.metricsPath = path
		rt.metrics = h
	}
}

// WithClock sets the clock used for session start and end times
func WithClock(now func() time.Time) func(*Router) {
	return func(rt *Router) {
		rt.now = now
	}
}

// Router routes HTTP requests to the tracker
type Router struct {
	store    Store
	ingester Ingester

	websocket   http.Handler
	metrics     http.Handler
	metricsPath string

	now    func() time.Time
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewRouter creates a new Router
func NewRouter(store Store, ingester Ingester, options ...func(*Router)) *Router {
	rt := Router{
		store:    store,
		ingester: ingester,
		now:      time.Now,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		mux:      http.NewServeMux(),
	}

	for _, option := range options {
		option(&rt)
	}

	rt.routes()
	return &rt
}

func (rt *Router) routes() {
	rt.mux.HandleFunc("GET /health", rt.health)

	rt.mux.HandleFunc("GET /api/drones", rt.listDrones)
	rt.mux.HandleFunc("POST /api/drones", rt.upsertDrone)

	rt.mux.HandleFunc("GET /api/telemetry", rt.listTelemetry)
	rt.mux.HandleFunc("POST /api/telemetry", rt.ingestTelemetry)

	rt.mux.HandleFunc("GET /api/sessions", rt.listSessions)
	rt.mux.HandleFunc("POST /api/sessions/start", rt.startSession)
	rt.mux.HandleFunc("POST /api/sessions/{id}/end", rt.endSession)

	if rt.websocket != nil {
		rt.mux.Handle("GET /ws", rt.websocket)
	}
	if rt.metrics != nil {
		path := rt.metricsPath
		if path == "" {
			path = "/metrics"
		}
		rt.mux.Handle("GET "+path, rt.metrics)
	}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	start := time.Now()
	sw := statusWriter{ResponseWriter: w, status: http.StatusOK}
	rt.mux.ServeHTTP(&sw, r)

	rt.logger.Debug("request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", sw.status),
		slog.Duration("elapsed", time.Since(start)))
}

func (rt *Router) health(w http.ResponseWriter, _ *http.Request) {
	rt.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// statusWriter records the response status for request logging
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack hands the connection over to the websocket upgrade
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
