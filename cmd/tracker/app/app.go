package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/roman-kulish/drone-tracker/internal/api"
	"github.com/roman-kulish/drone-tracker/internal/broadcast"
	"github.com/roman-kulish/drone-tracker/internal/derive"
	"github.com/roman-kulish/drone-tracker/internal/elevation"
	"github.com/roman-kulish/drone-tracker/internal/feed"
	"github.com/roman-kulish/drone-tracker/internal/ingest"
	"github.com/roman-kulish/drone-tracker/internal/observability"
	"github.com/roman-kulish/drone-tracker/internal/storage"
)

func (c DynamoConfig) sampleStoreConfig() storage.DynamoConfig {
	return storage.DynamoConfig{
		Table:    c.Table,
		Region:   c.Region,
		Endpoint: c.Endpoint,
		TTL:      c.TTL.Duration(),
	}
}

// Tracker is the assembled service: stores, derivation engine, ingest
// pipeline, broadcast hub and the HTTP surface on top of them.
type Tracker struct {
	store        *storage.SqliteStore
	samples      storage.SampleStore
	hub          *broadcast.Hub
	orchestrator *ingest.Orchestrator
	feeds        []*feed.Feed
	handler      http.Handler
	logger       *slog.Logger
}

// Handler returns the HTTP handler serving the REST API, websocket and metrics
func (t *Tracker) Handler() http.Handler {
	return t.handler
}

// Close releases the hub and the stores
func (t *Tracker) Close() error {
	t.hub.Close()

	var errs []error
	if t.samples != nil && t.samples != storage.SampleStore(t.store) {
		errs = append(errs, t.samples.Close())
	}
	errs = append(errs, t.store.Close())
	return errors.Join(errs...)
}

// Run starts the tracker and blocks until ctx is cancelled or the HTTP
// server fails.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, config.Tracing, logger)
	if err != nil {
		return fmt.Errorf("failed to initialise tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdownTracing, logger)

	tracker, err := New(config, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing tracker: %s", err.Error()))
		}
	}()

	listener, err := net.Listen("tcp", config.Server.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", config.Server.Address, err)
	}

	server := &http.Server{
		Handler:           tracker.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	tracker.startFeeds(ctx, &wg)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("tracker listening", slog.String("address", listener.Addr().String()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		err = nil
	case err = <-serveErr:
		if err != nil {
			err = fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), config.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()

	// Websocket connections are hijacked and are not tracked by Shutdown;
	// closing the hub ends their write loops.
	tracker.hub.Close()
	if sErr := server.Shutdown(shutdownCtx); sErr != nil {
		logger.Error(fmt.Sprintf("http server shutdown: %s", sErr.Error()))
	}

	cancel()
	tracker.stopFeeds()
	wg.Wait()

	return err
}

// New assembles the tracker from config. It does not start the feeds or
// listen for connections.
func New(config *Config, logger *slog.Logger) (*Tracker, error) {
	store, err := createStorage(&config.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	samples, err := createSampleStore(&config.Storage, store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create sample store: %w", err)
	}

	var collector *observability.Collector
	if config.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if collector, err = observability.NewCollector(registry); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	engine := derive.New(createLookup(&config.Elevation, collector, logger),
		derive.WithLogger(logger),
		derive.WithThresholds(config.Engine.Thresholds()))

	hubOptions := []func(*broadcast.Hub){broadcast.WithLogger(logger)}
	if collector != nil {
		hubOptions = append(hubOptions, broadcast.WithObserver(collector))
	}
	hub := broadcast.NewHub(hubOptions...)

	ingestOptions := []func(*ingest.Orchestrator){
		ingest.WithStore(samples),
		ingest.WithLogger(logger),
		ingest.WithPersistInterval(config.Ingest.PersistInterval.Duration()),
	}
	if collector != nil {
		ingestOptions = append(ingestOptions, ingest.WithMetrics(collector))
	}
	orchestrator := ingest.NewOrchestrator(engine, store, hub, ingestOptions...)

	routerOptions := []func(*api.Router){
		api.WithLogger(logger),
		api.WithWebsocket(broadcast.NewHandler(hub, orchestrator, logger)),
	}
	if collector != nil {
		routerOptions = append(routerOptions, api.WithMetrics(config.Metrics.Path, collector.Handler()))
	}

	t := Tracker{
		store:        store,
		samples:      samples,
		hub:          hub,
		orchestrator: orchestrator,
		handler:      api.NewRouter(store, orchestrator, routerOptions...),
		logger:       logger,
	}

	for i := range config.Feeds {
		if !config.Feeds[i].Enabled {
			continue
		}

		f, err := feed.New(&config.Feeds[i], orchestrator, feed.WithLogger(logger))
		if err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("creating feed: %w", err)
		}
		t.feeds = append(t.feeds, f)
	}

	return &t, nil
}

// startFeeds runs every feed in its own goroutine. A feed that stops on an
// error is logged; the rest of the tracker keeps serving.
func (t *Tracker) startFeeds(ctx context.Context, wg *sync.WaitGroup) {
	for _, f := range t.feeds {
		stopped, err := f.Start(ctx)
		if err != nil {
			t.logger.Error(fmt.Sprintf("starting feed: %s", err.Error()), slog.String("feed", f.Name()))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			if err, ok := <-stopped; ok && err != nil && ctx.Err() == nil {
				t.logger.Error(fmt.Sprintf("feed stopped: %s", err.Error()), slog.String("feed", f.Name()))
			}
		}()
	}
}

func (t *Tracker) stopFeeds() {
	for _, f := range t.feeds {
		f.Stop()
		t.logger.Info("feed finished",
			slog.String("feed", f.Name()),
			slog.String("ingested", humanize.Comma(int64(f.Ingested()))))
	}
}

func createLookup(config *ElevationConfig, collector *observability.Collector, logger *slog.Logger) elevation.Lookup {
	if !config.Enabled {
		return elevation.Disabled{}
	}

	options := []func(*elevation.Client){
		elevation.WithLogger(logger),
		elevation.WithTimeout(config.Timeout.Duration()),
	}
	if collector != nil {
		options = append(options, elevation.WithObserver(collector))
	}
	return elevation.NewClient(config.BaseURL, options...)
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, error) {
	dir := config.DataDirectory
	if dir == "" {
		dir = defaultDataDirectory
	}
	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		dir = filepath.Join(wd, dir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory '%s': %w", dir, err)
	}

	store := storage.NewSqliteStore(filepath.Join(dir, config.DatabaseFile))
	if err := store.Init(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initialising database: %w", err)
	}
	return store, nil
}

func createSampleStore(config *StorageConfig, store *storage.SqliteStore) (storage.SampleStore, error) {
	switch config.Driver {
	case StorageDynamoDB:
		return storage.NewDynamoSampleStore(config.Dynamo.sampleStoreConfig())
	default:
		return store, nil
	}
}
