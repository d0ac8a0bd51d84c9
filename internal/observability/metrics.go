// Package observability wires Prometheus metrics and OpenTelemetry tracing
// for the tracker.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tracker"

// Collector bundles the tracker's Prometheus metrics. A nil *Collector is
// valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	SamplesIngested  prometheus.Counter
	SamplesRejected  *prometheus.CounterVec
	SamplesPersisted prometheus.Counter
	PersistFailures  prometheus.Counter

	ElevationLookups   *prometheus.CounterVec
	ElevationDurations prometheus.Histogram

	Subscribers prometheus.Gauge
}

// NewCollector registers the tracker metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ingested, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_ingested_total",
		Help:      "Total number of telemetry samples accepted and published.",
	}), "samples_ingested_total")
	if err != nil {
		return nil, err
	}

	rejected, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_rejected_total",
		Help:      "Total number of telemetry samples rejected, labeled by reason.",
	}, []string{"reason"}), "samples_rejected_total")
	if err != nil {
		return nil, err
	}

	persisted, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "samples_persisted_total",
		Help:      "Total number of telemetry samples written to durable storage.",
	}), "samples_persisted_total")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persist_failures_total",
		Help:      "Total number of failed telemetry sample writes.",
	}), "persist_failures_total")
	if err != nil {
		return nil, err
	}

	lookups, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "elevation_lookups_total",
		Help:      "Total number of remote elevation lookups, labeled by result.",
	}, []string{"result"}), "elevation_lookups_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "elevation_lookup_duration_seconds",
		Help:      "Remote elevation lookup latency in seconds.",
		Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "elevation_lookup_duration_seconds")
	if err != nil {
		return nil, err
	}

	subscribers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscribers",
		Help:      "Current number of connected real-time subscribers.",
	}), "subscribers")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:           gatherer,
		SamplesIngested:    ingested,
		SamplesRejected:    rejected,
		SamplesPersisted:   persisted,
		PersistFailures:    failures,
		ElevationLookups:   lookups,
		ElevationDurations: durations,
		Subscribers:        subscribers,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) SampleIngested() {
	if c == nil {
		return
	}
	c.SamplesIngested.Inc()
}

func (c *Collector) SampleRejected(reason string) {
	if c == nil {
		return
	}
	c.SamplesRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) SamplePersisted() {
	if c == nil {
		return
	}
	c.SamplesPersisted.Inc()
}

func (c *Collector) PersistFailed() {
	if c == nil {
		return
	}
	c.PersistFailures.Inc()
}

// ObserveLookup satisfies elevation.Observer
func (c *Collector) ObserveLookup(ok bool, elapsed time.Duration) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "unavailable"
	}
	c.ElevationLookups.WithLabelValues(result).Inc()
	c.ElevationDurations.Observe(elapsed.Seconds())
}

// SetSubscribers satisfies the broadcast hub's subscriber count observer
func (c *Collector) SetSubscribers(n int) {
	if c == nil {
		return
	}
	c.Subscribers.Set(float64(n))
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, histogram prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(histogram); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return histogram, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
