package elevation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultBaseURL is the public Open-Elevation instance
	DefaultBaseURL = "https://api.open-elevation.com"

	// DefaultTimeout bounds a single lookup request
	DefaultTimeout = 5 * time.Second

	lookupPath    = "/api/v1/lookup"
	maxBodyLength = 1 << 20
	tracerName    = "github.com/roman-kulish/drone-tracker/internal/elevation"
)

// ErrNoResults is returned when the service responds with an empty result set
var ErrNoResults = errors.New("no elevation results")

// Lookup resolves the terrain elevation for a coordinate. The boolean result
// is false when the elevation is unknown; callers must fall back instead of
// retrying.
type Lookup interface {
	Elevation(ctx context.Context, latitude, longitude float64) (float64, bool)
}

// Disabled is a Lookup that never knows the elevation
type Disabled struct{}

func (Disabled) Elevation(context.Context, float64, float64) (float64, bool) {
	return 0, false
}

// LookupFunc adapts a plain function to the Lookup interface
type LookupFunc func(ctx context.Context, latitude, longitude float64) (float64, bool)

func (f LookupFunc) Elevation(ctx context.Context, latitude, longitude float64) (float64, bool) {
	return f(ctx, latitude, longitude)
}

// Observer receives the outcome of every remote lookup
type Observer interface {
	ObserveLookup(ok bool, elapsed time.Duration)
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) func(*Client) {
	return func(c *Client) {
		c.logger = logger.With(slog.String("component", "elevation"))
	}
}

// WithTimeout overrides the per-request timeout
func WithTimeout(d time.Duration) func(*Client) {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient sets the HTTP client used for lookups
func WithHTTPClient(hc *http.Client) func(*Client) {
	return func(c *Client) {
		c.http = hc
	}
}

// WithObserver registers an observer for lookup outcomes
func WithObserver(o Observer) func(*Client) {
	return func(c *Client) {
		c.observer = o
	}
}

// Client queries an Open-Elevation compatible service
type Client struct {
	baseURL  string
	timeout  time.Duration
	http     *http.Client
	observer Observer
	logger   *slog.Logger
}

// NewClient creates a new Client for the service rooted at baseURL
func NewClient(baseURL string, options ...func(*Client)) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultTimeout,
		http:    http.DefaultClient,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

type location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type lookupRequest struct {
	Locations []location `json:"locations"`
}

type lookupResponse struct {
	Results []struct {
		Latitude  float64  `json:"latitude"`
		Longitude float64  `json:"longitude"`
		Elevation *float64 `json:"elevation"`
	} `json:"results"`
}

// Elevation implements Lookup. Every failure is logged and reported as an
// unknown elevation.
func (c *Client) Elevation(ctx context.Context, latitude, longitude float64) (float64, bool) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "elevation.Lookup")
	defer span.End()
	span.SetAttributes(attribute.Float64("latitude", latitude), attribute.Float64("longitude", longitude))

	start := time.Now()
	elevation, err := c.Fetch(ctx, latitude, longitude)
	if c.observer != nil {
		c.observer.ObserveLookup(err == nil, time.Since(start))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn(fmt.Sprintf("elevation lookup failed: %s", err.Error()),
			slog.Float64("latitude", latitude),
			slog.Float64("longitude", longitude))
		return 0, false
	}

	c.logger.Debug("elevation resolved", slog.Float64("elevation", elevation))
	return elevation, true
}

// Fetch performs one lookup request and returns the elevation in meters or
// the reason it could not be determined.
func (c *Client) Fetch(ctx context.Context, latitude, longitude float64) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(lookupRequest{Locations: []location{{Latitude: latitude, Longitude: longitude}}})
	if err != nil {
		return 0, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+lookupPath, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var result lookupResponse
	if err = json.NewDecoder(io.LimitReader(resp.Body, maxBodyLength)).Decode(&result); err != nil {
		return 0, fmt.Errorf("decoding response: %w", err)
	}

	if len(result.Results) == 0 || result.Results[0].Elevation == nil {
		return 0, ErrNoResults
	}

	return *result.Results[0].Elevation, nil
}
