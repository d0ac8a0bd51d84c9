package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()

	c := NewConfig()
	c.Server.Address = "127.0.0.1:0"
	c.Elevation.Enabled = false
	c.Storage.DataDirectory = t.TempDir()
	c.Metrics.Enabled = true
	c.Ingest.PersistInterval = NewDuration(0)
	require.NoError(t, c.Validate())
	return c
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_ServesTelemetry(t *testing.T) {
	tracker, err := New(testConfig(t), discard())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, tracker.Close()) })

	srv := httptest.NewServer(tracker.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/api/telemetry", "application/json", strings.NewReader(
		`{"droneId":"D1","latitude":41.0,"longitude":29.0,"altitude":100,"speed":0,"heading":0,"battery":1,"timestamp":1000}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/telemetry?droneId=D1")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"droneId":"D1"`)

	resp, err = http.Get(srv.URL + "/api/drones")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"Drone-D1"`)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "tracker_samples_ingested_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNew_FeedNotFound(t *testing.T) {
	c := testConfig(t)
	c.Feeds = append(c.Feeds, feedConfig("missing", "definitely-not-a-real-binary-42"))

	_, err := New(c, discard())
	assert.Error(t, err)
}

func TestNew_DisabledFeedIsSkipped(t *testing.T) {
	c := testConfig(t)
	disabled := feedConfig("missing", "definitely-not-a-real-binary-42")
	disabled.Enabled = false
	c.Feeds = append(c.Feeds, disabled)

	tracker, err := New(c, discard())
	require.NoError(t, err)
	assert.Empty(t, tracker.feeds)
	assert.NoError(t, tracker.Close())
}

func TestRun_StopsOnCancel(t *testing.T) {
	config := testConfig(t)
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() { done <- Run(ctx, config, discard()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
