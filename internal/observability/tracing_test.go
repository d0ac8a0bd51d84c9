package observability

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestTracingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TracingConfig
		wantErr bool
	}{
		{name: "disabled", cfg: TracingConfig{Exporter: "otlp"}},
		{name: "stdout", cfg: TracingConfig{Enabled: true, Exporter: "stdout", SampleRatio: 1}},
		{name: "file without path", cfg: TracingConfig{Enabled: true, Exporter: "file", SampleRatio: 1}, wantErr: true},
		{name: "unknown exporter", cfg: TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, wantErr: true},
		{name: "ratio out of range", cfg: TracingConfig{Enabled: true, SampleRatio: 1.5}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestInitTracing_FileExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spans.json")
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "tracker-test",
		Exporter:    "file",
		Path:        path,
		SampleRatio: 1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = InitTracing(context.Background(), TracingConfig{}, nil)
	})

	_, span := otel.Tracer("test").Start(context.Background(), "ingest.Sample")
	span.End()

	ShutdownWithTimeout(context.Background(), shutdown, nil)

	p, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(p), "ingest.Sample")
	assert.Contains(t, string(p), "tracker-test")
}

func TestInitTracing_UnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	require.Error(t, err)
}
