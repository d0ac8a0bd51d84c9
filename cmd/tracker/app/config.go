package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/drone-tracker/internal/derive"
	"github.com/roman-kulish/drone-tracker/internal/elevation"
	"github.com/roman-kulish/drone-tracker/internal/feed"
	"github.com/roman-kulish/drone-tracker/internal/ingest"
	"github.com/roman-kulish/drone-tracker/internal/observability"
)

const (
	StorageSqlite   = "sqlite"
	StorageDynamoDB = "dynamodb"

	LogFormatText = "text"
	LogFormatJSON = "json"

	defaultAddress         = ":3000"
	defaultShutdownTimeout = 10 * time.Second
	defaultMetricsPath     = "/metrics"
	defaultDataDirectory   = "data"
	defaultDatabaseFile    = "tracker.db"
)

// ConfigError is a custom error type for configuration errors
type ConfigError struct {
	msg string
}

func NewConfigError(msg string) *ConfigError {
	return &ConfigError{msg}
}

func (e *ConfigError) Error() string {
	return e.msg
}

// Duration is a time.Duration read from and written as "1s", "500ms" etc.
type Duration time.Duration

func NewDuration(d time.Duration) Duration {
	return Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalJSON(bytes []byte) error {
	var v string
	if err := json.Unmarshal(bytes, &v); err != nil {
		return err
	}

	duration, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) Validate() error {
	if d < 0 {
		return fmt.Errorf("app.Duration: must not be negative: %s", time.Duration(d))
	}
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config represents the main application configuration
type Config struct {
	Settings  Settings                    `yaml:"settings"`
	Server    ServerConfig                `yaml:"server"`
	Engine    EngineConfig                `yaml:"engine"`
	Elevation ElevationConfig             `yaml:"elevation"`
	Ingest    IngestConfig                `yaml:"ingest"`
	Storage   StorageConfig               `yaml:"storage"`
	Feeds     []feed.Config               `yaml:"feeds"`
	Tracing   observability.TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig               `yaml:"metrics"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"` // text | json
}

// ServerConfig represents the HTTP and websocket listener settings
type ServerConfig struct {
	Address         string   `yaml:"address"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// EngineConfig represents the speed derivation thresholds
type EngineConfig struct {
	MinInterval Duration `yaml:"minInterval"`
	MinDistance float64  `yaml:"minDistance"` // meters
	MaxSpeed    float64  `yaml:"maxSpeed"`    // km/h
}

func (c EngineConfig) Thresholds() derive.Thresholds {
	return derive.Thresholds{
		MinInterval: c.MinInterval.Duration(),
		MinDistance: c.MinDistance,
		MaxSpeed:    c.MaxSpeed,
	}
}

// ElevationConfig represents the terrain elevation service settings
type ElevationConfig struct {
	Enabled bool     `yaml:"enabled"`
	BaseURL string   `yaml:"baseURL"`
	Timeout Duration `yaml:"timeout"`
}

// IngestConfig represents the ingest pipeline settings
type IngestConfig struct {
	PersistInterval Duration `yaml:"persistInterval"` // Minimum time between stored samples of a drone
}

// StorageConfig represents storage settings. The SQLite database always
// holds the drone registry and flight sessions; the driver selects where
// telemetry samples are written.
type StorageConfig struct {
	Driver        string       `yaml:"driver"` // sqlite | dynamodb
	DataDirectory string       `yaml:"dataDirectory"`
	DatabaseFile  string       `yaml:"databaseFile"`
	Dynamo        DynamoConfig `yaml:"dynamo"`
}

// DynamoConfig represents the DynamoDB sample table settings
type DynamoConfig struct {
	Table    string   `yaml:"table"`
	Region   string   `yaml:"region"`
	Endpoint string   `yaml:"endpoint"`
	TTL      Duration `yaml:"ttl"`
}

// MetricsConfig represents the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// NewConfig returns a configuration populated with defaults
func NewConfig() *Config {
	thresholds := derive.DefaultThresholds()

	return &Config{
		Settings: Settings{
			LogLevel:  slog.LevelInfo.String(),
			LogFormat: LogFormatText,
		},
		Server: ServerConfig{
			Address:         defaultAddress,
			ShutdownTimeout: NewDuration(defaultShutdownTimeout),
		},
		Engine: EngineConfig{
			MinInterval: NewDuration(thresholds.MinInterval),
			MinDistance: thresholds.MinDistance,
			MaxSpeed:    thresholds.MaxSpeed,
		},
		Elevation: ElevationConfig{
			Enabled: true,
			BaseURL: elevation.DefaultBaseURL,
			Timeout: NewDuration(elevation.DefaultTimeout),
		},
		Ingest: IngestConfig{
			PersistInterval: NewDuration(ingest.DefaultPersistInterval),
		},
		Storage: StorageConfig{
			Driver:        StorageSqlite,
			DataDirectory: defaultDataDirectory,
			DatabaseFile:  defaultDatabaseFile,
		},
		Tracing: observability.TracingConfig{
			Exporter:    "stdout",
			SampleRatio: 1,
		},
		Metrics: MetricsConfig{
			Path: defaultMetricsPath,
		},
	}
}

// LoadConfig reads the YAML configuration file at path on top of the
// defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	config := NewConfig()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err = decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for invalid or inconsistent values
func (c *Config) Validate() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Settings.LogLevel)); err != nil {
		return NewConfigError(fmt.Sprintf("invalid log level: %s", c.Settings.LogLevel))
	}

	switch strings.ToLower(c.Settings.LogFormat) {
	case "", LogFormatText, LogFormatJSON:
	default:
		return NewConfigError(fmt.Sprintf("invalid log format: %s", c.Settings.LogFormat))
	}

	if c.Server.Address == "" {
		return NewConfigError("server address is required")
	}

	for name, d := range map[string]Duration{
		"server.shutdownTimeout": c.Server.ShutdownTimeout,
		"engine.minInterval":     c.Engine.MinInterval,
		"elevation.timeout":      c.Elevation.Timeout,
		"ingest.persistInterval": c.Ingest.PersistInterval,
		"storage.dynamo.ttl":     c.Storage.Dynamo.TTL,
	} {
		if err := d.Validate(); err != nil {
			return NewConfigError(fmt.Sprintf("%s: %s", name, err))
		}
	}

	if c.Engine.MinDistance < 0 {
		return NewConfigError(fmt.Sprintf("engine.minDistance must not be negative: %g", c.Engine.MinDistance))
	}
	if c.Engine.MaxSpeed <= 0 {
		return NewConfigError(fmt.Sprintf("engine.maxSpeed must be positive: %g", c.Engine.MaxSpeed))
	}

	if c.Elevation.Enabled && c.Elevation.BaseURL == "" {
		return NewConfigError("elevation.baseURL is required when elevation is enabled")
	}

	switch c.Storage.Driver {
	case StorageSqlite:
	case StorageDynamoDB:
		if err := c.Storage.Dynamo.sampleStoreConfig().Validate(); err != nil {
			return NewConfigError(fmt.Sprintf("storage: %s", err))
		}
	default:
		return NewConfigError(fmt.Sprintf("unknown storage driver: %s", c.Storage.Driver))
	}
	if c.Storage.DatabaseFile == "" {
		return NewConfigError("storage.databaseFile is required")
	}

	names := make(map[string]struct{}, len(c.Feeds))
	for i := range c.Feeds {
		if err := c.Feeds[i].Validate(); err != nil {
			return err
		}
		if _, ok := names[c.Feeds[i].Name]; ok {
			return NewConfigError(fmt.Sprintf("feed '%s' is defined more than once", c.Feeds[i].Name))
		}
		names[c.Feeds[i].Name] = struct{}{}
	}

	if err := c.Tracing.Validate(); err != nil {
		return NewConfigError(err.Error())
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return NewConfigError(fmt.Sprintf("metrics.path must start with '/': %s", c.Metrics.Path))
	}

	return nil
}
