package feed

import "fmt"

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

// Config describes a telemetry producer process
type Config struct {
	Name                 string   `yaml:"name"`
	Enabled              bool     `yaml:"enabled"`
	Command              string   `yaml:"command"`              // Executable name or path, looked up in PATH
	Args                 []string `yaml:"args"`                 // Command line arguments
	ParseErrorsThreshold uint8    `yaml:"parseErrorsThreshold"` // Consecutive rejected lines before the feed stops
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return NewConfigError("feed name is required")
	}
	if c.Command == "" {
		return NewConfigError(fmt.Sprintf("feed '%s': command is required", c.Name))
	}
	return nil
}
