// Package logging builds the kernel's zap loggers and carries log entries
// emitted by vat workers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	Level       string   `json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty"`
	Encoding    string   `json:"encoding,omitempty" yaml:"encoding,omitempty" toml:"encoding,omitempty"`
	OutputPaths []string `json:"outputPaths,omitempty" yaml:"outputPaths,omitempty" toml:"outputPaths,omitempty"`
}

// DefaultConfig logs info and above as JSON to stderr.
func DefaultConfig() Config {
	return Config{Level: "info", Encoding: "json", OutputPaths: []string{"stderr"}}
}

// Validate checks level and encoding.
func (c Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	switch strings.ToLower(c.Encoding) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log encoding %q", c.Encoding)
	}
	return nil
}

// New builds a logger from config.
func New(config Config) (*zap.Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	level, _ := zapcore.ParseLevel(config.Level)
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.Encoding = strings.ToLower(config.Encoding)
	if zapConfig.Encoding == "console" {
		zapConfig.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	if len(config.OutputPaths) > 0 {
		zapConfig.OutputPaths = config.OutputPaths
	}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}
