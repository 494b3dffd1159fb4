// Package config loads the limits and ambient settings of the arrayify engine.
//
// Configuration is YAML:
//
//	limits:
//	  max_length: 4294967295
//	  max_byte_length: 4294967295
//	  max_chain_depth: 1024
//	harness:
//	  loop_count: 100
//	  parallel: 4
//	log:
//	  level: info
//	  format: text
//
// Unknown keys are rejected so that typos surface at load time.
package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlatformMaxLength is the representable-length ceiling of the reference
// contract (2^32 - 1). Limits may lower it but never raise it.
const PlatformMaxLength uint64 = 1<<32 - 1

// Config is the root configuration document.
type Config struct {
	Limits  Limits  `yaml:"limits"`
	Harness Harness `yaml:"harness"`
	Log     Log     `yaml:"log"`
}

// Limits bounds indexed containers and buffers.
type Limits struct {
	// MaxLength is the largest array length; valid indices are [0, MaxLength).
	MaxLength uint64 `yaml:"max_length"`
	// MaxByteLength is the largest byte length or maxByteLength of a buffer.
	MaxByteLength uint64 `yaml:"max_byte_length"`
	// MaxChainDepth bounds every delegate-chain walk.
	MaxChainDepth int `yaml:"max_chain_depth"`
}

// Harness configures scenario execution.
type Harness struct {
	// LoopCount is the iteration count used by steps marked repeat_loop.
	LoopCount int `yaml:"loop_count"`
	// Parallel bounds the number of scenarios run concurrently.
	Parallel int `yaml:"parallel"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Limits: Limits{
			MaxLength:     PlatformMaxLength,
			MaxByteLength: PlatformMaxLength,
			MaxChainDepth: 1024,
		},
		Harness: Harness{
			LoopCount: 100,
			Parallel:  4,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file, overlays it on Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, overlays them on Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks that every field is within range.
func (c *Config) Validate() error {
	if c.Limits.MaxLength == 0 || c.Limits.MaxLength > PlatformMaxLength {
		return fmt.Errorf("limits.max_length must be in [1, %d], got %d", PlatformMaxLength, c.Limits.MaxLength)
	}
	if c.Limits.MaxByteLength > PlatformMaxLength {
		return fmt.Errorf("limits.max_byte_length must be at most %d, got %d", PlatformMaxLength, c.Limits.MaxByteLength)
	}
	if c.Limits.MaxChainDepth <= 0 {
		return fmt.Errorf("limits.max_chain_depth must be positive, got %d", c.Limits.MaxChainDepth)
	}
	if c.Harness.LoopCount < 0 {
		return fmt.Errorf("harness.loop_count must be non-negative, got %d", c.Harness.LoopCount)
	}
	if c.Harness.Parallel <= 0 {
		return fmt.Errorf("harness.parallel must be positive, got %d", c.Harness.Parallel)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// NewLogger builds a slog.Logger writing to w according to the log settings.
func (l Log) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
}
