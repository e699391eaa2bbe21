// Package config loads the YAML document that configures an engine
// instance: the enabled-extension list fed to registry.SetString, the
// diagnostics cap, the CPU-time resource budget, the binary format-version
// gate, and logging verbosity.
//
// Grounded on the teacher's internal/config.Config: a single yaml-tagged
// struct with nested sub-configs per concern and a DefaultConfig() factory,
// loaded with gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all sievecore engine configuration.
type Config struct {
	Extensions ExtensionsConfig `yaml:"extensions"`
	Limits     LimitsConfig     `yaml:"limits"`
	Binary     BinaryConfig     `yaml:"binary"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ExtensionsConfig names the extensions enabled for an engine instance.
// Enabled feeds registry.Registry.SetString; required extensions (e.g.
// "@core") are always on regardless of this list.
type ExtensionsConfig struct {
	Enabled []string `yaml:"enabled"`
}

// LimitsConfig caps diagnostics and execution resource usage.
type LimitsConfig struct {
	MaxErrors      int `yaml:"max_errors"`
	MaxCPUTimeSecs int `yaml:"max_cpu_time_secs"`
}

// CPUBudget returns MaxCPUTimeSecs as a time.Duration, zero meaning
// unlimited (interp.New's budget parameter).
func (l LimitsConfig) CPUBudget() time.Duration {
	if l.MaxCPUTimeSecs <= 0 {
		return 0
	}
	return time.Duration(l.MaxCPUTimeSecs) * time.Second
}

// BinaryConfig gates the on-disk binary container format.
type BinaryConfig struct {
	MinFormatVersion uint16 `yaml:"min_format_version"`
	MaxFormatVersion uint16 `yaml:"max_format_version"`
}

// Supports reports whether version is within [MinFormatVersion,
// MaxFormatVersion], the compatibility window for a container's
// FormatVersion. binary.Load does not consult it.
func (b BinaryConfig) Supports(version uint16) bool {
	return version >= b.MinFormatVersion && version <= b.MaxFormatVersion
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Extensions: ExtensionsConfig{
			Enabled: []string{"fileinto", "envelope", "reject"},
		},
		Limits: LimitsConfig{
			MaxErrors:      25,
			MaxCPUTimeSecs: 5,
		},
		Binary: BinaryConfig{
			MinFormatVersion: 1,
			MaxFormatVersion: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads and parses a YAML configuration file, starting from
// DefaultConfig so any field the document omits keeps its default.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save marshals cfg to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}

// Validate checks that limits and the format-version window are
// internally consistent.
func (c *Config) Validate() error {
	if c.Limits.MaxErrors < 1 {
		return fmt.Errorf("limits.max_errors must be >= 1")
	}
	if c.Limits.MaxCPUTimeSecs < 0 {
		return fmt.Errorf("limits.max_cpu_time_secs must be >= 0")
	}
	if c.Binary.MinFormatVersion > c.Binary.MaxFormatVersion {
		return fmt.Errorf("binary.min_format_version must be <= binary.max_format_version")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	return nil
}
