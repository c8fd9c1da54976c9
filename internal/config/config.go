// Package config provides configuration loading for the flare server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults for the server and for JVM attach requests.
const (
	// DefaultBindAddr is the address the protocol server listens on.
	DefaultBindAddr = "0.0.0.0:3344"

	// DefaultHistoryDir is the directory holding historical sample files.
	DefaultHistoryDir = "flare-samples"

	// DefaultSampleIntervalMs is the attach_jvm sampling interval when the
	// request does not carry one.
	DefaultSampleIntervalMs = 20

	// DefaultSampleDurationSec is the attach_jvm sampling duration when the
	// request does not carry one. Zero means unbounded.
	DefaultSampleDurationSec = 0
)

// Config holds the flare server configuration.
type Config struct {
	// BindAddr is the listen address for the WebSocket protocol server.
	BindAddr string `yaml:"bind_addr"`

	// HistoryDir is the root directory for historical sample files. Live
	// sessions persist their sample streams under this directory.
	HistoryDir string `yaml:"history_dir"`

	// Attach holds defaults applied to attach_jvm requests.
	Attach AttachConfig `yaml:"attach"`
}

// AttachConfig holds defaults for attach_jvm requests.
type AttachConfig struct {
	SampleIntervalMs  int64 `yaml:"sample_interval_ms"`
	SampleDurationSec int64 `yaml:"sample_duration_sec"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		BindAddr:   DefaultBindAddr,
		HistoryDir: DefaultHistoryDir,
		Attach: AttachConfig{
			SampleIntervalMs:  DefaultSampleIntervalMs,
			SampleDurationSec: DefaultSampleDurationSec,
		},
	}
}

// Load reads the configuration from a YAML file, applying defaults for
// missing fields and environment overrides on top. A missing file is not an
// error; defaults plus environment overrides are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides applies FLARE_* environment variables on top of the
// loaded configuration.
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("FLARE_BIND_ADDR"); addr != "" {
		c.BindAddr = addr
	}
	if dir := os.Getenv("FLARE_HISTORY_DIR"); dir != "" {
		c.HistoryDir = dir
	}
}

// Validate checks the configuration for obviously broken values.
func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("bind_addr cannot be empty")
	}
	if c.HistoryDir == "" {
		return fmt.Errorf("history_dir cannot be empty")
	}
	if c.Attach.SampleIntervalMs <= 0 {
		return fmt.Errorf("attach.sample_interval_ms must be positive, got %d", c.Attach.SampleIntervalMs)
	}
	if c.Attach.SampleDurationSec < 0 {
		return fmt.Errorf("attach.sample_duration_sec cannot be negative, got %d", c.Attach.SampleDurationSec)
	}
	return nil
}
