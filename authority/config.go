// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the authority daemon configuration. Zero values take the
// defaults applied by Normalize.
type Config struct {
	// ListenAddress is the host:port the HTTP and websocket server
	// binds to.
	ListenAddress string `yaml:"listen_address"`

	// DatabasePath is the SQLite file holding persisted sessions.
	// Empty disables persistence (sessions live only in memory).
	DatabasePath string `yaml:"database_path"`

	// DefaultApplyDelayMs is the apply delay assigned to newly created
	// sessions. Non-negative.
	DefaultApplyDelayMs int `yaml:"default_apply_delay_ms"`

	// SampleInterval is how often the CPU sampler takes a load
	// reading.
	SampleInterval time.Duration `yaml:"sample_interval"`

	// SampleWindow is how many recent samples are retained and served.
	SampleWindow int `yaml:"sample_window"`

	// LoadWarningThreshold is the load1 value above which samples
	// carry a warning string.
	LoadWarningThreshold float64 `yaml:"load_warning_threshold"`
}

// LoadConfig reads a YAML config file and applies defaults. A missing
// path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	var config Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("authority: reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("authority: parsing config %s: %w", path, err)
		}
	}
	if err := config.Normalize(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Normalize applies defaults and validates the result.
func (c *Config) Normalize() error {
	if c.ListenAddress == "" {
		c.ListenAddress = ":7350"
	}
	if c.SampleInterval == 0 {
		c.SampleInterval = 5 * time.Second
	}
	if c.SampleWindow == 0 {
		c.SampleWindow = 60
	}
	if c.LoadWarningThreshold == 0 {
		c.LoadWarningThreshold = 4.0
	}
	if c.DefaultApplyDelayMs < 0 {
		return fmt.Errorf("authority: default_apply_delay_ms must be non-negative, got %d", c.DefaultApplyDelayMs)
	}
	if c.SampleInterval < 0 {
		return fmt.Errorf("authority: sample_interval must be non-negative, got %s", c.SampleInterval)
	}
	return nil
}
