// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the kernel
// service.
//
// Configuration is loaded from a single YAML file specified by the
// POSKERNEL_CONFIG environment variable or a --config flag. There are
// no fallbacks or automatic discovery, and environment variables do
// not override file values. Every field has a default, so an empty
// file (or no file at all, via Default) yields a working development
// configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration. Durations are YAML strings in
// Go duration syntax ("15m", "24h"); Durations parses them.
type Config struct {
	// SocketPath is the Unix socket the service listens on.
	SocketPath string `yaml:"socket_path"`

	// MaxSessions caps concurrently live sessions. Session creation
	// beyond the cap is rejected, not queued.
	MaxSessions int `yaml:"max_sessions"`

	// MaxConnections caps concurrently serviced socket connections.
	// Connections beyond the cap wait for a slot.
	MaxConnections int `yaml:"max_connections"`

	// IdleTimeout is how long a session may sit without activity
	// before it expires.
	IdleTimeout string `yaml:"idle_timeout"`

	// Retention is how long expired and closed session records are
	// kept for inspection before the sweeper evicts them.
	Retention string `yaml:"retention"`

	// SweepInterval is how often the background sweeper runs.
	SweepInterval string `yaml:"sweep_interval"`

	// ShutdownGrace is how long shutdown waits for in-flight
	// connections to drain before giving up.
	ShutdownGrace string `yaml:"shutdown_grace"`

	// JournalPath is the SQLite file for the audit journal. Empty
	// disables journaling.
	JournalPath string `yaml:"journal_path"`

	// Currencies maps ISO-style currency codes to their number of
	// decimal places. Codes not listed here are still accepted and
	// fall back to two decimal places.
	Currencies map[string]int `yaml:"currencies"`
}

// Durations is the parsed form of the Config duration strings.
type Durations struct {
	IdleTimeout   time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
	ShutdownGrace time.Duration
}

// Default returns the default configuration: a development setup with
// common currencies and no journal.
func Default() *Config {
	return &Config{
		SocketPath:     "/run/poskernel/kernel.sock",
		MaxSessions:    100,
		MaxConnections: 64,
		IdleTimeout:    "15m",
		Retention:      "24h",
		SweepInterval:  "1m",
		ShutdownGrace:  "5s",
		Currencies: map[string]int{
			"SGD": 2,
			"USD": 2,
			"EUR": 2,
			"JPY": 0,
		},
	}
}

// Load loads configuration from the path in the POSKERNEL_CONFIG
// environment variable. Fails if the variable is not set.
func Load() (*Config, error) {
	path := os.Getenv("POSKERNEL_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("POSKERNEL_CONFIG environment variable not set; " +
			"set it to the path of your poskernel.yaml config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file, merging it over
// the defaults, and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

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

// Validate checks field values and duration syntax.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path must not be empty")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions)
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	}
	if len(c.Currencies) == 0 {
		return fmt.Errorf("currencies must list at least one currency")
	}
	for code, places := range c.Currencies {
		if code == "" {
			return fmt.Errorf("currencies contains an empty code")
		}
		if places < 0 || places > 6 {
			return fmt.Errorf("currency %s: decimal places must be 0-6, got %d", code, places)
		}
	}

	durations, err := c.Durations()
	if err != nil {
		return err
	}
	if durations.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if durations.Retention < 0 {
		return fmt.Errorf("retention must not be negative")
	}
	if durations.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if durations.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdown_grace must be positive")
	}
	return nil
}

// Durations parses the duration strings.
func (c *Config) Durations() (Durations, error) {
	var parsed Durations
	var err error

	if parsed.IdleTimeout, err = time.ParseDuration(c.IdleTimeout); err != nil {
		return Durations{}, fmt.Errorf("idle_timeout: %w", err)
	}
	if parsed.Retention, err = time.ParseDuration(c.Retention); err != nil {
		return Durations{}, fmt.Errorf("retention: %w", err)
	}
	if parsed.SweepInterval, err = time.ParseDuration(c.SweepInterval); err != nil {
		return Durations{}, fmt.Errorf("sweep_interval: %w", err)
	}
	if parsed.ShutdownGrace, err = time.ParseDuration(c.ShutdownGrace); err != nil {
		return Durations{}, fmt.Errorf("shutdown_grace: %w", err)
	}
	return parsed, nil
}
