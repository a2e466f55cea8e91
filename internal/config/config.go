// Package config provides configuration management for patchbay.
//
// Config file locations (priority order):
//  1. $PATCHBAY_CONFIG
//  2. ./patchbay.yaml
//  3. $XDG_CONFIG_HOME/patchbay/config.yaml
//  4. ~/.config/patchbay/config.yaml
//  5. /etc/patchbay/config.yaml
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"patchbay/internal/domain"
)

const (
	DefaultBackend         = "alsa"
	DefaultClientName      = "patchbay"
	DefaultQueueCapacity   = 1024
	DefaultProcessInterval = 250 * time.Millisecond
	DefaultAttachTimeout   = 5 * time.Second
	DefaultDetachTimeout   = 5 * time.Second
	DefaultHTTPAddr        = ":8642"
	DefaultDatabasePath    = "./patchbay.db"
	DefaultRedisChannel    = "patchbay:deltas"
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		// No config found - return defaults
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}

	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Sequencer.Backend == "" {
		c.Sequencer.Backend = DefaultBackend
	}
	if c.Sequencer.ClientName == "" {
		c.Sequencer.ClientName = DefaultClientName
	}
	if c.Driver.QueueCapacity <= 0 {
		c.Driver.QueueCapacity = DefaultQueueCapacity
	}
	if c.Driver.ProcessInterval <= 0 {
		c.Driver.ProcessInterval = Duration(DefaultProcessInterval)
	}
	if c.Driver.AttachTimeout <= 0 {
		c.Driver.AttachTimeout = Duration(DefaultAttachTimeout)
	}
	if c.Driver.DetachTimeout <= 0 {
		c.Driver.DetachTimeout = Duration(DefaultDetachTimeout)
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = DefaultRedisChannel
	}
}

// Validate checks values that defaults cannot repair
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.IgnoredPorts(); err != nil {
		errs = append(errs, err)
	}
	if c.Sequencer.Launch && len(c.Sequencer.LaunchCommand) == 0 {
		errs = append(errs, errors.New("sequencer.launch is set but sequencer.launch_command is empty"))
	}
	if c.Log.Verbosity < 0 {
		errs = append(errs, fmt.Errorf("log.verbosity must not be negative, got %d", c.Log.Verbosity))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// IgnoredPorts parses ignore.ports
func (c *Config) IgnoredPorts() ([]domain.Address, error) {
	addrs := make([]domain.Address, 0, len(c.Ignore.Ports))
	for _, s := range c.Ignore.Ports {
		a, err := domain.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("ignore.ports: %w", err)
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	summary := fmt.Sprintf("Backend: %s (client %q)\n", c.Sequencer.Backend, c.Sequencer.ClientName)
	summary += fmt.Sprintf("Queue: %d events, process every %s\n",
		c.Driver.QueueCapacity, c.Driver.ProcessInterval.Duration())
	summary += fmt.Sprintf("Ignoring %d client patterns, %d ports", len(c.Ignore.Clients), len(c.Ignore.Ports))
	return summary
}
