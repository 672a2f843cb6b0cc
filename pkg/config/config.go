// Package config loads and validates the daemon configuration. All
// values have working defaults; a config file only has to name what it
// overrides. The parsed Config is passed to constructors explicitly;
// there is no global cache.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aitkn/ai-tab-manager-sub001/pkg/feedback"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/store"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/tracker"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/trust"
	"github.com/aitkn/ai-tab-manager-sub001/pkg/voter"
)

// Config is the root daemon configuration.
type Config struct {
	Tracker  tracker.Config  `yaml:"tracker"`
	Trust    trust.Config    `yaml:"trust"`
	Voter    voter.Config    `yaml:"voter"`
	Feedback feedback.Config `yaml:"feedback"`
	Store    store.Config    `yaml:"store"`
	API      APIConfig       `yaml:"api"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Snapshot SnapshotConfig  `yaml:"snapshot"`
}

// APIConfig configures the HTTP API server.
type APIConfig struct {
	// Port the API listens on. Default: 8080.
	Port int `yaml:"port"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Port the /metrics server listens on. Default: 9090.
	Port int `yaml:"port"`
}

// SnapshotConfig configures scheduled trust-weight persistence.
type SnapshotConfig struct {
	// Schedule is a cron expression. Default: "@every 15m".
	Schedule string `yaml:"schedule"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Tracker:  tracker.DefaultConfig(),
		Trust:    trust.DefaultConfig(),
		Voter:    voter.DefaultConfig(),
		Feedback: feedback.DefaultConfig(),
		Store:    store.DefaultConfig(),
		API:      APIConfig{Port: 8080},
		Metrics:  MetricsConfig{Port: 9090},
		Snapshot: SnapshotConfig{Schedule: "@every 15m"},
	}
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse unmarshals YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api port %d out of range", c.API.Port)
	}
	if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics port %d out of range", c.Metrics.Port)
	}
	if c.Metrics.Port == c.API.Port {
		return fmt.Errorf("metrics port %d collides with the api port", c.Metrics.Port)
	}
	if c.Snapshot.Schedule == "" {
		return fmt.Errorf("snapshot schedule must not be empty")
	}

	if err := store.ValidateConfig(c.Store); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if c.Tracker.MinWeight >= c.Tracker.MaxWeight {
		return fmt.Errorf("tracker min_weight %.2f must be below max_weight %.2f",
			c.Tracker.MinWeight, c.Tracker.MaxWeight)
	}
	return nil
}
