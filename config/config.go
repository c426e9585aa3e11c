// Package config loads the host configuration for the mcphost binary.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes yaml values like "500ms" or "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the yaml host configuration. Missing fields fall back to the
// defaults applied in Load.
type Config struct {
	// SidecarExecutable is the helper binary launched for each project.
	SidecarExecutable string `yaml:"sidecarExecutable"`
	// ZombieSignature overrides the command-line signature used to
	// recognize leftover sidecars. Defaults to the executable path.
	ZombieSignature string `yaml:"zombieSignature"`
	// Enabled gates the whole sidecar subsystem.
	Enabled *bool `yaml:"enabled"`

	// ListenAddr is where the host serves its control and metrics endpoints.
	ListenAddr string `yaml:"listenAddr"`
	// AuditDBPath is the sqlite file for the lifecycle audit log. Empty
	// disables auditing.
	AuditDBPath string `yaml:"auditDbPath"`

	MaxRetries       int      `yaml:"maxRetries"`
	MaxStartupChecks int      `yaml:"maxStartupChecks"`
	StartupDelay     Duration `yaml:"startupDelay"`
	RetryDelay       Duration `yaml:"retryDelay"`
	StopGrace        Duration `yaml:"stopGrace"`

	LogLevel string `yaml:"logLevel"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a yaml config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8085"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.MaxStartupChecks <= 0 {
		c.MaxStartupChecks = 40
	}
	if c.StartupDelay <= 0 {
		c.StartupDelay = Duration(2 * time.Second)
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = Duration(2 * time.Second)
	}
	if c.StopGrace <= 0 {
		c.StopGrace = Duration(5 * time.Second)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logLevel %q", c.LogLevel)
	}
	return nil
}

// IsEnabled reports the feature gate, defaulting to enabled.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
