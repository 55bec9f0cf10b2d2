// Package config loads the rollstats supervisor configuration: the worker
// fleet, the stats root, and the ambient telemetry/docker/prometheus
// settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Setup selects a worker's repository-preparation path.
type Setup string

const (
	SetupNormal Setup = "normal"
	SetupRSL    Setup = "rsl"
)

// Kind selects how a worker's generator invocation is hosted.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// RunMode selects how the generator subprocess for a Local worker is
// executed.
type RunMode string

const (
	RunModeSubprocess RunMode = "subprocess"
	RunModeDocker     RunMode = "docker"
)

// Worker is one entry of the configured fleet.
type Worker struct {
	Name  string `yaml:"name"`
	Kind  Kind   `yaml:"kind"`
	Bench bool   `yaml:"bench"`
	Patch bool   `yaml:"patch"`

	// Local fields.
	BaseROMPath string  `yaml:"base_rom_path"`
	WSLDistro   string  `yaml:"wsl_distro,omitempty"`
	Cores       int8    `yaml:"cores"`
	Setup       Setup   `yaml:"setup,omitempty"`
	RunMode     RunMode `yaml:"run_mode,omitempty"`
	DockerImage string  `yaml:"docker_image,omitempty"`

	// Remote fields.
	TLS            bool     `yaml:"tls"`
	Hostname       string   `yaml:"hostname,omitempty"`
	Password       string   `yaml:"password,omitempty"`
	PriorityUsers  []string `yaml:"priority_users,omitempty"`
}

// TelemetryConfig configures logging and optional metrics export.
type TelemetryConfig struct {
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// PrometheusConfig configures an optional Prometheus query endpoint used by
// the `--trigger-query`/`--trigger-threshold` drain gating of the run
// subcommands (see internal/trigger).
type PrometheusConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config is the root configuration document.
type Config struct {
	StatsRoot  string           `yaml:"stats_root"`
	Workers    []Worker         `yaml:"workers"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// Default returns a configuration that is valid with no file on disk.
func Default() *Config {
	return &Config{
		StatsRoot: "./stats",
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Prometheus: PrometheusConfig{
			URL:     "http://localhost:9090",
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads path, falling back to Default() when the file does not exist.
// Environment variables are expanded in the raw document before parsing.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = "rollstats.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes cfg to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects configurations the supervisor cannot run.
func (c *Config) Validate() error {
	if c.StatsRoot == "" {
		return fmt.Errorf("stats_root is required")
	}
	if len(c.Workers) == 0 {
		return fmt.Errorf("at least one worker is required")
	}
	seen := make(map[string]bool, len(c.Workers))
	for _, w := range c.Workers {
		if w.Name == "" {
			return fmt.Errorf("worker name is required")
		}
		if seen[w.Name] {
			return fmt.Errorf("duplicate worker name: %s", w.Name)
		}
		seen[w.Name] = true
		if w.RunMode == RunModeDocker && w.DockerImage == "" {
			return fmt.Errorf("worker %s: docker_image is required when run_mode is docker", w.Name)
		}
		switch w.Kind {
		case KindLocal:
			if w.BaseROMPath == "" {
				return fmt.Errorf("worker %s: base_rom_path is required for local workers", w.Name)
			}
		case KindRemote:
			if w.Hostname == "" {
				return fmt.Errorf("worker %s: hostname is required for remote workers", w.Name)
			}
		default:
			return fmt.Errorf("worker %s: unknown kind %q", w.Name, w.Kind)
		}
	}
	return nil
}

// DaemonConfig is the rollstats-worker daemon's own configuration
// document: listen address, generator location, and the password it
// authenticates incoming supervisor connections against (§4.4).
type DaemonConfig struct {
	ListenAddr    string          `yaml:"listen_addr"`
	GeneratorPath string          `yaml:"generator_path"`
	Password      string          `yaml:"password"`
	Cores         int8            `yaml:"cores"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// DefaultDaemon returns a DaemonConfig that is valid with no file on disk.
func DefaultDaemon() *DaemonConfig {
	return &DaemonConfig{
		ListenAddr: ":8080",
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

// LoadDaemon reads path, falling back to DefaultDaemon() when the file
// does not exist.
func LoadDaemon(path string) (*DaemonConfig, error) {
	cfg := DefaultDaemon()

	if path == "" {
		path = "rollstats-worker.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func (c *DaemonConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects daemon configurations rollstats-worker cannot serve.
func (c *DaemonConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.GeneratorPath == "" {
		return fmt.Errorf("generator_path is required")
	}
	return nil
}

// InterpretCores resolves the signed cores field (§3: positive=absolute,
// zero=all parallelism, negative k=parallelism-k floored at 1) against the
// available hardware parallelism.
func InterpretCores(cores int8, availableParallelism int) int {
	switch {
	case cores > 0:
		return int(cores)
	case cores == 0:
		return availableParallelism
	default:
		n := availableParallelism + int(cores)
		if n < 1 {
			return 1
		}
		return n
	}
}
