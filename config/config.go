// Package config defines the coordinator's configuration surface: typed
// option structs with defaults, validation, YAML file loading, and a
// thread-safe wrapper for configurations that may be swapped at runtime.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/coordinator/errors"
)

// Dispatch strategy constants
const (
	StrategyLoadBalanced = "load_balanced" // pick the candidate with the lowest load score
	StrategyIntelligent  = "intelligent"   // weighted capability/history/load scoring
)

// Config represents the complete coordinator configuration
type Config struct {
	Name      string          `yaml:"name"`
	LogLevel  string          `yaml:"log_level"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Router    RouterConfig    `yaml:"router"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Health    HealthConfig    `yaml:"health"`
	Transport TransportConfig `yaml:"transport"`
}

// MetricsConfig defines the metrics HTTP endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// RouterConfig defines message router tuning
type RouterConfig struct {
	QueueCapacity   int `yaml:"queue_capacity"`    // per-priority bucket capacity
	WorkersPerQueue int `yaml:"workers_per_queue"` // workers draining each bucket
}

// DispatchConfig defines task dispatcher tuning
type DispatchConfig struct {
	MaxQueueSize           int    `yaml:"max_queue_size"`
	TaskTimeoutSeconds     int    `yaml:"task_timeout_seconds"`
	MaxRetries             int    `yaml:"max_retries"`
	Strategy               string `yaml:"dispatch_strategy"`
	CleanupIntervalSeconds int    `yaml:"cleanup_interval_seconds"`
	RetentionSeconds       int    `yaml:"retention_seconds"`
	HistorySize            int    `yaml:"history_size"` // purged-task LRU capacity
}

// HealthConfig defines health monitor tuning
type HealthConfig struct {
	CheckIntervalSeconds int     `yaml:"health_check_interval_seconds"`
	ProbeTimeoutSeconds  int     `yaml:"probe_timeout_seconds"`
	EvictionFactor       float64 `yaml:"eviction_factor"` // evict after factor × heartbeat interval
}

// TransportConfig selects the outbound message sender
type TransportConfig struct {
	Kind                 string `yaml:"kind"` // "inproc" or "nats"
	NATSURL              string `yaml:"nats_url"`
	SubjectPrefix        string `yaml:"subject_prefix"`
	CircuitBreaker       bool   `yaml:"circuit_breaker"`
	ShutdownDrainSeconds int    `yaml:"shutdown_drain_seconds"`
}

// DefaultConfig returns a configuration with all documented defaults applied
func DefaultConfig() *Config {
	return &Config{
		Name:     "coordinator",
		LogLevel: "info",
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Router: RouterConfig{
			QueueCapacity:   10000,
			WorkersPerQueue: 1,
		},
		Dispatch: DispatchConfig{
			MaxQueueSize:           1000,
			TaskTimeoutSeconds:     300,
			MaxRetries:             3,
			Strategy:               StrategyIntelligent,
			CleanupIntervalSeconds: 300,
			RetentionSeconds:       3600,
			HistorySize:            1024,
		},
		Health: HealthConfig{
			CheckIntervalSeconds: 30,
			ProbeTimeoutSeconds:  10,
			EvictionFactor:       2.0,
		},
		Transport: TransportConfig{
			Kind:                 "inproc",
			SubjectPrefix:        "coordinator.svc",
			ShutdownDrainSeconds: 30,
		},
	}
}

// Load reads a YAML configuration file and merges it over the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "Load", "file read")
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "yaml parse")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "name check")
	}
	if c.Router.QueueCapacity <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("router queue_capacity must be positive, got %d", c.Router.QueueCapacity),
			"Config", "Validate", "router check")
	}
	if c.Router.WorkersPerQueue <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("router workers_per_queue must be positive, got %d", c.Router.WorkersPerQueue),
			"Config", "Validate", "router check")
	}
	if c.Dispatch.MaxQueueSize <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("dispatch max_queue_size must be positive, got %d", c.Dispatch.MaxQueueSize),
			"Config", "Validate", "dispatch check")
	}
	if c.Dispatch.MaxRetries < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("dispatch max_retries cannot be negative, got %d", c.Dispatch.MaxRetries),
			"Config", "Validate", "dispatch check")
	}
	switch c.Dispatch.Strategy {
	case StrategyLoadBalanced, StrategyIntelligent:
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown dispatch_strategy %q", c.Dispatch.Strategy),
			"Config", "Validate", "dispatch check")
	}
	if c.Health.CheckIntervalSeconds <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("health_check_interval_seconds must be positive, got %d", c.Health.CheckIntervalSeconds),
			"Config", "Validate", "health check")
	}
	if c.Health.EvictionFactor <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("eviction_factor must be positive, got %f", c.Health.EvictionFactor),
			"Config", "Validate", "health check")
	}
	switch c.Transport.Kind {
	case "inproc", "nats":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown transport kind %q", c.Transport.Kind),
			"Config", "Validate", "transport check")
	}
	if c.Transport.Kind == "nats" && c.Transport.NATSURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats_url check")
	}
	return nil
}

// TaskTimeout returns the task execution timeout as a duration
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Dispatch.TaskTimeoutSeconds) * time.Second
}

// CleanupInterval returns the terminal-task purge interval as a duration
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Dispatch.CleanupIntervalSeconds) * time.Second
}

// Retention returns how long terminal tasks stay in the active index
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Dispatch.RetentionSeconds) * time.Second
}

// HealthCheckInterval returns the health probe interval as a duration
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.Health.CheckIntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-probe timeout as a duration
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Health.ProbeTimeoutSeconds) * time.Second
}

// ShutdownDrain returns the graceful shutdown drain window
func (c *Config) ShutdownDrain() time.Duration {
	return time.Duration(c.Transport.ShutdownDrainSeconds) * time.Second
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &SafeConfig{config: cfg}
}

// Get returns the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	copied := *sc.config
	return &copied
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SafeConfig", "Update", "nil config check")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
