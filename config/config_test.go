package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.Dispatch.MaxQueueSize)
	assert.Equal(t, 300, cfg.Dispatch.TaskTimeoutSeconds)
	assert.Equal(t, 3, cfg.Dispatch.MaxRetries)
	assert.Equal(t, StrategyIntelligent, cfg.Dispatch.Strategy)
	assert.Equal(t, 300, cfg.Dispatch.CleanupIntervalSeconds)
	assert.Equal(t, 30, cfg.Health.CheckIntervalSeconds)
	assert.Equal(t, 10000, cfg.Router.QueueCapacity)
	assert.Equal(t, 2.0, cfg.Health.EvictionFactor)
}

func TestConfig_DurationHelpers(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 300*time.Second, cfg.TaskTimeout())
	assert.Equal(t, 300*time.Second, cfg.CleanupInterval())
	assert.Equal(t, time.Hour, cfg.Retention())
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval())
	assert.Equal(t, 10*time.Second, cfg.ProbeTimeout())
	assert.Equal(t, 30*time.Second, cfg.ShutdownDrain())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults valid", mutate: func(*Config) {}, wantErr: false},
		{name: "empty name", mutate: func(c *Config) { c.Name = "" }, wantErr: true},
		{name: "zero queue capacity", mutate: func(c *Config) { c.Router.QueueCapacity = 0 }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Router.WorkersPerQueue = 0 }, wantErr: true},
		{name: "zero max queue size", mutate: func(c *Config) { c.Dispatch.MaxQueueSize = 0 }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.Dispatch.MaxRetries = -1 }, wantErr: true},
		{name: "unknown strategy", mutate: func(c *Config) { c.Dispatch.Strategy = "psychic" }, wantErr: true},
		{name: "load balanced strategy", mutate: func(c *Config) { c.Dispatch.Strategy = StrategyLoadBalanced }, wantErr: false},
		{name: "zero health interval", mutate: func(c *Config) { c.Health.CheckIntervalSeconds = 0 }, wantErr: true},
		{name: "zero eviction factor", mutate: func(c *Config) { c.Health.EvictionFactor = 0 }, wantErr: true},
		{name: "unknown transport", mutate: func(c *Config) { c.Transport.Kind = "carrier-pigeon" }, wantErr: true},
		{name: "nats without url", mutate: func(c *Config) { c.Transport.Kind = "nats" }, wantErr: true},
		{
			name: "nats with url",
			mutate: func(c *Config) {
				c.Transport.Kind = "nats"
				c.Transport.NATSURL = "nats://localhost:4222"
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coordinator.yaml")

	yaml := `
name: test-coordinator
dispatch:
  max_queue_size: 50
  dispatch_strategy: load_balanced
health:
  health_check_interval_seconds: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-coordinator", cfg.Name)
	assert.Equal(t, 50, cfg.Dispatch.MaxQueueSize)
	assert.Equal(t, StrategyLoadBalanced, cfg.Dispatch.Strategy)
	assert.Equal(t, 5, cfg.Health.CheckIntervalSeconds)
	// Untouched fields keep their defaults
	assert.Equal(t, 3, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 10000, cfg.Router.QueueCapacity)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dispatch: ["), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(DefaultConfig())

	got := sc.Get()
	require.NotNil(t, got)
	assert.Equal(t, "coordinator", got.Name)

	updated := DefaultConfig()
	updated.Name = "replacement"
	require.NoError(t, sc.Update(updated))
	assert.Equal(t, "replacement", sc.Get().Name)

	// Invalid updates are rejected and leave the config untouched
	bad := DefaultConfig()
	bad.Dispatch.MaxQueueSize = -1
	assert.Error(t, sc.Update(bad))
	assert.Equal(t, "replacement", sc.Get().Name)

	assert.Error(t, sc.Update(nil))
}
