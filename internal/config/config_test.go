package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("YAGI_ENV", "production")
	t.Setenv("OPT_WORKER_COUNT", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 3, cfg.Optimization.WorkerCount)
	assert.EqualValues(t, 42, cfg.Optimization.Seed)
	assert.Equal(t, 20, cfg.Optimization.Population)
	assert.Equal(t, 10, cfg.Optimization.GridResolution)
	assert.Equal(t, 10*time.Minute, cfg.Optimization.CacheTTL)
	assert.Empty(t, cfg.Database.Path)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadDevelopmentDebug(t *testing.T) {
	t.Setenv("YAGI_ENV", "development")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Positive(t, cfg.Optimization.WorkerCount)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }},
		{"no workers", func(c *Config) { c.Optimization.WorkerCount = 0 }},
		{"negative iterations", func(c *Config) { c.Optimization.MaxIterations = -1 }},
		{"empty population", func(c *Config) { c.Optimization.Population = 0 }},
		{"coarse grid", func(c *Config) { c.Optimization.GridResolution = 1 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.HTTP.Port = 8080
			cfg.Optimization.WorkerCount = 1
			cfg.Optimization.Population = 20
			cfg.Optimization.GridResolution = 10
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
