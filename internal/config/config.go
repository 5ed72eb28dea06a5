package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/yagiopt/internal/logging"
)

type Config struct {
	Environment string `env:"YAGI_ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Database struct {
		// Path of the sqlite run history. Empty disables persistence.
		Path string `env:"DB_PATH"`
	}
	Optimization struct {
		WorkerCount    int           `env:"OPT_WORKER_COUNT"`
		Seed           int64         `env:"OPT_SEED" envDefault:"42"`
		MaxIterations  int           `env:"OPT_MAX_ITERATIONS" envDefault:"0"`
		Population     int           `env:"OPT_POPULATION" envDefault:"20"`
		GridResolution int           `env:"OPT_GRID_RESOLUTION" envDefault:"10"`
		CacheTTL       time.Duration `env:"OPT_CACHE_TTL" envDefault:"10m"`
	}
	Tracing struct {
		Enabled     bool   `env:"TRACING_ENABLED" envDefault:"false"`
		ServiceName string `env:"TRACING_SERVICE_NAME" envDefault:"yagiopt"`
		Output      string `env:"TRACING_OUTPUT" envDefault:"stdout"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.Optimization.WorkerCount == 0 {
		cfg.Optimization.WorkerCount = runtime.NumCPU()
	}

	if cfg.Environment == "development" && os.Getenv("LOG_LEVEL") == "" {
		cfg.Logging.Level = "debug"
	}

	if cfg.Database.Path != "" && cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values env.Parse cannot express as types.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.HTTP.Port)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		return fmt.Errorf("LOG_FORMAT: %w", err)
	}
	if c.Optimization.WorkerCount < 1 {
		return fmt.Errorf("OPT_WORKER_COUNT must be positive, got %d", c.Optimization.WorkerCount)
	}
	if c.Optimization.MaxIterations < 0 {
		return fmt.Errorf("OPT_MAX_ITERATIONS must not be negative, got %d", c.Optimization.MaxIterations)
	}
	if c.Optimization.Population < 1 {
		return fmt.Errorf("OPT_POPULATION must be positive, got %d", c.Optimization.Population)
	}
	if c.Optimization.GridResolution < 2 {
		return fmt.Errorf("OPT_GRID_RESOLUTION must be at least 2, got %d", c.Optimization.GridResolution)
	}
	return nil
}
