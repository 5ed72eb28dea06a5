package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/copyleftdev/yagiopt/internal/config"
	"github.com/copyleftdev/yagiopt/internal/driver"
	yerrors "github.com/copyleftdev/yagiopt/internal/errors"
	"github.com/copyleftdev/yagiopt/internal/logging"
	"github.com/copyleftdev/yagiopt/internal/metrics"
	"github.com/copyleftdev/yagiopt/internal/nec"
	"github.com/copyleftdev/yagiopt/internal/server"
	"github.com/copyleftdev/yagiopt/internal/store"
	"github.com/copyleftdev/yagiopt/internal/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use standard logger as fallback if config loading fails
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize base logger
	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "yagiopt-server",
		"env":     cfg.Environment,
	})
	ctx = (&logging.CtxLogger{Logger: serviceLogger}).WithContext(ctx)

	// The optimization core logs through zap onto the same sink.
	zapLogger := logging.NewZapLogger(serviceLogger)
	defer zapLogger.Sync()

	shutdownTracing, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Output:      cfg.Tracing.Output,
	}, zapLogger)
	if err != nil {
		serviceLogger.Fatal("Failed to initialize tracing", map[string]interface{}{"error": err.Error()})
	}
	defer tracing.ShutdownWithTimeout(shutdownTracing, zapLogger)

	registry := prometheus.NewRegistry()
	collector, err := metrics.New(registry)
	if err != nil {
		serviceLogger.Fatal("Failed to register metrics", map[string]interface{}{"error": err.Error()})
	}

	sim := nec.NewCachedSimulator(nec.NewSolver(), cfg.Optimization.CacheTTL)
	if err := collector.RegisterCache(registry, sim.Stats); err != nil {
		serviceLogger.Fatal("Failed to register cache metrics", map[string]interface{}{"error": err.Error()})
	}

	drv, err := driver.New(driver.Options{
		Simulator:      sim,
		Logger:         zapLogger,
		Recorder:       collector,
		Population:     cfg.Optimization.Population,
		GridResolution: cfg.Optimization.GridResolution,
	})
	if err != nil {
		serviceLogger.Fatal("Failed to create optimization driver", map[string]interface{}{"error": err.Error()})
	}

	var runs *store.Store
	if cfg.Database.Path != "" {
		runs, err = store.Open(ctx, cfg.Database.Path)
		if err != nil {
			serviceLogger.Fatal("Failed to open run store", map[string]interface{}{"error": err.Error()})
		}
		defer runs.Close()
		serviceLogger.Info("Run history enabled", map[string]interface{}{"path": cfg.Database.Path})
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(serviceLogger))
	r.Use(yerrors.RecoveryMiddleware(serviceLogger))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Debug("Health check")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Handle("/metrics", collector.Handler())

	srv := server.NewServer(cfg, serviceLogger, drv, runs)
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		serviceLogger.Info("Starting server", map[string]interface{}{
			"address": httpServer.Addr,
			"workers": cfg.Optimization.WorkerCount,
		})

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serviceLogger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	serviceLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	// Running optimizations are canceled and their runs saved before the
	// store closes.
	if err := srv.Close(); err != nil {
		serviceLogger.Error("error closing server resources", map[string]interface{}{"error": err.Error()})
	}

	zapLogger.Info("server exited properly", zap.Int("cached_simulations", sim.Len()))
}
