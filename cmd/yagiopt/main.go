// Command yagiopt optimizes a 3-element Yagi described by a .ygi design
// file and prints the performance of the best geometry found.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	"github.com/copyleftdev/yagiopt/internal/driver"
	"github.com/copyleftdev/yagiopt/internal/logging"
	"github.com/copyleftdev/yagiopt/internal/nec"
	"github.com/copyleftdev/yagiopt/internal/objective"
	"github.com/copyleftdev/yagiopt/internal/optimization"
	"github.com/copyleftdev/yagiopt/internal/report"
	"github.com/copyleftdev/yagiopt/internal/store"
)

type options struct {
	design     string
	algorithm  string
	folded     bool
	foldedSet  bool
	seed       int64
	workers    int
	maxIter    int
	grid       int
	population int
	reportPath string
	savePath   string
	dbPath     string
	logLevel   string
	cacheTTL   time.Duration
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := pflag.NewFlagSet("yagiopt", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.design, "design", "d", "", "design file (.ygi); the built-in 2 m design when empty")
	fs.StringVarP(&opts.algorithm, "algorithm", "a", "", "search algorithm, overrides the design file")
	fs.BoolVar(&opts.folded, "folded", false, "use a folded dipole driven element")
	fs.Int64Var(&opts.seed, "seed", 42, "random seed")
	fs.IntVarP(&opts.workers, "workers", "w", runtime.NumCPU(), "parallel objective evaluations")
	fs.IntVar(&opts.maxIter, "max-iter", 0, "iteration budget, 0 for the algorithm default")
	fs.IntVar(&opts.grid, "grid", 10, "grid search points per dimension")
	fs.IntVar(&opts.population, "population", 20, "differential evolution population multiplier")
	fs.StringVarP(&opts.reportPath, "report", "r", "", "write an HTML report to this file")
	fs.StringVar(&opts.savePath, "save", "", "save the effective design to this .ygi file")
	fs.StringVar(&opts.dbPath, "db", "", "record the run in this sqlite database")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.DurationVar(&opts.cacheTTL, "cache-ttl", 10*time.Minute, "lifetime of cached simulations")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: yagiopt [flags]\n\nAlgorithms:\n")
		for _, k := range optimization.Algorithms() {
			fmt.Fprintf(stderr, "  %s\n", k)
		}
		fmt.Fprintf(stderr, "\nFlags:\n%s", fs.FlagUsages())
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.foldedSet = fs.Changed("folded")
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.workers < 1 {
		return nil, fmt.Errorf("--workers must be positive, got %d", opts.workers)
	}
	if opts.maxIter < 0 {
		return nil, fmt.Errorf("--max-iter must not be negative, got %d", opts.maxIter)
	}
	if opts.grid < 2 {
		return nil, fmt.Errorf("--grid must be at least 2, got %d", opts.grid)
	}
	if opts.population < 1 {
		return nil, fmt.Errorf("--population must be positive, got %d", opts.population)
	}
	return opts, nil
}

// loadDesign reads the design file, if any, and applies the flag overrides.
func loadDesign(opts *options) (antenna.Design, error) {
	design := antenna.DefaultDesign()
	if opts.design != "" {
		if err := antenna.LoadDesignFile(opts.design, &design); err != nil {
			return design, err
		}
	}
	if opts.algorithm != "" {
		kind, err := optimization.ParseAlgorithm(opts.algorithm)
		if err != nil {
			return design, err
		}
		design.Algorithm = kind
	}
	if opts.foldedSet {
		design.FoldedDipole = opts.folded
	}
	return design, design.Validate()
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	base, err := logging.NewLogger(&logging.Config{Level: opts.logLevel, Format: "text", Output: "stderr"})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	logger := logging.NewZapLogger(base)
	defer logger.Sync()

	design, err := loadDesign(opts)
	if err != nil {
		logger.Error("invalid design", zap.String("file", opts.design), zap.Error(err))
		return 1
	}
	if opts.savePath != "" {
		if err := antenna.SaveDesignFile(opts.savePath, design); err != nil {
			logger.Error("failed to save design", zap.String("file", opts.savePath), zap.Error(err))
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := nec.NewCachedSimulator(nec.NewSolver(), opts.cacheTTL)
	drv, err := driver.New(driver.Options{
		Simulator:      sim,
		Logger:         logger,
		Population:     opts.population,
		GridResolution: opts.grid,
	})
	if err != nil {
		logger.Error("failed to create driver", zap.Error(err))
		return 1
	}

	req := driver.RequestFromDesign(design)
	req.Seed = opts.seed
	req.Workers = opts.workers
	req.MaxIterations = opts.maxIter
	req.Progress = objective.LogSink{Logger: logger}

	runResult, runErr := drv.Optimize(ctx, req)
	var perf *driver.Performance
	if runErr == nil {
		perf, err = drv.Evaluate(ctx, runResult.Best, req.Element, design.PlotSweep(), req.SystemImpedance)
		if err != nil {
			logger.Warn("performance report failed", zap.Error(err))
		}
	}
	hits, misses := sim.Stats()
	logger.Debug("simulation cache", zap.Int64("hits", hits), zap.Int64("misses", misses))

	rep := report.New(runResult, perf)
	var summary bytes.Buffer
	if runErr == nil {
		if err := report.WriteSummary(io.MultiWriter(stdout, &summary), rep); err != nil {
			logger.Error("failed to write summary", zap.Error(err))
		}
	}

	if opts.dbPath != "" {
		saveRun(opts.dbPath, design.Algorithm.String(), runResult, runErr, summary.String(), logger)
	}

	if runErr != nil {
		logger.Error("optimization failed", zap.Error(runErr))
		return 1
	}

	if opts.reportPath != "" {
		if err := writeReport(opts.reportPath, rep); err != nil {
			logger.Error("failed to write report", zap.String("file", opts.reportPath), zap.Error(err))
			return 1
		}
		logger.Info("report written", zap.String("file", opts.reportPath))
	}
	return 0
}

func writeReport(path string, rep *report.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.RenderHTML(f, rep); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func saveRun(path, algorithm string, run *driver.Run, runErr error, summary string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runs, err := store.Open(ctx, path)
	if err != nil {
		logger.Error("failed to open run store", zap.String("path", path), zap.Error(err))
		return
	}
	defer runs.Close()

	status := driver.StatusCompleted
	switch {
	case optimization.IsCanceled(runErr):
		status = driver.StatusCanceled
	case runErr != nil:
		status = driver.StatusFailed
	}
	rec := store.NewRecord(uuid.NewString(), algorithm, status, run, runErr)
	rec.Summary = summary
	if err := runs.Save(ctx, rec); err != nil {
		logger.Error("failed to record run", zap.Error(err))
	}
}
