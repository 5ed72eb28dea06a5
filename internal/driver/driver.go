// Package driver runs one optimization of a Yagi geometry: it derives the
// search bounds, builds the objective, runs the selected strategy and
// reports the performance of the winning geometry.
package driver

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	"github.com/copyleftdev/yagiopt/internal/constraints"
	yerrors "github.com/copyleftdev/yagiopt/internal/errors"
	"github.com/copyleftdev/yagiopt/internal/nec"
	"github.com/copyleftdev/yagiopt/internal/objective"
	"github.com/copyleftdev/yagiopt/internal/optimization"
	"github.com/copyleftdev/yagiopt/internal/optimization/search"
	"github.com/copyleftdev/yagiopt/internal/tracing"
)

// Run statuses reported to the Recorder.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// StrategyFactory builds the strategy for an algorithm kind.
type StrategyFactory func(kind optimization.AlgorithmKind, opts search.Options) (optimization.Strategy, error)

// Recorder observes evaluations and whole runs. *metrics.Collector
// implements it.
type Recorder interface {
	objective.Recorder
	RunStarted()
	RunFinished(algorithm, status string, d time.Duration, best float64)
}

// Options configure a Driver.
type Options struct {
	Simulator nec.Simulator
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Recorder is optional.
	Recorder Recorder
	// Strategies defaults to search.New.
	Strategies StrategyFactory
	// Population and GridResolution are passed to the strategies. Zero
	// selects their defaults.
	Population     int
	GridResolution int
}

// Driver runs optimizations. It holds no per-run state and may be shared.
type Driver struct {
	sim        nec.Simulator
	logger     *zap.Logger
	recorder   Recorder
	strategies StrategyFactory
	opts       search.Options
	tracer     trace.Tracer
}

// New returns a driver. A simulator is required.
func New(opts Options) (*Driver, error) {
	if opts.Simulator == nil {
		return nil, yerrors.New(yerrors.KindConfig, "simulator is required").WithComponent("driver")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Strategies == nil {
		opts.Strategies = search.New
	}
	logger := opts.Logger.With(zap.String("component", "driver"))
	return &Driver{
		sim:        opts.Simulator,
		logger:     logger,
		recorder:   opts.Recorder,
		strategies: opts.Strategies,
		opts: search.Options{
			Population:     opts.Population,
			GridResolution: opts.GridResolution,
			Logger:         opts.Logger,
		},
		tracer: tracing.Tracer("github.com/copyleftdev/yagiopt/internal/driver"),
	}, nil
}

// Request describes one optimization run.
type Request struct {
	Element         antenna.ElementConfig      `json:"element"`
	Sweep           antenna.FrequencySpec      `json:"sweep"`
	Weights         objective.Weights          `json:"weights"`
	SystemImpedance float64                    `json:"system_impedance"`
	Algorithm       optimization.AlgorithmKind `json:"algorithm"`
	// Initial defaults to antenna.InitialGuess at the design frequency.
	Initial       *antenna.GeometryParams `json:"initial,omitempty"`
	Seed          int64                   `json:"seed"`
	Workers       int                     `json:"workers"`
	MaxIterations int                     `json:"max_iterations"`

	// Progress is optional.
	Progress objective.ProgressSink `json:"-"`
}

// RequestFromDesign converts a design record into a run request.
func RequestFromDesign(d antenna.Design) Request {
	return Request{
		Element:         d.ElementConfig(),
		Sweep:           d.OptimizationSweep(),
		Weights:         objective.Weights{VSWR: d.VSWRWeight, Gain: d.GainWeight, FrontToBack: d.FrontToBackWeight},
		SystemImpedance: d.SystemImpedance,
		Algorithm:       d.Algorithm,
		Seed:            42,
	}
}

// InitialGuess returns the starting geometry of r.
func (r Request) InitialGuess() antenna.GeometryParams {
	if r.Initial != nil {
		return *r.Initial
	}
	return antenna.InitialGuess(r.Element.Wavelength())
}

func (r Request) validate() error {
	if !r.Algorithm.Valid() {
		return yerrors.Errorf(yerrors.KindConfig, "unknown algorithm index %d", int(r.Algorithm)).
			WithComponent("driver")
	}
	if err := r.Element.Validate(); err != nil {
		return err
	}
	if err := r.Sweep.Validate(); err != nil {
		return err
	}
	if !(r.SystemImpedance > 0) {
		return yerrors.New(yerrors.KindConfig, "system impedance must be positive").
			WithComponent("driver").WithParam("z0", r.SystemImpedance)
	}
	return nil
}

// Run is the outcome of one optimization.
type Run struct {
	Algorithm optimization.AlgorithmKind `json:"algorithm"`
	Best      antenna.GeometryParams     `json:"best"`
	Score     float64                    `json:"score"`
	Bounds    constraints.Bounds         `json:"bounds"`
	// Trace holds every simulated candidate of this run.
	Trace       *objective.Trace `json:"-"`
	Evaluations int              `json:"evaluations"`
	Simulated   int              `json:"simulated"`
	Converged   bool             `json:"converged"`
	Message     string           `json:"message"`
	Warnings    []string         `json:"warnings,omitempty"`
	Started     time.Time        `json:"started"`
	Duration    time.Duration    `json:"duration"`
}

// Optimize derives the bounds and runs the requested strategy. Infeasible
// bounds are reported before any strategy is created. Fatal geometry
// errors raised during the search abort the run; their kind is preserved
// through the returned error.
func (d *Driver) Optimize(ctx context.Context, req Request) (*Run, error) {
	ctx, span := d.tracer.Start(ctx, "driver.Optimize", trace.WithAttributes(
		attribute.String("algorithm", req.Algorithm.String()),
		attribute.Float64("design_frequency_hz", req.Element.DesignFrequency),
		attribute.Bool("folded", req.Element.Folded()),
	))
	defer span.End()

	fail := func(err error, op string) (*Run, error) {
		err = optimization.WrapError(err, req.Algorithm.String(), op)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := req.validate(); err != nil {
		d.logger.Error("invalid request", zap.Error(err))
		return fail(err, "validate")
	}

	initial := req.InitialGuess()
	bounds, err := constraints.Derive(initial, req.Element.WireRadius(), req.Element.FoldedSpacing)
	if err != nil {
		d.logger.Error("search bounds are infeasible",
			zap.String("algorithm", req.Algorithm.String()),
			zap.Stringer("initial", initial),
			zap.Error(err))
		return fail(err, "derive_bounds")
	}
	for _, w := range bounds.Warnings {
		d.logger.Warn(w, zap.Bool("degraded", bounds.Degraded))
	}

	run := &Run{
		Algorithm: req.Algorithm,
		Bounds:    bounds,
		Trace:     objective.NewTrace(),
		Warnings:  append([]string(nil), bounds.Warnings...),
		Started:   time.Now(),
	}

	var rec objective.Recorder
	if d.recorder != nil {
		rec = d.recorder
	}
	fn, err := objective.New(objective.Config{
		Simulator:       d.sim,
		Element:         req.Element,
		Sweep:           req.Sweep,
		Weights:         req.Weights,
		SystemImpedance: req.SystemImpedance,
		Trace:           run.Trace,
		Progress:        req.Progress,
		Logger:          d.logger,
		Recorder:        rec,
	})
	if err != nil {
		return fail(err, "objective")
	}

	strategy, err := d.strategies(req.Algorithm, d.opts)
	if err != nil {
		return fail(err, "strategy")
	}

	d.logger.Info("optimization started",
		zap.String("algorithm", strategy.Name()),
		zap.Stringer("start", bounds.Start),
		zap.Int("frequencies", len(req.Sweep.Frequencies())),
		zap.Int64("seed", req.Seed))
	if d.recorder != nil {
		d.recorder.RunStarted()
	}

	res, err := strategy.Minimize(ctx, optimization.Problem{
		Objective:     fn.Func(ctx),
		Bounds:        bounds.Pairs(),
		Initial:       bounds.Start.Vector(),
		MaxIterations: req.MaxIterations,
		RandomSeed:    req.Seed,
		Workers:       req.Workers,
	})
	run.Duration = time.Since(run.Started)
	run.Evaluations = fn.Calls()
	run.Simulated = fn.Iterations()
	span.SetAttributes(attribute.Int("evaluations", run.Evaluations))

	if err != nil {
		status := StatusFailed
		switch {
		case optimization.IsCanceled(err):
			status = StatusCanceled
			d.logger.Info("optimization canceled", zap.Int("evaluations", run.Evaluations))
		case yerrors.IsFatal(err):
			d.logger.Error("optimization aborted",
				zap.String("kind", yerrors.KindOf(err).String()),
				zap.Error(err))
		default:
			d.logger.Error("optimization failed", zap.Error(err))
		}
		if d.recorder != nil {
			d.recorder.RunFinished(req.Algorithm.String(), status, run.Duration, math.NaN())
		}
		return fail(err, "minimize")
	}

	run.Best = antenna.FromVector(res.BestSolution.Parameters)
	run.Score = res.BestSolution.Value
	run.Converged = res.Converged
	run.Message = res.Message
	if math.IsInf(run.Score, 1) {
		run.Warnings = append(run.Warnings, "no candidate inside the bounds could be simulated")
	}

	d.logger.Info("optimization finished",
		zap.String("algorithm", strategy.Name()),
		zap.Stringer("best", run.Best),
		zap.Float64("score", run.Score),
		zap.Int("evaluations", run.Evaluations),
		zap.Int("simulated", run.Simulated),
		zap.Duration("duration", run.Duration))
	if d.recorder != nil {
		d.recorder.RunFinished(req.Algorithm.String(), StatusCompleted, run.Duration, run.Score)
	}
	span.SetAttributes(attribute.Float64("score", run.Score))
	return run, nil
}
