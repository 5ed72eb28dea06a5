// Package objective scores candidate geometries. A score combines VSWR,
// forward gain and front-to-back ratio summed over a frequency sweep into
// one number to minimize.
package objective

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	yerrors "github.com/copyleftdev/yagiopt/internal/errors"
	"github.com/copyleftdev/yagiopt/internal/nec"
	"github.com/copyleftdev/yagiopt/internal/optimization"
)

// ReverseGainFloor is the reverse gain in dBi below which further back
// lobe suppression earns no credit.
const ReverseGainFloor = -30.0

// Weights scale the three terms of the score.
type Weights struct {
	VSWR        float64 `json:"vswr"`
	Gain        float64 `json:"gain"`
	FrontToBack float64 `json:"front_to_back"`
}

// Metrics are the per-sweep sums a score is computed from.
type Metrics struct {
	VSWRSum    float64 `json:"vswr_sum"`
	GainSum    float64 `json:"gain_sum"`
	RevGainSum float64 `json:"rev_gain_sum"`
}

// Accumulate sums a sweep. Each reverse gain contributes at least
// ReverseGainFloor.
func Accumulate(samples []FrequencySample) Metrics {
	var m Metrics
	for _, s := range samples {
		m.VSWRSum += s.VSWR
		m.GainSum += s.ForwardGain
		m.RevGainSum += math.Max(s.ReverseGain, ReverseGainFloor)
	}
	return m
}

// Combine is the score formula. Lower is better.
func Combine(w Weights, m Metrics) float64 {
	return w.VSWR*m.VSWRSum - w.Gain*m.GainSum + w.FrontToBack*(m.RevGainSum-m.GainSum)
}

// Outcome labels an evaluation for metrics.
type Outcome string

const (
	OutcomeScored           Outcome = "scored"
	OutcomeInvalid          Outcome = "invalid"
	OutcomeSimulationFailed Outcome = "simulation_failed"
	OutcomeFatal            Outcome = "fatal"
)

// Recorder receives one observation per evaluation.
type Recorder interface {
	ObserveEvaluation(outcome Outcome, d time.Duration)
}

// Config configures a Function.
type Config struct {
	Simulator       nec.Simulator
	Element         antenna.ElementConfig
	Sweep           antenna.FrequencySpec
	Weights         Weights
	SystemImpedance float64

	// Trace receives every simulated candidate. Nil allocates a new one.
	Trace *Trace
	// Progress is optional.
	Progress ProgressSink
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Recorder is optional.
	Recorder Recorder
}

// Function is the objective of one optimization run.
type Function struct {
	sim      nec.Simulator
	element  antenna.ElementConfig
	sweep    antenna.FrequencySpec
	weights  Weights
	z0       float64
	trace    *Trace
	progress ProgressSink
	logger   *zap.Logger
	recorder Recorder

	iterations atomic.Int64
	calls      atomic.Int64
}

// New validates cfg and returns the objective.
func New(cfg Config) (*Function, error) {
	if cfg.Simulator == nil {
		return nil, yerrors.New(yerrors.KindConfig, "simulator is required").WithComponent("objective")
	}
	if err := cfg.Element.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Sweep.Validate(); err != nil {
		return nil, err
	}
	if !(cfg.SystemImpedance > 0) {
		return nil, yerrors.New(yerrors.KindConfig, "system impedance must be positive").
			WithComponent("objective").WithParam("z0", cfg.SystemImpedance)
	}
	if cfg.Trace == nil {
		cfg.Trace = NewTrace()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Function{
		sim:      cfg.Simulator,
		element:  cfg.Element,
		sweep:    cfg.Sweep,
		weights:  cfg.Weights,
		z0:       cfg.SystemImpedance,
		trace:    cfg.Trace,
		progress: cfg.Progress,
		logger:   cfg.Logger.With(zap.String("component", "objective")),
		recorder: cfg.Recorder,
	}, nil
}

func (f *Function) Trace() *Trace { return f.trace }

// Iterations is the number of candidates that were simulated and scored.
func (f *Function) Iterations() int { return int(f.iterations.Load()) }

// Calls is the number of Score calls, rejected candidates included.
func (f *Function) Calls() int { return int(f.calls.Load()) }

// Valid reports whether p can be simulated: every value finite, no length
// at or below the wire diameter, d1 above the diameter and d2 clear of the
// folded conductor.
func (f *Function) Valid(p antenna.GeometryParams) bool {
	if !p.Finite() {
		return false
	}
	dia := f.element.WireDiameter
	return p.L1 > dia && p.L2 > dia && p.L3 > dia &&
		p.D1 > dia &&
		p.D2 > f.element.FoldedSpacing+dia
}

// Score evaluates p. Invalid candidates and candidates the simulator
// cannot solve score +Inf with a nil error. The error is non-nil only for
// fatal geometry conditions, configuration errors and cancellation; the
// search must stop on it.
func (f *Function) Score(ctx context.Context, p antenna.GeometryParams) (float64, error) {
	start := time.Now()
	f.calls.Add(1)

	if !f.Valid(p) {
		f.logger.Debug("candidate out of range", zap.Stringer("params", p))
		f.record(OutcomeInvalid, start)
		return math.Inf(1), nil
	}

	samples, err := Sweep(ctx, f.sim, p, f.element, f.sweep, f.z0)
	if err != nil {
		if ctx.Err() != nil || optimization.IsCanceled(err) {
			return 0, err
		}
		kind := yerrors.KindOf(err)
		if kind.Fatal() || kind == yerrors.KindConfig {
			f.record(OutcomeFatal, start)
			return 0, err
		}
		f.logger.Debug("simulation failed", zap.Stringer("params", p), zap.Error(err))
		f.record(OutcomeSimulationFailed, start)
		return math.Inf(1), nil
	}

	score := Combine(f.weights, Accumulate(samples))
	iter := int(f.iterations.Add(1))
	f.trace.Append(Sample{Iteration: iter, Params: p, Score: score})

	if f.progress != nil && len(samples) > 0 {
		last := samples[len(samples)-1]
		f.progress.Observe(Progress{
			Iteration:   iter,
			ForwardGain: last.ForwardGain,
			ReverseGain: last.ReverseGain,
			VSWR:        last.VSWR,
			Score:       score,
			Params:      p,
		})
	}
	f.record(OutcomeScored, start)
	return score, nil
}

func (f *Function) record(o Outcome, start time.Time) {
	if f.recorder != nil {
		f.recorder.ObserveEvaluation(o, time.Since(start))
	}
}

// Func adapts the objective to the strategy contract. Vectors are in
// antenna.GeometryParams order; any other length is a config error that
// stops the search.
func (f *Function) Func(ctx context.Context) optimization.ObjectiveFunction {
	return func(x []float64) (float64, error) {
		p, err := antenna.ParamsFromVector(x)
		if err != nil {
			return 0, err
		}
		return f.Score(ctx, p)
	}
}
