package driver

import (
	"context"
	"math"
	"math/cmplx"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	yerrors "github.com/copyleftdev/yagiopt/internal/errors"
	"github.com/copyleftdev/yagiopt/internal/geometry"
	"github.com/copyleftdev/yagiopt/internal/nec"
	"github.com/copyleftdev/yagiopt/internal/objective"
	"github.com/copyleftdev/yagiopt/internal/optimization"
	"github.com/copyleftdev/yagiopt/internal/optimization/search"
)

// analyticSim scores a mesh with smooth closed forms of its dimensions so
// that the optimum is known and cheap to reach.
type analyticSim struct{}

type analyticResult struct {
	z        complex128
	fwd, rev float64
}

func (r analyticResult) Impedance() complex128 { return r.z }

func (r analyticResult) Gain(theta, phi float64) float64 {
	switch {
	case theta == 90 && phi == 0:
		return r.fwd
	case phi == 180:
		return r.rev
	}
	return r.fwd - 3 - math.Abs(90-theta)/30
}

func sq(v float64) float64 { return v * v }

func (analyticSim) Simulate(ctx context.Context, mesh *geometry.WireMesh, feed geometry.Feed, conductivity, frequency float64) (nec.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := mesh.Params
	detune := (frequency - 145e6) / 145e6
	return analyticResult{
		z:   complex(50+400*(p.L2-0.91)+500*detune, 600*(p.L2-0.91)),
		fwd: 8 - 40*sq(p.D2-0.40) - 30*sq(p.L3-0.92),
		rev: -22 + 60*sq(p.L1-1.02) + 60*sq(p.D1-0.24),
	}, nil
}

type spyFactory struct {
	calls int
}

func (s *spyFactory) New(kind optimization.AlgorithmKind, opts search.Options) (optimization.Strategy, error) {
	s.calls++
	return search.New(kind, opts)
}

type runRecorder struct {
	mu       sync.Mutex
	started  int
	statuses []string
	evals    int
}

func (r *runRecorder) ObserveEvaluation(objective.Outcome, time.Duration) {
	r.mu.Lock()
	r.evals++
	r.mu.Unlock()
}

func (r *runRecorder) RunStarted() { r.started++ }

func (r *runRecorder) RunFinished(_, status string, _ time.Duration, _ float64) {
	r.statuses = append(r.statuses, status)
}

func newDriver(t *testing.T, opts Options) *Driver {
	t.Helper()
	if opts.Simulator == nil {
		opts.Simulator = analyticSim{}
	}
	d, err := New(opts)
	require.NoError(t, err)
	return d
}

func defaultRequest(kind optimization.AlgorithmKind) Request {
	req := RequestFromDesign(antenna.DefaultDesign())
	req.Algorithm = kind
	return req
}

func TestOptimizeLocalDescent(t *testing.T) {
	rec := &runRecorder{}
	var progress []int
	d := newDriver(t, Options{Recorder: rec})
	req := defaultRequest(optimization.LocalDescent)
	req.Progress = objective.SinkFunc(func(p objective.Progress) { progress = append(progress, p.Iteration) })

	run, err := d.Optimize(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, run.Bounds.Contains(run.Best))
	assert.Equal(t, run.Simulated, run.Trace.Len())
	assert.Len(t, progress, run.Simulated)
	assert.Equal(t, rec.evals, run.Evaluations)

	best, ok := run.Trace.Best()
	require.True(t, ok)
	assert.Equal(t, run.Score, best.Score)

	start, err := objective.New(objective.Config{
		Simulator:       analyticSim{},
		Element:         req.Element,
		Sweep:           req.Sweep,
		Weights:         req.Weights,
		SystemImpedance: req.SystemImpedance,
	})
	require.NoError(t, err)
	initial, err := start.Score(context.Background(), run.Bounds.Start)
	require.NoError(t, err)
	assert.Less(t, run.Score, initial)

	assert.Equal(t, 1, rec.started)
	assert.Equal(t, []string{StatusCompleted}, rec.statuses)
}

func TestOptimizeInfeasibleBoundsSkipsStrategy(t *testing.T) {
	spy := &spyFactory{}
	core, logs := observer.New(zap.ErrorLevel)
	d := newDriver(t, Options{Strategies: spy.New, Logger: zap.New(core)})

	design := antenna.DefaultDesign()
	design.FoldedDipole = true
	design.FoldedSpacingIn = 0.05 / antenna.MetersPerInch
	// 1.5 * 0.184 * lambda <= 0.05 + 0.003175 once lambda < 0.193 m.
	design.DesignFrequencyMHz = 1600
	design.OptStartMHz, design.OptStopMHz = 1600, 1600
	req := RequestFromDesign(design)

	run, err := d.Optimize(context.Background(), req)
	require.Error(t, err)
	assert.Nil(t, run)
	assert.Equal(t, yerrors.KindInterference, yerrors.KindOf(err))
	assert.True(t, yerrors.IsFatal(err))
	assert.Zero(t, spy.calls, "no strategy may run on infeasible bounds")
	assert.Equal(t, 1, logs.FilterMessage("search bounds are infeasible").Len())
}

func TestOptimizeDegradedBoundsWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := newDriver(t, Options{Logger: zap.New(core)})

	design := antenna.DefaultDesign()
	design.FoldedDipole = true
	design.FoldedSpacingIn = 0.05 / antenna.MetersPerInch
	// 0.5 * d2 collides, 1.5 * d2 clears.
	design.DesignFrequencyMHz = 1000
	design.OptStartMHz, design.OptStopMHz = 1000, 1000
	req := RequestFromDesign(design)
	req.Algorithm = optimization.LocalDescent
	req.MaxIterations = 20

	run, err := d.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, run.Bounds.Degraded)
	assert.NotEmpty(t, run.Warnings)
	assert.GreaterOrEqual(t, logs.Len(), 1)
}

func TestOptimizeFatalGeometryAbortsRun(t *testing.T) {
	rec := &runRecorder{}
	d := newDriver(t, Options{Recorder: rec})

	req := defaultRequest(optimization.DifferentialEvolution)
	req.Element.FoldedSpacing = 0.005

	_, err := d.Optimize(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, yerrors.KindJunctionRatio, yerrors.KindOf(err))
	re, ok := optimization.IsRunError(err)
	require.True(t, ok)
	assert.Equal(t, "differential_evolution", re.Strategy)
	assert.Equal(t, []string{StatusFailed}, rec.statuses)
}

func TestOptimizeCanceled(t *testing.T) {
	rec := &runRecorder{}
	d := newDriver(t, Options{Recorder: rec})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Optimize(ctx, defaultRequest(optimization.BasinHopping))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{StatusCanceled}, rec.statuses)
}

func TestOptimizeRejectsBadRequest(t *testing.T) {
	spy := &spyFactory{}
	d := newDriver(t, Options{Strategies: spy.New})

	req := defaultRequest(optimization.AlgorithmKind(9))
	_, err := d.Optimize(context.Background(), req)
	assert.Equal(t, yerrors.KindConfig, yerrors.KindOf(err))

	req = defaultRequest(optimization.GridSearch)
	req.SystemImpedance = 0
	_, err = d.Optimize(context.Background(), req)
	assert.Equal(t, yerrors.KindConfig, yerrors.KindOf(err))
	assert.Zero(t, spy.calls)
}

func TestEachRunOwnsItsTrace(t *testing.T) {
	d := newDriver(t, Options{})
	req := defaultRequest(optimization.LocalDescent)
	req.MaxIterations = 15

	first, err := d.Optimize(context.Background(), req)
	require.NoError(t, err)
	second, err := d.Optimize(context.Background(), req)
	require.NoError(t, err)

	assert.NotSame(t, first.Trace, second.Trace)
	assert.Equal(t, first.Trace.Len(), second.Trace.Len())
	assert.Equal(t, 1, second.Trace.Samples()[0].Iteration)
}

// Differential evolution and an exhaustive grid must agree on the best
// score of the same objective.
func TestDifferentialEvolutionMatchesGridSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("grid search evaluates thousands of geometries")
	}
	d := newDriver(t, Options{GridResolution: 6})

	req := defaultRequest(optimization.DifferentialEvolution)
	req.Workers = 4
	de, err := d.Optimize(context.Background(), req)
	require.NoError(t, err)

	req.Algorithm = optimization.GridSearch
	grid, err := d.Optimize(context.Background(), req)
	require.NoError(t, err)

	assert.InDelta(t, grid.Score, de.Score, 0.05*math.Abs(grid.Score))
	assert.InDelta(t, grid.Best.L2, de.Best.L2, 0.01)
	assert.InDelta(t, grid.Best.D2, de.Best.D2, 0.02)
}

func TestEvaluate(t *testing.T) {
	d := newDriver(t, Options{})
	design := antenna.DefaultDesign()
	el := design.ElementConfig()
	p := antenna.InitialGuess(el.Wavelength())

	perf, err := d.Evaluate(context.Background(), p, el, design.PlotSweep(), design.SystemImpedance)
	require.NoError(t, err)

	assert.Len(t, perf.Azimuth, 72)
	assert.Len(t, perf.Elevation, 37)
	assert.Len(t, perf.Sweep, 31)
	assert.InDelta(t, 144.1e6, perf.Frequency, 1)
	assert.InDelta(t, perf.ForwardGain-perf.ReverseGain, perf.FrontToBack, 1e-12)
	assert.Equal(t, nec.Peak{Gain: perf.ForwardGain, Theta: 90, Phi: 0}, perf.Peak)
	assert.Equal(t, perf.ForwardGain, perf.Azimuth[0].Gain)
	assert.Equal(t, perf.ReverseGain, perf.Azimuth[36].Gain)

	z := complex(perf.Resistance, perf.Reactance)
	assert.False(t, cmplx.IsNaN(z))
	assert.InDelta(t, nec.VSWR(z, 50), perf.VSWR, 1e-12)
	assert.Positive(t, perf.Segments)
}

func TestEvaluateSkipsInvalidPlotRange(t *testing.T) {
	d := newDriver(t, Options{})
	el := antenna.DefaultDesign().ElementConfig()
	perf, err := d.Evaluate(context.Background(), antenna.InitialGuess(el.Wavelength()), el, antenna.FrequencySpec{}, 50)
	require.NoError(t, err)
	assert.Empty(t, perf.Sweep)
}

func TestEvaluateReturnsSimulationErrors(t *testing.T) {
	d := newDriver(t, Options{Simulator: failingSim{}})
	el := antenna.DefaultDesign().ElementConfig()
	_, err := d.Evaluate(context.Background(), antenna.InitialGuess(el.Wavelength()), el, antenna.FrequencySpec{}, 50)
	assert.Equal(t, yerrors.KindSimulation, yerrors.KindOf(err))
}

type failingSim struct{}

func (failingSim) Simulate(context.Context, *geometry.WireMesh, geometry.Feed, float64, float64) (nec.Result, error) {
	return nil, yerrors.New(yerrors.KindSimulation, "singular matrix")
}

func TestNewRequiresSimulator(t *testing.T) {
	_, err := New(Options{})
	assert.Equal(t, yerrors.KindConfig, yerrors.KindOf(err))
}
