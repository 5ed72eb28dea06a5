// Package search implements the global and local strategies that minimize
// an optimization.ObjectiveFunction over box bounds.
package search

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/yagiopt/internal/optimization"
)

// Options tune the strategies. Zero values select the defaults.
type Options struct {
	// Population is the differential evolution population size per
	// dimension.
	Population int
	// GridResolution is the number of grid points per dimension.
	GridResolution int
	// SamplePoints is the number of sampling points per simplicial
	// homology iteration.
	SamplePoints int
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

const (
	defaultPopulation     = 20
	defaultGridResolution = 10
	defaultSamplePoints   = 100
)

func (o Options) withDefaults() Options {
	if o.Population <= 0 {
		o.Population = defaultPopulation
	}
	if o.GridResolution < 2 {
		o.GridResolution = defaultGridResolution
	}
	if o.SamplePoints <= 0 {
		o.SamplePoints = defaultSamplePoints
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// New returns the strategy for kind.
func New(kind optimization.AlgorithmKind, opts Options) (optimization.Strategy, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With(zap.String("strategy", kind.String()))
	switch kind {
	case optimization.DifferentialEvolution:
		return &DifferentialEvolution{Population: opts.Population, logger: logger}, nil
	case optimization.BasinHopping:
		return &BasinHopping{logger: logger}, nil
	case optimization.DualAnnealing:
		return &DualAnnealing{logger: logger}, nil
	case optimization.LocalDescent:
		return &LocalDescent{logger: logger}, nil
	case optimization.DividingRectangles:
		return &DividingRectangles{logger: logger}, nil
	case optimization.SimplicialHomology:
		return &SimplicialHomology{SamplePoints: opts.SamplePoints, logger: logger}, nil
	case optimization.GridSearch:
		return &GridSearch{Resolution: opts.GridResolution, logger: logger}, nil
	default:
		return nil, optimization.NewErrorf("unknown algorithm %d", int(kind))
	}
}

// evaluator wraps the objective of one run. It clips every point into the
// bounds, counts evaluations, keeps the best point seen and remembers the
// first objective error.
type evaluator struct {
	ctx      context.Context
	problem  optimization.Problem
	strategy string
	lo, span []float64

	mu      sync.Mutex
	evals   int
	best    []float64
	bestVal float64
	err     error
}

func newEvaluator(ctx context.Context, strategy string, p optimization.Problem) *evaluator {
	e := &evaluator{
		ctx:      ctx,
		problem:  p,
		strategy: strategy,
		lo:       make([]float64, p.Dim()),
		span:     make([]float64, p.Dim()),
		bestVal:  math.Inf(1),
	}
	for i, b := range p.Bounds {
		e.lo[i] = b[0]
		e.span[i] = b[1] - b[0]
	}
	return e
}

func (e *evaluator) dim() int { return len(e.lo) }

// eval scores x in parameter space. NaN scores are treated as +Inf.
func (e *evaluator) eval(x []float64) (float64, error) {
	if err := e.failed(); err != nil {
		return 0, err
	}
	if err := e.ctx.Err(); err != nil {
		e.fail(err)
		return 0, err
	}

	xc := append([]float64(nil), x...)
	e.problem.Clip(xc)
	v, err := e.problem.Objective(xc)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.evals++
	if err != nil {
		if e.err == nil {
			e.err = err
		}
		return 0, err
	}
	if math.IsNaN(v) {
		v = math.Inf(1)
	}
	if e.best == nil || v < e.bestVal || (v == e.bestVal && lexLess(xc, e.best)) {
		e.best = xc
		e.bestVal = v
	}
	return v, nil
}

// evalUnit scores a point of the unit cube.
func (e *evaluator) evalUnit(u []float64) (float64, error) {
	return e.eval(e.fromUnit(u))
}

// evalBatch scores xs with up to workers concurrent evaluations. The
// returned values are in input order whatever the completion order.
func (e *evaluator) evalBatch(xs [][]float64, workers int) ([]float64, error) {
	vals := make([]float64, len(xs))
	if workers < 2 {
		for i, x := range xs {
			v, err := e.eval(x)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return vals, nil
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range xs {
		i := i
		g.Go(func() error {
			v, err := e.eval(xs[i])
			vals[i] = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vals, nil
}

func (e *evaluator) fail(err error) {
	e.mu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.mu.Unlock()
}

func (e *evaluator) failed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *evaluator) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evals
}

func (e *evaluator) bestPoint() ([]float64, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float64(nil), e.best...), e.bestVal
}

// result packages the best point seen. A recorded objective error wins
// over any partial result.
func (e *evaluator) result(iterations int, converged bool, msg string) (*optimization.OptimizationResult, error) {
	if err := e.failed(); err != nil {
		return nil, optimization.WrapError(err, e.strategy, "minimize")
	}
	best, val := e.bestPoint()
	if best == nil {
		return nil, optimization.NewError("no point was evaluated").WithStrategy(e.strategy).WithOperation("minimize")
	}
	return &optimization.OptimizationResult{
		BestSolution: &optimization.Solution{Parameters: best, Value: val},
		Evaluations:  e.count(),
		Iterations:   iterations,
		Converged:    converged,
		Message:      msg,
	}, nil
}

func (e *evaluator) toUnit(x []float64) []float64 {
	u := make([]float64, len(x))
	for i := range x {
		if e.span[i] > 0 {
			u[i] = (x[i] - e.lo[i]) / e.span[i]
		}
		u[i] = clamp01(u[i])
	}
	return u
}

func (e *evaluator) fromUnit(u []float64) []float64 {
	x := make([]float64, len(u))
	for i := range u {
		x[i] = e.lo[i] + clamp01(u[i])*e.span[i]
	}
	return x
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	return math.Max(0, math.Min(1, v))
}

func lexLess(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// latinHypercube returns n stratified points of the unit cube.
func latinHypercube(rng *rand.Rand, n, dim int) [][]float64 {
	samples := make([][]float64, n)
	for j := range samples {
		samples[j] = make([]float64, dim)
	}
	for i := 0; i < dim; i++ {
		strata := make([]float64, n)
		for j := range strata {
			strata[j] = (float64(j) + rng.Float64()) / float64(n)
		}
		rng.Shuffle(n, func(k, l int) {
			strata[k], strata[l] = strata[l], strata[k]
		})
		for j := range samples {
			samples[j][i] = strata[j]
		}
	}
	return samples
}

var primes = []int{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47, 53}

// halton returns the index-th point (from 1) of the Halton sequence.
func halton(index, dim int) []float64 {
	u := make([]float64, dim)
	for d := 0; d < dim; d++ {
		base := primes[d%len(primes)]
		f, r := 1.0, 0.0
		for i := index; i > 0; i /= base {
			f /= float64(base)
			r += f * float64(i%base)
		}
		u[d] = r
	}
	return u
}

func distance2(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// pointKey is a stable map key for a point.
func pointKey(x []float64) string {
	var b bytes.Buffer
	for _, v := range x {
		bits := math.Float64bits(v)
		for s := 0; s < 64; s += 8 {
			b.WriteByte(byte(bits >> s))
		}
	}
	return b.String()
}

