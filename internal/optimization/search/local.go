package search

import (
	"context"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/yagiopt/internal/optimization"
)

// localResult is the outcome of one simplex descent.
type localResult struct {
	X          []float64 // parameter space
	F          float64
	Iterations int
	Converged  bool
}

// abortRecorder stops optimize.Minimize as soon as the evaluator holds an
// objective error or the context is done.
type abortRecorder struct {
	e *evaluator
}

func (r abortRecorder) Init() error { return nil }

func (r abortRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.e.failed()
}

// simplexSize is the edge of the initial simplex in unit cube coordinates.
const simplexSize = 0.05

// nelderMead runs a bounded simplex descent from x0. The simplex lives in
// the unit cube. Vertices outside it are folded back in by reflection, so
// the exterior mirrors the box instead of repeating its faces. maxEvals
// counts every objective evaluation, the initial simplex included.
func nelderMead(e *evaluator, x0 []float64, maxEvals int) (localResult, error) {
	dim := e.dim()
	if maxEvals <= 0 {
		maxEvals = 200 * dim
	}

	verts := initialSimplex(e.toUnit(x0), simplexSize)
	vals := make([]float64, len(verts))
	for i, v := range verts {
		f, err := e.evalUnit(v)
		if err != nil {
			return localResult{}, err
		}
		vals[i] = f
	}

	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			v, err := e.evalUnit(fold(u))
			if err != nil {
				return math.Inf(1)
			}
			return v
		},
	}
	settings := &optimize.Settings{
		InitValues: &optimize.Location{F: vals[0]},
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-6,
			Relative:   1e-6,
			Iterations: 100,
		},
		FuncEvaluations: max(maxEvals-len(verts), 1),
		Recorder:        abortRecorder{e: e},
	}
	method := &optimize.NelderMead{
		InitialVertices: verts,
		InitialValues:   vals,
		Reflection:      1.0,
		Expansion:       2.0,
		Contraction:     0.5,
		Shrink:          0.5,
	}

	res, err := optimize.Minimize(problem, verts[0], settings, method)
	if ferr := e.failed(); ferr != nil {
		return localResult{}, ferr
	}
	if err != nil && res == nil {
		return localResult{}, err
	}
	out := localResult{
		X:          e.fromUnit(fold(res.X)),
		F:          res.F,
		Iterations: res.Stats.MajorIterations,
		Converged:  res.Status == optimize.FunctionConvergence,
	}
	if math.IsNaN(out.F) {
		out.F = math.Inf(1)
	}
	return out, nil
}

// initialSimplex returns u0 followed by one vertex per axis, stepped by
// size toward the inside of the unit cube.
func initialSimplex(u0 []float64, size float64) [][]float64 {
	verts := make([][]float64, len(u0)+1)
	verts[0] = append([]float64(nil), u0...)
	for i := range u0 {
		v := append([]float64(nil), u0...)
		if v[i]+size > 1 {
			v[i] -= size
		} else {
			v[i] += size
		}
		verts[i+1] = v
	}
	return verts
}

// fold reflects every coordinate of u into [0, 1].
func fold(u []float64) []float64 {
	out := make([]float64, len(u))
	for i, v := range u {
		switch {
		case math.IsNaN(v):
			v = 0.5
		case math.IsInf(v, 0):
			v = clamp01(v)
		default:
			v = math.Mod(math.Abs(v), 2)
			if v > 1 {
				v = 2 - v
			}
		}
		out[i] = v
	}
	return out
}

// LocalDescent is a bounded Nelder-Mead search from the initial guess.
type LocalDescent struct {
	logger *zap.Logger
}

func (s *LocalDescent) Name() string { return optimization.LocalDescent.String() }

// Minimize runs one simplex descent. Problem.MaxIterations caps the number
// of objective evaluations.
func (s *LocalDescent) Minimize(ctx context.Context, p optimization.Problem) (*optimization.OptimizationResult, error) {
	if err := p.Validate(); err != nil {
		return nil, optimization.WrapError(err, s.Name(), "validate")
	}
	e := newEvaluator(ctx, s.Name(), p)
	lr, err := nelderMead(e, p.Start(), p.MaxIterations)
	if err != nil {
		e.fail(err)
		return e.result(0, false, "")
	}
	s.logger.Debug("descent finished",
		zap.Int("iterations", lr.Iterations),
		zap.Float64("value", lr.F),
		zap.Bool("converged", lr.Converged))
	return e.result(lr.Iterations, lr.Converged, "simplex descent finished")
}
