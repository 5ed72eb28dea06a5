package search

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/copyleftdev/yagiopt/internal/optimization"
)

// gridChunk is the number of grid points evaluated per batch.
const gridChunk = 512

// GridSearch evaluates every point of a regular grid over the bounds and
// polishes the best one with a simplex descent.
type GridSearch struct {
	// Resolution is the number of points per dimension, ends included.
	Resolution int
	logger     *zap.Logger
}

func (s *GridSearch) Name() string { return optimization.GridSearch.String() }

// Minimize scans Resolution^dim points. The scan result does not depend on
// evaluation order; ties go to the lowest grid index.
func (s *GridSearch) Minimize(ctx context.Context, p optimization.Problem) (*optimization.OptimizationResult, error) {
	if err := p.Validate(); err != nil {
		return nil, optimization.WrapError(err, s.Name(), "validate")
	}
	e := newEvaluator(ctx, s.Name(), p)
	ns := s.Resolution
	if ns < 2 {
		ns = defaultGridResolution
	}
	axes := gridAxes(p.Bounds, ns)
	total := int(math.Pow(float64(ns), float64(p.Dim())))

	bestIdx, bestVal := -1, math.Inf(1)
	for start := 0; start < total; start += gridChunk {
		end := min(start+gridChunk, total)
		points := make([][]float64, 0, end-start)
		for idx := start; idx < end; idx++ {
			points = append(points, gridPoint(axes, idx))
		}
		vals, err := e.evalBatch(points, p.Workers)
		if err != nil {
			return e.result(0, false, "")
		}
		for k, v := range vals {
			if bestIdx < 0 || v < bestVal {
				bestIdx, bestVal = start+k, v
			}
		}
	}
	s.logger.Debug("grid scanned",
		zap.Int("points", total),
		zap.Float64("best", bestVal))

	lr, err := nelderMead(e, gridPoint(axes, bestIdx), p.MaxIterations)
	if err != nil {
		e.fail(err)
		return e.result(1, false, "")
	}
	return e.result(1, lr.Converged, "grid scanned and polished")
}

// gridAxes returns ns evenly spaced values per dimension, both bounds
// included.
func gridAxes(bounds [][2]float64, ns int) [][]float64 {
	axes := make([][]float64, len(bounds))
	for i, b := range bounds {
		axes[i] = make([]float64, ns)
		for j := range axes[i] {
			axes[i][j] = b[0] + float64(j)*(b[1]-b[0])/float64(ns-1)
		}
	}
	return axes
}

// gridPoint decodes a mixed-radix index, last dimension fastest.
func gridPoint(axes [][]float64, idx int) []float64 {
	x := make([]float64, len(axes))
	for i := len(axes) - 1; i >= 0; i-- {
		n := len(axes[i])
		x[i] = axes[i][idx%n]
		idx /= n
	}
	return x
}
