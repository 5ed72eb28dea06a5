package search

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/copyleftdev/yagiopt/internal/optimization"
)

// SimplicialHomology samples the bounds with a low-discrepancy sequence,
// takes the samples that are no worse than any of their nearest neighbours
// as approximate local minimizers, and descends from each of them.
type SimplicialHomology struct {
	// SamplePoints is the number of samples added per iteration.
	SamplePoints int
	logger       *zap.Logger
}

func (s *SimplicialHomology) Name() string { return optimization.SimplicialHomology.String() }

// Minimize runs Problem.MaxIterations sampling rounds (one by default).
// Local descents are started only from minimizers not seen in an earlier
// round.
func (s *SimplicialHomology) Minimize(ctx context.Context, p optimization.Problem) (*optimization.OptimizationResult, error) {
	if err := p.Validate(); err != nil {
		return nil, optimization.WrapError(err, s.Name(), "validate")
	}
	e := newEvaluator(ctx, s.Name(), p)
	dim := p.Dim()
	n := s.SamplePoints
	if n <= 0 {
		n = defaultSamplePoints
	}
	rounds := p.MaxIterations
	if rounds <= 0 {
		rounds = 1
	}

	var units [][]float64
	var vals []float64
	explored := map[string]bool{}
	descents := 0
	for round := 1; round <= rounds; round++ {
		batch := make([][]float64, n)
		for i := range batch {
			batch[i] = halton(len(units)+i+1, dim)
		}
		v, err := e.evalBatch(unitToParams(e, batch), p.Workers)
		if err != nil {
			return e.result(round, false, "")
		}
		units = append(units, batch...)
		vals = append(vals, v...)

		for _, idx := range minimizerPool(units, vals, 2*dim) {
			key := pointKey(units[idx])
			if explored[key] {
				continue
			}
			explored[key] = true
			if _, err := nelderMead(e, e.fromUnit(units[idx]), 0); err != nil {
				e.fail(err)
				return e.result(round, false, "")
			}
			descents++
		}
		s.logger.Debug("sampling round",
			zap.Int("round", round),
			zap.Int("samples", len(units)),
			zap.Int("descents", descents))
	}
	return e.result(rounds, true, "sampling rounds completed")
}

// minimizerPool returns the indices of finite samples whose value does not
// exceed that of any of their k nearest neighbours, best first.
func minimizerPool(units [][]float64, vals []float64, k int) []int {
	k = min(k, len(units)-1)
	var pool []int
	for i := range units {
		if math.IsInf(vals[i], 0) || math.IsNaN(vals[i]) {
			continue
		}
		if isLocalMin(units, vals, i, k) {
			pool = append(pool, i)
		}
	}
	sort.SliceStable(pool, func(a, b int) bool { return vals[pool[a]] < vals[pool[b]] })
	return pool
}

func isLocalMin(units [][]float64, vals []float64, i, k int) bool {
	type neighbour struct {
		idx int
		d   float64
	}
	nb := make([]neighbour, 0, len(units)-1)
	for j := range units {
		if j != i {
			nb = append(nb, neighbour{j, distance2(units[i], units[j])})
		}
	}
	sort.SliceStable(nb, func(a, b int) bool { return nb[a].d < nb[b].d })
	for _, n := range nb[:k] {
		if vals[n.idx] < vals[i] {
			return false
		}
	}
	return true
}
