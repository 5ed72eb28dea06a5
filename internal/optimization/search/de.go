package search

import (
	"context"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/yagiopt/internal/optimization"
)

const (
	deMaxGenerations = 1000
	deCrossover      = 0.7
	deDitherLow      = 0.5
	deDitherHigh     = 1.0
	deTolerance      = 0.01
)

// DifferentialEvolution is the best/1/bin scheme with a Latin hypercube
// initial population, a dithered mutation factor and a final simplex
// polish of the best member. Trial vectors of a generation are evaluated
// together, so the result for a seed does not depend on Workers.
type DifferentialEvolution struct {
	// Population is the population size per dimension.
	Population int
	logger     *zap.Logger
}

func (s *DifferentialEvolution) Name() string { return optimization.DifferentialEvolution.String() }

// Minimize evolves the population until the spread of its energies falls
// below the tolerance or Problem.MaxIterations generations have run.
func (s *DifferentialEvolution) Minimize(ctx context.Context, p optimization.Problem) (*optimization.OptimizationResult, error) {
	if err := p.Validate(); err != nil {
		return nil, optimization.WrapError(err, s.Name(), "validate")
	}
	e := newEvaluator(ctx, s.Name(), p)
	rng := rand.New(rand.NewSource(p.RandomSeed))
	dim := p.Dim()

	size := s.Population
	if size <= 0 {
		size = defaultPopulation
	}
	np := max(size*dim, 5)
	maxGen := p.MaxIterations
	if maxGen <= 0 {
		maxGen = deMaxGenerations
	}

	pop := latinHypercube(rng, np, dim)
	energies, err := e.evalBatch(unitToParams(e, pop), p.Workers)
	if err != nil {
		return e.result(0, false, "")
	}

	gen := 0
	converged := false
	for gen < maxGen {
		if deConverged(energies) {
			converged = true
			break
		}
		gen++

		best := argmin(energies)
		f := deDitherLow + rng.Float64()*(deDitherHigh-deDitherLow)
		trials := make([][]float64, np)
		for i := range pop {
			r0, r1 := pickTwo(rng, np, i)
			jr := rng.Intn(dim)
			trial := append([]float64(nil), pop[i]...)
			for j := 0; j < dim; j++ {
				if j == jr || rng.Float64() < deCrossover {
					trial[j] = pop[best][j] + f*(pop[r0][j]-pop[r1][j])
				}
			}
			for j, v := range trial {
				if v < 0 || v > 1 {
					trial[j] = rng.Float64()
				}
			}
			trials[i] = trial
		}

		scores, err := e.evalBatch(unitToParams(e, trials), p.Workers)
		if err != nil {
			return e.result(gen, false, "")
		}
		for i := range pop {
			if scores[i] <= energies[i] {
				pop[i] = trials[i]
				energies[i] = scores[i]
			}
		}

		if gen%10 == 0 {
			s.logger.Debug("generation",
				zap.Int("generation", gen),
				zap.Float64("best", energies[argmin(energies)]),
				zap.Int("evaluations", e.count()))
		}
	}

	best := argmin(energies)
	if _, err := nelderMead(e, e.fromUnit(pop[best]), 0); err != nil {
		e.fail(err)
		return e.result(gen, false, "")
	}

	msg := "maximum number of generations reached"
	if converged {
		msg = "population converged"
	}
	return e.result(gen, converged, msg)
}

// deConverged reports whether the population energies have collapsed:
// std <= tol * |mean|. Populations with non-finite members never converge.
func deConverged(energies []float64) bool {
	for _, v := range energies {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	mean, std := stat.MeanStdDev(energies, nil)
	return std <= deTolerance*math.Abs(mean)
}

// pickTwo draws two distinct indices below n, both different from skip.
func pickTwo(rng *rand.Rand, n, skip int) (int, int) {
	a := rng.Intn(n)
	for a == skip {
		a = rng.Intn(n)
	}
	b := rng.Intn(n)
	for b == skip || b == a {
		b = rng.Intn(n)
	}
	return a, b
}

func argmin(v []float64) int {
	best := 0
	for i := range v {
		if v[i] < v[best] {
			best = i
		}
	}
	return best
}

func unitToParams(e *evaluator, us [][]float64) [][]float64 {
	xs := make([][]float64, len(us))
	for i, u := range us {
		xs[i] = e.fromUnit(u)
	}
	return xs
}
