package search

import (
	"context"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"github.com/copyleftdev/yagiopt/internal/optimization"
)

const (
	bhHops        = 10
	bhStepSize    = 0.015
	bhTemperature = 2.0
)

// BasinHopping alternates random displacements with simplex descents and
// accepts new minima with the Metropolis criterion.
type BasinHopping struct {
	// StepSize is the maximum displacement per coordinate in parameter
	// units. Zero selects 0.015.
	StepSize float64
	// Temperature of the acceptance test. Zero selects 2.
	Temperature float64
	logger      *zap.Logger
}

func (s *BasinHopping) Name() string { return optimization.BasinHopping.String() }

// Minimize descends from the initial guess and then performs
// Problem.MaxIterations hops (10 by default).
func (s *BasinHopping) Minimize(ctx context.Context, p optimization.Problem) (*optimization.OptimizationResult, error) {
	if err := p.Validate(); err != nil {
		return nil, optimization.WrapError(err, s.Name(), "validate")
	}
	e := newEvaluator(ctx, s.Name(), p)
	rng := rand.New(rand.NewSource(p.RandomSeed))

	step := s.StepSize
	if step <= 0 {
		step = bhStepSize
	}
	temp := s.Temperature
	if temp <= 0 {
		temp = bhTemperature
	}
	hops := p.MaxIterations
	if hops <= 0 {
		hops = bhHops
	}

	cur, err := nelderMead(e, p.Start(), 0)
	if err != nil {
		e.fail(err)
		return e.result(0, false, "")
	}

	accepted := 0
	for hop := 1; hop <= hops; hop++ {
		x := append([]float64(nil), cur.X...)
		for i := range x {
			x[i] += (2*rng.Float64() - 1) * step
		}
		p.Clip(x)

		trial, err := nelderMead(e, x, 0)
		if err != nil {
			e.fail(err)
			return e.result(hop, false, "")
		}

		if metropolis(rng, cur.F, trial.F, temp) {
			cur = trial
			accepted++
		}
		s.logger.Debug("hop",
			zap.Int("hop", hop),
			zap.Float64("trial", trial.F),
			zap.Float64("current", cur.F),
			zap.Int("accepted", accepted))
	}
	return e.result(hops, true, "requested number of hops completed")
}

// metropolis accepts improvements always and worse points with probability
// exp(-(next-cur)/T). A finite point always replaces an infinite one.
func metropolis(rng *rand.Rand, cur, next, temp float64) bool {
	if next < cur || math.IsInf(cur, 1) && !math.IsInf(next, 1) {
		return true
	}
	if math.IsInf(next, 1) {
		return false
	}
	return rng.Float64() < math.Exp(-(next-cur)/temp)
}
