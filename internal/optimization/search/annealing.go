package search

import (
	"context"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"github.com/copyleftdev/yagiopt/internal/optimization"
)

const (
	daMaxIter       = 1000
	daInitialTemp   = 5230.0
	daRestartRatio  = 2e-5
	daVisit         = 2.62
	daAccept        = -5.0
	daTailLimit     = 1e8
	daMinVisitBound = 1e-10
)

// DualAnnealing is generalized simulated annealing: a distorted Cauchy-Lorentz
// visiting distribution, a generalized Metropolis acceptance test and a
// simplex descent whenever the chain finds a new best point.
type DualAnnealing struct {
	logger *zap.Logger
}

func (s *DualAnnealing) Name() string { return optimization.DualAnnealing.String() }

// annealer holds the state of one run.
type annealer struct {
	e      *evaluator
	rng    *rand.Rand
	lo, hi []float64

	cur     []float64
	curF    float64
	best    []float64
	bestF   float64
	visitor visitor
}

// Minimize runs Problem.MaxIterations annealing steps (1000 by default)
// from a random point of the bounds, restarting when the temperature
// collapses.
func (s *DualAnnealing) Minimize(ctx context.Context, p optimization.Problem) (*optimization.OptimizationResult, error) {
	if err := p.Validate(); err != nil {
		return nil, optimization.WrapError(err, s.Name(), "validate")
	}
	e := newEvaluator(ctx, s.Name(), p)
	a := &annealer{
		e:       e,
		rng:     rand.New(rand.NewSource(p.RandomSeed)),
		lo:      make([]float64, p.Dim()),
		hi:      make([]float64, p.Dim()),
		bestF:   math.Inf(1),
		visitor: newVisitor(daVisit),
	}
	for i, b := range p.Bounds {
		a.lo[i], a.hi[i] = b[0], b[1]
	}
	maxIter := p.MaxIterations
	if maxIter <= 0 {
		maxIter = daMaxIter
	}

	if err := a.reset(); err != nil {
		return e.result(0, false, "")
	}

	t1 := math.Exp((daVisit-1)*math.Log(2)) - 1
	restart := daInitialTemp * daRestartRatio
	iteration := 0
	restarts := 0
	for iteration < maxIter {
		for i := 0; iteration < maxIter; i++ {
			t2 := math.Exp((daVisit-1)*math.Log(float64(i)+2)) - 1
			temp := daInitialTemp * t1 / t2
			if temp < restart {
				restarts++
				s.logger.Debug("temperature restart", zap.Int("iteration", iteration))
				if err := a.reset(); err != nil {
					return e.result(iteration, false, "")
				}
				break
			}
			if err := a.chain(i, temp); err != nil {
				return e.result(iteration, false, "")
			}
			iteration++
		}
	}

	s.logger.Debug("annealing finished",
		zap.Int("iterations", iteration),
		zap.Int("restarts", restarts),
		zap.Float64("best", a.bestF))
	return e.result(iteration, true, "maximum number of iterations reached")
}

// reset moves the chain to a fresh random point.
func (a *annealer) reset() error {
	x := make([]float64, len(a.lo))
	for i := range x {
		x[i] = a.lo[i] + a.rng.Float64()*(a.hi[i]-a.lo[i])
	}
	f, err := a.e.eval(x)
	if err != nil {
		return err
	}
	a.cur, a.curF = x, f
	if f < a.bestF {
		a.best, a.bestF = append([]float64(nil), x...), f
	}
	return nil
}

// chain performs one Markov chain of 2*dim visits at temperature temp,
// followed by a local search when the best point improved.
func (a *annealer) chain(step int, temp float64) error {
	dim := len(a.lo)
	tstep := temp / float64(step+1)
	improved := false

	for j := 0; j < 2*dim; j++ {
		x := a.visit(j, temp)
		f, err := a.e.eval(x)
		if err != nil {
			return err
		}
		if f < a.curF {
			a.cur, a.curF = x, f
			if f < a.bestF {
				a.best, a.bestF = append([]float64(nil), x...), f
				improved = true
			}
			continue
		}
		if a.accept(f, tstep) {
			a.cur, a.curF = x, f
		}
	}

	switch {
	case improved:
		return a.localSearch(a.best)
	case !math.IsInf(a.bestF, 0) && !math.IsInf(a.curF, 0):
		k := 100.0 * float64(dim)
		if a.rng.Float64() < math.Exp(k*(a.bestF-a.curF)/tstep) {
			return a.localSearch(a.cur)
		}
	}
	return nil
}

func (a *annealer) localSearch(from []float64) error {
	lr, err := nelderMead(a.e, from, 0)
	if err != nil {
		return err
	}
	if lr.F < a.bestF {
		a.best, a.bestF = append([]float64(nil), lr.X...), lr.F
		a.cur, a.curF = append([]float64(nil), lr.X...), lr.F
	}
	return nil
}

// accept is the generalized Metropolis test with acceptance parameter qa.
func (a *annealer) accept(f, tstep float64) bool {
	if math.IsInf(f, 1) {
		return false
	}
	if math.IsInf(a.curF, 1) {
		return true
	}
	pqv := 1 - (1-daAccept)*(f-a.curF)/tstep
	if pqv <= 0 {
		return false
	}
	return a.rng.Float64() <= math.Exp(math.Log(pqv)/(1-daAccept))
}

// visit draws the next candidate. The first dim visits of a chain move every
// coordinate, the rest move a single one. Coordinates leaving the bounds
// wrap around.
func (a *annealer) visit(step int, temp float64) []float64 {
	dim := len(a.lo)
	x := append([]float64(nil), a.cur...)
	if step < dim {
		for i := range x {
			x[i] += a.tail(a.visitor.draw(a.rng, temp))
			x[i] = a.wrap(i, x[i])
		}
		return x
	}
	i := step - dim
	x[i] = a.wrap(i, x[i]+a.tail(a.visitor.draw(a.rng, temp)))
	return x
}

func (a *annealer) tail(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > daTailLimit:
		return a.rng.Float64() * daTailLimit
	case v < -daTailLimit:
		return -a.rng.Float64() * daTailLimit
	}
	return v
}

func (a *annealer) wrap(i int, v float64) float64 {
	span := a.hi[i] - a.lo[i]
	if span <= 0 {
		return a.lo[i]
	}
	b := math.Mod(v-a.lo[i], span) + span
	v = math.Mod(b, span) + a.lo[i]
	if math.Abs(v-a.lo[i]) < daMinVisitBound {
		v += daMinVisitBound
	}
	return v
}

// visitor samples the distorted Cauchy-Lorentz distribution of parameter qv.
type visitor struct {
	qv          float64
	factor4Base float64
	factor5     float64
	factor6     float64
	power       float64
}

func newVisitor(qv float64) visitor {
	v := visitor{qv: qv}
	factor2 := math.Exp((4 - qv) * math.Log(qv-1))
	factor3 := math.Exp((2 - qv) * math.Log(2) / (qv - 1))
	v.factor4Base = math.Sqrt(math.Pi) * factor2 / (factor3 * (3 - qv))
	v.factor5 = 1/(qv-1) - 0.5
	d1 := 2 - v.factor5
	lg, _ := math.Lgamma(d1)
	v.factor6 = math.Pi * (1 - v.factor5) / math.Sin(math.Pi*(1-v.factor5)) / math.Exp(lg)
	v.power = (qv - 1) / (3 - qv)
	return v
}

func (v visitor) draw(rng *rand.Rand, temp float64) float64 {
	factor1 := math.Exp(math.Log(temp) / (v.qv - 1))
	factor4 := v.factor4Base * factor1
	sigma := math.Exp(-(v.qv - 1) * math.Log(v.factor6/factor4) / (3 - v.qv))
	x := sigma * rng.NormFloat64()
	y := rng.NormFloat64()
	den := math.Exp(v.power * math.Log(math.Abs(y)))
	return x / den
}
