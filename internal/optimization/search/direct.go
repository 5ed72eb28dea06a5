package search

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/copyleftdev/yagiopt/internal/optimization"
)

const (
	directMaxIter      = 1000
	directFunPerDim    = 1000
	directEpsilon      = 1e-4
	directLenTolerance = 1e-6
)

// DividingRectangles is the locally biased DIRECT algorithm on the unit
// cube. Every iteration trisects the potentially optimal hyperrectangles,
// keeping one candidate per size class.
type DividingRectangles struct {
	logger *zap.Logger
}

func (s *DividingRectangles) Name() string { return optimization.DividingRectangles.String() }

// hyperrect is a box of the unit cube. Side i has length 3^-level[i].
type hyperrect struct {
	center []float64
	level  []int
	f      float64
}

func (r *hyperrect) minLevel() int {
	m := r.level[0]
	for _, l := range r.level[1:] {
		m = min(m, l)
	}
	return m
}

// size is the center-to-vertex distance. Levels are summed in sorted order
// so that boxes of the same shape compare equal.
func (r *hyperrect) size() float64 {
	ls := append([]int(nil), r.level...)
	sort.Ints(ls)
	s := 0.0
	for _, l := range ls {
		s += math.Pow(9, -float64(l))
	}
	return 0.5 * math.Sqrt(s)
}

// Minimize divides until Problem.MaxIterations iterations (1000 by default)
// or 1000 evaluations per dimension have been spent, or the best box has
// shrunk below the length tolerance.
func (s *DividingRectangles) Minimize(ctx context.Context, p optimization.Problem) (*optimization.OptimizationResult, error) {
	if err := p.Validate(); err != nil {
		return nil, optimization.WrapError(err, s.Name(), "validate")
	}
	e := newEvaluator(ctx, s.Name(), p)
	dim := p.Dim()
	maxIter := p.MaxIterations
	if maxIter <= 0 {
		maxIter = directMaxIter
	}
	maxFun := directFunPerDim * dim

	c0 := make([]float64, dim)
	for i := range c0 {
		c0[i] = 0.5
	}
	f0, err := e.evalUnit(c0)
	if err != nil {
		return e.result(0, false, "")
	}
	rects := []*hyperrect{{center: c0, level: make([]int, dim), f: f0}}

	iter := 0
	converged := false
	msg := "maximum number of iterations reached"
	for iter < maxIter {
		if e.count() >= maxFun {
			msg = "maximum number of evaluations reached"
			break
		}
		iter++
		for _, idx := range potentiallyOptimal(rects) {
			if e.count() >= maxFun {
				break
			}
			children, err := s.divide(e, rects[idx], p.Workers)
			if err != nil {
				return e.result(iter, false, "")
			}
			rects = append(rects, children...)
		}

		best := rects[0]
		for _, r := range rects[1:] {
			if r.f < best.f {
				best = r
			}
		}
		if 0.5*math.Pow(3, -float64(best.minLevel())) < directLenTolerance {
			converged = true
			msg = "best box below length tolerance"
			break
		}
		if iter%50 == 0 {
			s.logger.Debug("iteration",
				zap.Int("iteration", iter),
				zap.Int("boxes", len(rects)),
				zap.Float64("best", best.f))
		}
	}
	return e.result(iter, converged, msg)
}

// divide trisects r along its longest sides, splitting first along the
// side whose samples were best. r shrinks in place and the new boxes are
// returned.
func (s *DividingRectangles) divide(e *evaluator, r *hyperrect, workers int) ([]*hyperrect, error) {
	lmin := r.minLevel()
	delta := math.Pow(3, -float64(lmin+1))

	var dims []int
	for i, l := range r.level {
		if l == lmin {
			dims = append(dims, i)
		}
	}
	points := make([][]float64, 0, 2*len(dims))
	for _, i := range dims {
		plus := append([]float64(nil), r.center...)
		plus[i] += delta
		minus := append([]float64(nil), r.center...)
		minus[i] -= delta
		points = append(points, plus, minus)
	}
	vals, err := e.evalBatch(unitToParams(e, points), workers)
	if err != nil {
		return nil, err
	}

	order := make([]int, len(dims))
	for k := range order {
		order[k] = k
	}
	sort.SliceStable(order, func(a, b int) bool {
		return math.Min(vals[2*order[a]], vals[2*order[a]+1]) < math.Min(vals[2*order[b]], vals[2*order[b]+1])
	})

	children := make([]*hyperrect, 0, len(points))
	for _, k := range order {
		r.level[dims[k]]++
		for side := 0; side < 2; side++ {
			children = append(children, &hyperrect{
				center: points[2*k+side],
				level:  append([]int(nil), r.level...),
				f:      vals[2*k+side],
			})
		}
	}
	return children, nil
}

// potentiallyOptimal returns the boxes to divide: per size class the box
// with the lowest value, kept if some rate of change K > 0 makes it the
// best lower bound. Non-finite values rank just above the worst finite one.
func potentiallyOptimal(rects []*hyperrect) []int {
	worst := math.Inf(-1)
	for _, r := range rects {
		if !math.IsInf(r.f, 0) && !math.IsNaN(r.f) {
			worst = math.Max(worst, r.f)
		}
	}
	if math.IsInf(worst, -1) {
		worst = 0
	}
	adjusted := func(f float64) float64 {
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return worst + 1
		}
		return f
	}

	type class struct {
		d   float64
		f   float64
		idx int
	}
	byDiameter := map[float64]*class{}
	fmin := math.Inf(1)
	for i, r := range rects {
		d, f := r.size(), adjusted(r.f)
		fmin = math.Min(fmin, f)
		c, ok := byDiameter[d]
		if !ok {
			byDiameter[d] = &class{d: d, f: f, idx: i}
			continue
		}
		if f < c.f {
			c.f, c.idx = f, i
		}
	}
	classes := make([]*class, 0, len(byDiameter))
	for _, c := range byDiameter {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(a, b int) bool { return classes[a].d < classes[b].d })

	var out []int
	for j, cj := range classes {
		lowK, highK := math.Inf(-1), math.Inf(1)
		for _, ci := range classes[:j] {
			lowK = math.Max(lowK, (cj.f-ci.f)/(cj.d-ci.d))
		}
		for _, ci := range classes[j+1:] {
			highK = math.Min(highK, (ci.f-cj.f)/(ci.d-cj.d))
		}
		if highK <= 0 || lowK > highK {
			continue
		}
		if !math.IsInf(highK, 1) && cj.f-highK*cj.d > fmin-directEpsilon*math.Abs(fmin) {
			continue
		}
		out = append(out, cj.idx)
	}
	sort.Ints(out)
	return out
}
