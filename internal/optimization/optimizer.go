package optimization

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Strategy defines the interface for search algorithms. Every strategy
// minimizes the same objective over the same box bounds and reports the
// single best candidate it found.
type Strategy interface {
	// Name identifies the strategy in logs, metrics and reports.
	Name() string

	// Minimize runs the search. It returns a RunError if the objective
	// reports an error or ctx is canceled.
	Minimize(ctx context.Context, problem Problem) (*OptimizationResult, error)
}

// Problem contains everything a strategy needs to run
type Problem struct {
	// Objective function to minimize
	Objective ObjectiveFunction

	// Bounds for each dimension [min, max]
	Bounds [][2]float64

	// Initial guess. Strategies that start from a point use it, the others
	// ignore it. Nil means the center of the bounds.
	Initial []float64

	// Maximum number of iterations. Zero selects the strategy default.
	MaxIterations int

	// Random seed for reproducibility
	RandomSeed int64

	// Workers bounds concurrent objective evaluations. Values below 2 keep
	// evaluation sequential.
	Workers int
}

// ObjectiveFunction defines the function to be minimized. A non-nil error
// aborts the search; candidates that are merely bad should score +Inf.
type ObjectiveFunction func([]float64) (float64, error)

// Dim returns the number of parameters.
func (p Problem) Dim() int { return len(p.Bounds) }

// Validate checks the problem is well formed.
func (p Problem) Validate() error {
	if p.Objective == nil {
		return NewError("objective function is required")
	}
	if len(p.Bounds) == 0 {
		return NewError("at least one bounded dimension is required")
	}
	for i, b := range p.Bounds {
		if math.IsNaN(b[0]) || math.IsNaN(b[1]) || math.IsInf(b[0], 0) || math.IsInf(b[1], 0) {
			return NewErrorf("bounds for dimension %d are not finite", i)
		}
		if b[0] > b[1] {
			return NewErrorf("bounds for dimension %d are inverted: [%g, %g]", i, b[0], b[1])
		}
	}
	if p.Initial != nil && len(p.Initial) != len(p.Bounds) {
		return NewErrorf("initial guess has %d values for %d bounds", len(p.Initial), len(p.Bounds))
	}
	return nil
}

// Clip projects x into the bounds in place.
func (p Problem) Clip(x []float64) {
	for i := range x {
		x[i] = math.Max(p.Bounds[i][0], math.Min(x[i], p.Bounds[i][1]))
	}
}

// Start returns a clipped copy of the initial guess, or the center of the
// bounds when no guess is set.
func (p Problem) Start() []float64 {
	x := make([]float64, p.Dim())
	for i, b := range p.Bounds {
		if p.Initial != nil {
			x[i] = p.Initial[i]
		} else {
			x[i] = (b[0] + b[1]) / 2
		}
	}
	p.Clip(x)
	return x
}

// Solution represents a solution in the optimization space
type Solution struct {
	Parameters []float64
	Value      float64
}

// OptimizationResult contains the result of an optimization run
type OptimizationResult struct {
	BestSolution *Solution
	// Evaluations counts objective calls made by the strategy.
	Evaluations int
	// Iterations counts strategy-specific outer iterations (generations,
	// hops, rectangle divisions).
	Iterations int
	Converged  bool
	Message    string
}

// AlgorithmKind selects a strategy. The numeric values are persisted in
// design files and must not be reordered.
type AlgorithmKind int

const (
	DifferentialEvolution AlgorithmKind = iota
	BasinHopping
	DualAnnealing
	LocalDescent
	DividingRectangles
	SimplicialHomology
	GridSearch
)

var algorithmNames = [...]string{
	DifferentialEvolution: "differential_evolution",
	BasinHopping:          "basin_hopping",
	DualAnnealing:         "dual_annealing",
	LocalDescent:          "local_descent",
	DividingRectangles:    "dividing_rectangles",
	SimplicialHomology:    "simplicial_homology",
	GridSearch:            "grid_search",
}

// Algorithms lists every kind in index order.
func Algorithms() []AlgorithmKind {
	kinds := make([]AlgorithmKind, len(algorithmNames))
	for i := range kinds {
		kinds[i] = AlgorithmKind(i)
	}
	return kinds
}

func (k AlgorithmKind) Valid() bool {
	return k >= DifferentialEvolution && k <= GridSearch
}

func (k AlgorithmKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("AlgorithmKind(%d)", int(k))
	}
	return algorithmNames[k]
}

// ParseAlgorithm accepts a kind name such as "grid_search" or "grid-search".
func ParseAlgorithm(s string) (AlgorithmKind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, name := range algorithmNames {
		if name == norm {
			return AlgorithmKind(i), nil
		}
	}
	return 0, NewErrorf("unknown algorithm %q", s)
}

func (k AlgorithmKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, NewErrorf("invalid algorithm index %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *AlgorithmKind) UnmarshalText(b []byte) error {
	parsed, err := ParseAlgorithm(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
