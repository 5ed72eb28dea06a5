// Package constraints derives the search box for a run from the initial
// guess.
package constraints

import (
	"fmt"
	"math"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	yerrors "github.com/copyleftdev/yagiopt/internal/errors"
)

const (
	lengthShrink = 0.75
	lengthGrow   = 1.25
	spacingLow   = 0.5
	spacingHigh  = 1.5

	// Margins added to the interference floors of d1 and d2, in meters.
	minMargin = 0.0001
	maxMargin = 0.0002
)

// Bounds is the per-parameter search box of one run.
type Bounds struct {
	Min antenna.GeometryParams `json:"min"`
	Max antenna.GeometryParams `json:"max"`
	// Start is the initial guess projected into the box.
	Start antenna.GeometryParams `json:"start"`
	// Degraded is set when the d2 lower bound had to be raised to the
	// folded dipole interference floor.
	Degraded bool     `json:"degraded"`
	Warnings []string `json:"warnings,omitempty"`
}

// Pairs returns the bounds as [min, max] pairs in parameter vector order.
func (b Bounds) Pairs() [][2]float64 {
	lo, hi := b.Min.Vector(), b.Max.Vector()
	pairs := make([][2]float64, len(lo))
	for i := range lo {
		pairs[i] = [2]float64{lo[i], hi[i]}
	}
	return pairs
}

// Contains reports whether p lies inside the box.
func (b Bounds) Contains(p antenna.GeometryParams) bool {
	x := p.Vector()
	for i, pair := range b.Pairs() {
		if x[i] < pair[0] || x[i] > pair[1] {
			return false
		}
	}
	return true
}

// Derive computes the search box around initial. Lengths may move 25% and
// spacings 50% either way, never closer than the mechanical interference
// floors. If even 1.5 times the initial d2 cannot clear the folded dipole
// the run is infeasible and a KindInterference error is returned. If only
// half of d2 collides the box is usable but Degraded.
func Derive(initial antenna.GeometryParams, wireRadius, foldedSpacing float64) (Bounds, error) {
	if !initial.Finite() {
		return Bounds{}, yerrors.New(yerrors.KindConfig, "initial guess is not finite").
			WithComponent("constraints")
	}
	if !(wireRadius > 0) {
		return Bounds{}, yerrors.New(yerrors.KindConfig, "wire radius must be positive").
			WithComponent("constraints").WithParam("wire_radius", wireRadius)
	}

	diameter := 2 * wireRadius
	d2Floor := foldedSpacing + diameter

	var b Bounds
	switch {
	case spacingHigh*initial.D2 <= d2Floor:
		return Bounds{}, yerrors.Errorf(yerrors.KindInterference,
			"frequency too high for folded dipole spacing of %.3f in", foldedSpacing/antenna.MetersPerInch).
			WithOperation("derive").
			WithComponent("constraints").
			WithParam("d2_initial", initial.D2).
			WithParam("d2_max", spacingHigh*initial.D2).
			WithParam("folded_spacing", foldedSpacing).
			WithParam("wire_diameter", diameter)
	case spacingLow*initial.D2 <= d2Floor:
		b.Degraded = true
		b.Warnings = append(b.Warnings, fmt.Sprintf(
			"frequency too high for folded dipole spacing of %.3f in, results may not be fully optimized",
			foldedSpacing/antenna.MetersPerInch))
	}

	b.Min = antenna.GeometryParams{
		L1: math.Max(lengthShrink*initial.L1, diameter),
		L2: math.Max(lengthShrink*initial.L2, diameter),
		L3: math.Max(lengthShrink*initial.L3, diameter),
		D1: math.Max(spacingLow*initial.D1, diameter+minMargin),
		D2: math.Max(spacingLow*initial.D2, d2Floor+minMargin),
	}
	b.Max = antenna.GeometryParams{
		L1: math.Max(lengthGrow*initial.L1, diameter),
		L2: math.Max(lengthGrow*initial.L2, diameter),
		L3: math.Max(lengthGrow*initial.L3, diameter),
		D1: math.Max(spacingHigh*initial.D1, diameter+maxMargin),
		D2: math.Max(spacingHigh*initial.D2, d2Floor+maxMargin),
	}

	lo, hi, x := b.Min.Vector(), b.Max.Vector(), initial.Vector()
	for i := range x {
		if x[i] < lo[i] || x[i] > hi[i] {
			b.Warnings = append(b.Warnings, fmt.Sprintf(
				"initial %s=%.4f outside [%.4f, %.4f], starting from the nearest bound",
				antenna.ParamNames[i], x[i], lo[i], hi[i]))
		}
		x[i] = math.Max(lo[i], math.Min(x[i], hi[i]))
	}
	b.Start = antenna.FromVector(x)
	return b, nil
}
