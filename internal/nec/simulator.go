// Package nec is the electromagnetic simulation boundary. Simulator is the
// contract the optimizer scores candidates through; Solver is a built-in
// thin-wire moment-method implementation of it and CachedSimulator
// memoizes any Simulator.
package nec

import (
	"context"
	"math"
	"math/cmplx"

	"github.com/copyleftdev/yagiopt/internal/geometry"
)

// MinGainDB is reported for directions with no radiated power.
const MinGainDB = -999.0

// Simulator runs one frequency of one structure. Numerical failures are
// reported as errors of kind KindSimulation so callers can discard the
// candidate.
type Simulator interface {
	Simulate(ctx context.Context, mesh *geometry.WireMesh, feed geometry.Feed, conductivity, frequency float64) (Result, error)
}

// Result is the outcome of one simulation.
type Result interface {
	// Impedance at the feed point in ohms.
	Impedance() complex128
	// Gain in dBi towards (theta, phi) in degrees. Theta is measured from
	// +z, phi from +x in the horizontal plane; the boom points along +x.
	Gain(thetaDeg, phiDeg float64) float64
}

// VSWR returns the voltage standing wave ratio of z against the real
// system impedance z0. A total reflection yields +Inf.
func VSWR(z complex128, z0 float64) float64 {
	if cmplx.IsNaN(z) || cmplx.IsInf(z) {
		return math.Inf(1)
	}
	gamma := cmplx.Abs((z - complex(z0, 0)) / (z + complex(z0, 0)))
	if math.IsNaN(gamma) || gamma >= 1 {
		return math.Inf(1)
	}
	return (1 + gamma) / (1 - gamma)
}

// Forward is the boresight gain towards the director.
func Forward(r Result) float64 { return r.Gain(90, 0) }

// Reverse is the gain directly behind the reflector.
func Reverse(r Result) float64 { return r.Gain(90, 180) }

// Range lists count angles starting at start in steps of step degrees.
func Range(start, step float64, count int) []float64 {
	out := make([]float64, count)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// Pattern samples r on the theta x phi grid. The outer index is theta.
func Pattern(r Result, thetas, phis []float64) [][]float64 {
	grid := make([][]float64, len(thetas))
	for i, th := range thetas {
		row := make([]float64, len(phis))
		for j, ph := range phis {
			row[j] = r.Gain(th, ph)
		}
		grid[i] = row
	}
	return grid
}

// Peak is the largest gain on a pattern grid and where it occurs.
type Peak struct {
	Gain  float64 `json:"gain"`
	Theta float64 `json:"theta"`
	Phi   float64 `json:"phi"`
}

// FindPeak scans a grid produced by Pattern.
func FindPeak(grid [][]float64, thetas, phis []float64) Peak {
	p := Peak{Gain: math.Inf(-1)}
	for i, row := range grid {
		for j, g := range row {
			if g > p.Gain {
				p = Peak{Gain: g, Theta: thetas[i], Phi: phis[j]}
			}
		}
	}
	return p
}

func toDB(g float64) float64 {
	if !(g > 0) || math.IsInf(g, 0) {
		return MinGainDB
	}
	return math.Max(10*math.Log10(g), MinGainDB)
}
