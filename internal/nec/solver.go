package nec

import (
	"context"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	yerrors "github.com/copyleftdev/yagiopt/internal/errors"
	"github.com/copyleftdev/yagiopt/internal/geometry"
)

const (
	mu0  = 4e-7 * math.Pi
	eta0 = 376.730313668

	// foldedStepUp is the impedance transformation of an equal-radius
	// folded dipole.
	foldedStepUp = 4

	quadOrder = 10
)

var glNodes, glWeights = legendre(quadOrder)

func legendre(n int) ([]float64, []float64) {
	x := make([]float64, n)
	w := make([]float64, n)
	quad.Legendre{}.FixedLocations(x, w, -1, 1)
	return x, w
}

// Solver is a thin-wire Galerkin moment-method solver for structures of
// parallel y-directed wires in free space. Each wire of N segments carries
// N overlapping piecewise-sinusoidal current modes; the feed is a delta gap
// at the node of the feed segment's mode. A folded driven element is
// modeled as a plain dipole with the 4:1 step-up of an equal-radius folded
// dipole applied to its feed impedance.
//
// Solver holds no state and is safe for concurrent use.
type Solver struct{}

func NewSolver() *Solver { return &Solver{} }

// mode is one piecewise-sinusoidal expansion function.
type mode struct {
	wire   int
	x      float64
	y      float64 // node position
	h      float64 // half width
	radius float64
	sinKH  float64
}

// current is the mode's normalized current at y, 1 at the node.
func (m mode) current(y, k float64) float64 {
	d := math.Abs(y - m.y)
	if d >= m.h {
		return 0
	}
	return math.Sin(k*(m.h-d)) / m.sinKH
}

func simError(msg string) *yerrors.Error {
	return yerrors.New(yerrors.KindSimulation, msg).WithComponent("nec").WithOperation("simulate")
}

func (s *Solver) Simulate(ctx context.Context, mesh *geometry.WireMesh, feed geometry.Feed, conductivity, frequency float64) (Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if mesh == nil || len(mesh.Wires) == 0 {
		return nil, simError("empty mesh")
	}
	if !(frequency > 0) || math.IsInf(frequency, 0) {
		return nil, simError("frequency must be positive").WithParam("frequency", frequency)
	}
	if !(conductivity > 0) {
		return nil, simError("conductivity must be positive").WithParam("conductivity", conductivity)
	}

	k := 2 * math.Pi * frequency / antenna.SpeedOfLight
	modes, feedIdx, err := buildModes(mesh, feed, k)
	if err != nil {
		return nil, err
	}

	z, err := fillImpedance(ctx, modes, k, frequency, conductivity)
	if err != nil {
		return nil, err
	}

	currents, err := solve(z, len(modes), feedIdx, feed.Voltage)
	if err != nil {
		return nil, err
	}

	iFeed := currents[feedIdx]
	v := complex(feed.Voltage, 0)
	pin := 0.5 * real(v*cmplx.Conj(iFeed))
	if !(pin > 0) || math.IsInf(pin, 0) {
		return nil, simError("non-physical input power").WithParam("input_power", pin)
	}

	zin := v / iFeed
	if mesh.Folded() && feed.Tag == geometry.TagDriven {
		zin *= foldedStepUp
	}

	return &solution{
		k:        k,
		modes:    modes,
		currents: currents,
		zin:      zin,
		pin:      pin,
	}, nil
}

func buildModes(mesh *geometry.WireMesh, feed geometry.Feed, k float64) ([]mode, int, error) {
	var modes []mode
	feedIdx := -1
	wire := 0
	for _, w := range mesh.Wires {
		switch w.Tag {
		case geometry.TagFolded, geometry.TagRiserLow, geometry.TagRiserHigh:
			continue
		}
		if w.Start[0] != w.End[0] || w.Start[2] != w.End[2] {
			return nil, -1, simError("only wires parallel to the y axis are supported").
				WithParam("tag", float64(w.Tag))
		}
		if w.Segments < 1 || !(w.Radius > 0) {
			return nil, -1, simError("wire needs at least one segment and a positive radius").
				WithParam("tag", float64(w.Tag))
		}

		length := w.Length()
		h := length / float64(w.Segments+1)
		if !(h > 0) || math.IsInf(h, 0) {
			return nil, -1, simError("degenerate wire").WithParam("tag", float64(w.Tag))
		}
		sinKH := math.Sin(k * h)
		if math.Abs(sinKH) < 1e-9 {
			return nil, -1, simError("segment length is a multiple of a half wavelength").
				WithParam("tag", float64(w.Tag))
		}

		y0 := math.Min(w.Start[1], w.End[1])
		if w.Tag == feed.Tag {
			if feed.Segment < 1 || feed.Segment > w.Segments {
				return nil, -1, simError("feed segment out of range").
					WithParam("segment", float64(feed.Segment)).
					WithParam("segments", float64(w.Segments))
			}
			feedIdx = len(modes) + feed.Segment - 1
		}
		for i := 1; i <= w.Segments; i++ {
			modes = append(modes, mode{
				wire:   wire,
				x:      w.Start[0],
				y:      y0 + float64(i)*h,
				h:      h,
				radius: w.Radius,
				sinKH:  sinKH,
			})
		}
		wire++
	}
	if feedIdx < 0 {
		return nil, -1, simError("feed wire not found").WithParam("tag", float64(feed.Tag))
	}
	return modes, feedIdx, nil
}

// fillImpedance builds the symmetric mode impedance matrix in row-major
// order. Blocks on one wire are Toeplitz and computed once per offset.
func fillImpedance(ctx context.Context, modes []mode, k, frequency, conductivity float64) ([]complex128, error) {
	n := len(modes)
	z := make([]complex128, n*n)

	type offset struct{ wire, d int }
	same := make(map[offset]complex128)

	omega := 2 * math.Pi * frequency
	rs := math.Sqrt(omega * mu0 / (2 * conductivity))

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mi := modes[i]
		for j := i; j < n; j++ {
			mj := modes[j]
			var zij complex128
			if mi.wire == mj.wire {
				key := offset{mi.wire, j - i}
				v, ok := same[key]
				if !ok {
					v = mutual(mi, mj, mi.radius, k)
					v += complex(lossOverlap(j-i, mi.h, k)*rs/(2*math.Pi*mi.radius), 0)
					same[key] = v
				}
				zij = v
			} else {
				zij = mutual(mi, mj, math.Abs(mi.x-mj.x), k)
			}
			if cmplx.IsNaN(zij) || cmplx.IsInf(zij) {
				return nil, simError("impedance matrix entry is not finite").
					WithParam("row", float64(i)).WithParam("col", float64(j))
			}
			z[i*n+j] = zij
			z[j*n+i] = zij
		}
	}
	return z, nil
}

// mutual is the reaction between the current of m and the field of n at
// radial distance rho.
func mutual(m, n mode, rho, k float64) complex128 {
	cosKH := math.Cos(k * n.h)
	sources := [3]float64{n.y - n.h, n.y, n.y + n.h}
	weights := [3]float64{1, -2 * cosKH, 1}

	breaks := []float64{m.y - m.h, m.y, m.y + m.h}
	for _, s := range sources {
		if s > breaks[0] && s < breaks[2] && math.Abs(s-m.y) > 1e-12*m.h {
			breaks = append(breaks, s)
		}
	}
	sort.Float64s(breaks)

	var sum complex128
	for b := 1; b < len(breaks); b++ {
		lo, hi := breaks[b-1], breaks[b]
		if hi-lo <= 1e-12*m.h {
			continue
		}
		for t, s := range sources {
			sum += complex(weights[t], 0) * kernelIntegral(m, s, rho, lo, hi, k)
		}
	}
	return complex(0, eta0/(4*math.Pi)/n.sinKH) * sum
}

// kernelIntegral integrates m.current(y) * exp(-jkR)/R over [lo, hi] with
// R the distance to the point s on an axis rho away. The substitution
// y = s + rho*sinh(t) removes the 1/R peak.
func kernelIntegral(m mode, s, rho, lo, hi, k float64) complex128 {
	ta := math.Asinh((lo - s) / rho)
	tb := math.Asinh((hi - s) / rho)
	half := (tb - ta) / 2
	mid := (tb + ta) / 2

	var re, im float64
	for i, x := range glNodes {
		t := mid + half*x
		y := s + rho*math.Sinh(t)
		r := rho * math.Cosh(t)
		j := m.current(y, k) * glWeights[i]
		sin, cos := math.Sincos(k * r)
		re += j * cos
		im -= j * sin
	}
	return complex(re*half, im*half)
}

// lossOverlap is the integral of the product of two modes d nodes apart on
// the same wire, so the surface resistance per unit length times it is the
// ohmic loading between them.
func lossOverlap(d int, h, k float64) float64 {
	kh := k * h
	s := math.Sin(kh)
	switch d {
	case 0:
		return 2 * (h/2 - math.Sin(2*kh)/(4*k)) / (s * s)
	case 1:
		return (s - kh*math.Cos(kh)) / (2 * k) / (s * s)
	default:
		return 0
	}
}

// solve expands the complex system into its real 2n x 2n form and solves it
// with an LU factorization.
func solve(z []complex128, n, feedIdx int, voltage float64) ([]complex128, error) {
	a := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := z[i*n+j]
			a.Set(i, j, real(v))
			a.Set(i, j+n, -imag(v))
			a.Set(i+n, j, imag(v))
			a.Set(i+n, j+n, real(v))
		}
	}
	b := mat.NewVecDense(2*n, nil)
	b.SetVec(feedIdx, voltage)

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return nil, yerrors.Wrap(err, yerrors.KindSimulation, "impedance matrix is singular").
			WithComponent("nec").WithOperation("solve")
	}

	currents := make([]complex128, n)
	for i := range currents {
		currents[i] = complex(x.AtVec(i), x.AtVec(i+n))
	}
	return currents, nil
}

type solution struct {
	k        float64
	modes    []mode
	currents []complex128
	zin      complex128
	pin      float64
}

func (s *solution) Impedance() complex128 { return s.zin }

func (s *solution) Gain(thetaDeg, phiDeg float64) float64 {
	st := math.Sin(thetaDeg * math.Pi / 180)
	sp, cp := math.Sincos(phiDeg * math.Pi / 180)
	ux, uy := st*cp, st*sp

	// uy is the cosine of the angle to the element axis.
	sin2 := 1 - uy*uy
	if sin2 < 1e-12 {
		return MinGainDB
	}

	var re, im float64
	for n, m := range s.modes {
		kh := s.k * m.h
		shape := 2 * (math.Cos(kh*uy) - math.Cos(kh)) / (s.k * m.sinKH)
		ps, pc := math.Sincos(s.k * (ux*m.x + uy*m.y))
		c := s.currents[n] * complex(shape*pc, shape*ps)
		re += real(c)
		im += imag(c)
	}

	u := s.k * s.k * eta0 / (32 * math.Pi * math.Pi) * (re*re + im*im) / sin2
	return toDB(4 * math.Pi * u / s.pin)
}
