// Package antenna holds the physical description of a 3-element Yagi: the
// five optimized dimensions, the element configuration shared by every
// candidate, and the frequency sweeps a design is scored and plotted over.
//
// Everything in this package is in SI units and Hertz. Conversions from the
// inch/MHz values of a design file happen in Design.
package antenna

import (
	"fmt"
	"math"

	yerrors "github.com/copyleftdev/yagiopt/internal/errors"
)

const (
	// SpeedOfLight in m/s, as used for every wavelength calculation.
	SpeedOfLight = 299792e3

	MetersPerInch = 0.0254
	HzPerMHz      = 1e6
)

// Wavelength returns the free-space wavelength in meters at freq Hz.
func Wavelength(freq float64) float64 {
	return SpeedOfLight / freq
}

// Material is the conductor the elements are made of.
type Material int

const (
	Aluminum Material = iota
	Brass
	StainlessSteel
	Copper
)

var materialNames = [...]string{
	Aluminum:       "Aluminum",
	Brass:          "Brass",
	StainlessSteel: "Stainless Steel",
	Copper:         "Copper",
}

// conductivity in S/m; aluminum is 6061-T6.
var materialConductivity = [...]float64{
	Aluminum:       25e6,
	Brass:          15.6e6,
	StainlessSteel: 1.45e6,
	Copper:         57471264,
}

func (m Material) Valid() bool {
	return m >= Aluminum && m <= Copper
}

func (m Material) String() string {
	if !m.Valid() {
		return fmt.Sprintf("Material(%d)", int(m))
	}
	return materialNames[m]
}

// Conductivity returns the conductivity of m in S/m, or 0 for an unknown
// material.
func (m Material) Conductivity() float64 {
	if !m.Valid() {
		return 0
	}
	return materialConductivity[m]
}

// Materials lists every supported material in index order.
func Materials() []Material {
	return []Material{Aluminum, Brass, StainlessSteel, Copper}
}

// ParseMaterial accepts a material name (case-sensitive, as printed by
// String).
func ParseMaterial(s string) (Material, error) {
	for i, name := range materialNames {
		if name == s {
			return Material(i), nil
		}
	}
	return 0, yerrors.Errorf(yerrors.KindConfig, "unknown material %q", s)
}

// ElementConfig is the configuration shared by every candidate of a run.
type ElementConfig struct {
	// WireDiameter of every element in meters.
	WireDiameter float64  `json:"wire_diameter"`
	Material     Material `json:"material"`
	// FoldedSpacing between the driven element and its folded conductor in
	// meters. Zero disables the folded dipole.
	FoldedSpacing float64 `json:"folded_spacing"`
	// DesignFrequency in Hz sets the wavelength the mesh is discretized for.
	DesignFrequency float64 `json:"design_frequency"`
	// ExtendedThinWireKernel relaxes the minimum segment length at
	// junctions from 8 to 6 wire radii.
	ExtendedThinWireKernel bool `json:"extended_thin_wire_kernel"`
}

func (c ElementConfig) WireRadius() float64 { return c.WireDiameter / 2 }

func (c ElementConfig) Folded() bool { return c.FoldedSpacing > 0 }

func (c ElementConfig) Wavelength() float64 { return Wavelength(c.DesignFrequency) }

func (c ElementConfig) Validate() error {
	switch {
	case !(c.WireDiameter > 0) || math.IsInf(c.WireDiameter, 0):
		return yerrors.New(yerrors.KindConfig, "wire diameter must be positive").
			WithParam("diameter", c.WireDiameter)
	case !c.Material.Valid():
		return yerrors.Errorf(yerrors.KindConfig, "invalid material index %d", int(c.Material))
	case c.FoldedSpacing < 0 || math.IsNaN(c.FoldedSpacing) || math.IsInf(c.FoldedSpacing, 0):
		return yerrors.New(yerrors.KindConfig, "folded dipole spacing must not be negative").
			WithParam("folded_spacing", c.FoldedSpacing)
	case !(c.DesignFrequency > 0) || math.IsInf(c.DesignFrequency, 0):
		return yerrors.New(yerrors.KindConfig, "design frequency must be positive").
			WithParam("frequency", c.DesignFrequency)
	}
	return nil
}

// GeometryParams are the five dimensions being optimized, in meters.
type GeometryParams struct {
	L1 float64 `json:"l1"` // reflector length
	L2 float64 `json:"l2"` // driven element length
	L3 float64 `json:"l3"` // director length
	D1 float64 `json:"d1"` // reflector to driven element spacing
	D2 float64 `json:"d2"` // driven element to director spacing
}

// NumParams is the dimension of the search space.
const NumParams = 5

// ParamNames are the names of the parameters in Vector order.
var ParamNames = [NumParams]string{"l1", "l2", "l3", "d1", "d2"}

func (p GeometryParams) Vector() []float64 {
	return []float64{p.L1, p.L2, p.L3, p.D1, p.D2}
}

// ParamsFromVector is the inverse of Vector. x must hold exactly NumParams
// values.
func ParamsFromVector(x []float64) (GeometryParams, error) {
	if len(x) != NumParams {
		return GeometryParams{}, yerrors.Errorf(yerrors.KindConfig,
			"parameter vector has %d values, want %d", len(x), NumParams)
	}
	return GeometryParams{L1: x[0], L2: x[1], L3: x[2], D1: x[3], D2: x[4]}, nil
}

// FromVector is ParamsFromVector for vectors known to come from Vector or
// from a search over NumParams bounds. It panics on any other length.
func FromVector(x []float64) GeometryParams {
	p, err := ParamsFromVector(x)
	if err != nil {
		panic(fmt.Sprintf("antenna: %v", err))
	}
	return p
}

// Finite reports whether every parameter is a finite number.
func (p GeometryParams) Finite() bool {
	for _, v := range p.Vector() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (p GeometryParams) String() string {
	return fmt.Sprintf("l1=%.4f l2=%.4f l3=%.4f d1=%.4f d2=%.4f", p.L1, p.L2, p.L3, p.D1, p.D2)
}

// InitialGuess is the classic starting point for a 3-element Yagi at the
// given wavelength.
func InitialGuess(wavelength float64) GeometryParams {
	return GeometryParams{
		L1: 0.487 * wavelength,
		L2: 0.437 * wavelength,
		L3: 0.450 * wavelength,
		D1: 0.111 * wavelength,
		D2: 0.184 * wavelength,
	}
}

// FrequencySpec is an inclusive sweep from Start to Stop in Hz.
type FrequencySpec struct {
	Start float64 `json:"start"`
	Stop  float64 `json:"stop"`
	Step  float64 `json:"step"`
}

func (s FrequencySpec) Validate() error {
	switch {
	case !(s.Start > 0):
		return yerrors.New(yerrors.KindConfig, "sweep start must be positive").WithParam("start", s.Start)
	case s.Stop < s.Start:
		return yerrors.New(yerrors.KindConfig, "sweep stop is below start").
			WithParam("start", s.Start).WithParam("stop", s.Stop)
	case !(s.Step > 0):
		return yerrors.New(yerrors.KindConfig, "sweep step must be positive").WithParam("step", s.Step)
	}
	return nil
}

// Frequencies lists the sweep points. The stop frequency is included when
// it lies on the step grid. An invalid spec yields no points.
func (s FrequencySpec) Frequencies() []float64 {
	if s.Validate() != nil {
		return nil
	}
	// Tolerate accumulated rounding on the last point.
	limit := s.Stop + s.Step*1e-9
	var freqs []float64
	for i := 0; ; i++ {
		f := s.Start + float64(i)*s.Step
		if f > limit {
			break
		}
		freqs = append(freqs, f)
	}
	return freqs
}

// Single is a sweep holding only freq.
func Single(freq float64) FrequencySpec {
	return FrequencySpec{Start: freq, Stop: freq, Step: 1}
}
