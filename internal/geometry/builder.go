// Package geometry turns the five Yagi dimensions into the segmented wire
// mesh a thin-wire moment-method solver works on.
package geometry

import (
	"math"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	yerrors "github.com/copyleftdev/yagiopt/internal/errors"
)

// Wire tags. The folded conductor and its risers only exist when the
// folded dipole is enabled.
const (
	TagReflector = 1
	TagDriven    = 2
	TagDirector  = 3
	TagFolded    = 4
	TagRiserLow  = 5
	TagRiserHigh = 6
)

const (
	// maxJunctionRatio is the largest allowed ratio between the segment
	// lengths meeting at a junction.
	maxJunctionRatio = 5.0
	// floorMarginFraction of a segment length is added to the spacing
	// floors.
	floorMarginFraction = 1e-3
)

// Wire is a straight segmented conductor. Coordinates are in meters with
// the elements parallel to y and the boom along x.
type Wire struct {
	Tag      int        `json:"tag"`
	Segments int        `json:"segments"`
	Start    [3]float64 `json:"start"`
	End      [3]float64 `json:"end"`
	Radius   float64    `json:"radius"`
}

// Length of the wire in meters.
func (w Wire) Length() float64 {
	dx := w.End[0] - w.Start[0]
	dy := w.End[1] - w.Start[1]
	dz := w.End[2] - w.Start[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func (w Wire) SegmentLength() float64 {
	return w.Length() / float64(w.Segments)
}

// Feed is a voltage source on one segment (1-based) of a tagged wire.
type Feed struct {
	Tag     int     `json:"tag"`
	Segment int     `json:"segment"`
	Voltage float64 `json:"voltage"`
}

// DiscretizationPolicy bounds the segment length for a wire radius and
// wavelength.
type DiscretizationPolicy struct {
	Wavelength    float64 `json:"wavelength"`
	MinSegment    float64 `json:"min_segment"`
	MaxSegment    float64 `json:"max_segment"`
	SegmentLength float64 `json:"segment_length"`
	// Degenerate is set when the wire is too thick for the wavelength and
	// the maximum bound had to be used.
	Degenerate bool `json:"degenerate"`
}

// NewPolicy derives the discretization for cfg. It fails with a
// KindResolution error when the segment length would fall below a
// thousandth of a wavelength.
func NewPolicy(cfg antenna.ElementConfig) (DiscretizationPolicy, error) {
	wl := cfg.Wavelength()
	r := cfg.WireRadius()

	p := DiscretizationPolicy{Wavelength: wl, MaxSegment: wl / 18}
	if cfg.ExtendedThinWireKernel {
		p.MinSegment = 6 * r
	} else {
		p.MinSegment = 8 * r
	}

	if p.MaxSegment > p.MinSegment {
		p.SegmentLength = math.Sqrt(p.MaxSegment * p.MinSegment)
	} else {
		p.SegmentLength = p.MaxSegment
		p.Degenerate = true
	}

	if p.SegmentLength < wl/1000 {
		return p, yerrors.New(yerrors.KindResolution, "wire segment length below a thousandth of a wavelength").
			WithOperation("policy").
			WithComponent("geometry").
			WithParam("segment_length", p.SegmentLength).
			WithParam("wavelength", wl).
			WithParam("wire_radius", r)
	}
	return p, nil
}

// WireMesh is a complete structure ready for simulation.
type WireMesh struct {
	Wires  []Wire               `json:"wires"`
	Feed   Feed                 `json:"feed"`
	Policy DiscretizationPolicy `json:"policy"`
	// Params are the dimensions after clamping.
	Params antenna.GeometryParams `json:"params"`
	// Clamped names the parameters that were raised to their floor.
	Clamped []string `json:"clamped,omitempty"`
}

// Wire returns the first wire with the given tag.
func (m *WireMesh) Wire(tag int) (Wire, bool) {
	for _, w := range m.Wires {
		if w.Tag == tag {
			return w, true
		}
	}
	return Wire{}, false
}

// Folded reports whether the mesh carries a folded driven element.
func (m *WireMesh) Folded() bool {
	_, ok := m.Wire(TagFolded)
	return ok
}

// TotalSegments sums the segment counts of every wire.
func (m *WireMesh) TotalSegments() int {
	n := 0
	for _, w := range m.Wires {
		n += w.Segments
	}
	return n
}

// Build discretizes params under cfg. Lengths shorter than two segments
// and non-finite lengths are raised to two segments, and spacings are
// raised to their interference floors. Failures are fatal kinds:
// KindResolution and KindJunctionRatio. An invalid cfg is KindConfig.
func Build(params antenna.GeometryParams, cfg antenna.ElementConfig) (*WireMesh, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := NewPolicy(cfg)
	if err != nil {
		return nil, err
	}

	seg := policy.SegmentLength
	r := cfg.WireRadius()
	mesh := &WireMesh{Policy: policy}

	clampLength := func(name string, l float64) float64 {
		if math.IsNaN(l) || math.IsInf(l, 0) || l < 2*seg {
			mesh.Clamped = append(mesh.Clamped, name)
			return 2 * seg
		}
		return l
	}
	clampSpacing := func(name string, d, floor float64) float64 {
		if math.IsNaN(d) || math.IsInf(d, 0) || d < floor {
			mesh.Clamped = append(mesh.Clamped, name)
			return floor
		}
		return d
	}

	l1 := clampLength("l1", params.L1)
	l2 := clampLength("l2", params.L2)
	l3 := clampLength("l3", params.L3)
	d1 := clampSpacing("d1", params.D1, 2*r+seg*floorMarginFraction)
	d2 := clampSpacing("d2", params.D2, cfg.FoldedSpacing+2*r+seg*floorMarginFraction)
	mesh.Params = antenna.GeometryParams{L1: l1, L2: l2, L3: l3, D1: d1, D2: d2}

	element := func(tag int, x, length float64) Wire {
		return Wire{
			Tag:      tag,
			Segments: oddSegments(length, seg),
			Start:    [3]float64{x, -length / 2, 0},
			End:      [3]float64{x, length / 2, 0},
			Radius:   r,
		}
	}

	driven := element(TagDriven, 0, l2)
	mesh.Wires = append(mesh.Wires, element(TagReflector, -d1, l1), driven)
	mesh.Feed = Feed{Tag: TagDriven, Segment: driven.Segments/2 + 1, Voltage: 1}

	if cfg.Folded() {
		fs := cfg.FoldedSpacing
		risers := int(fs / seg)
		if risers < 1 {
			risers = 1
		}
		riserSeg := fs / float64(risers)
		ratio := math.Max(riserSeg, seg) / math.Min(riserSeg, seg)
		if ratio > maxJunctionRatio {
			return nil, yerrors.New(yerrors.KindJunctionRatio, "folded dipole riser segments too short at junctions, element radius is likely too large").
				WithOperation("build").
				WithComponent("geometry").
				WithParam("ratio", ratio).
				WithParam("segment_length", seg).
				WithParam("riser_segment_length", riserSeg).
				WithParam("wire_radius", r)
		}
		mesh.Wires = append(mesh.Wires,
			Wire{Tag: TagFolded, Segments: driven.Segments, Start: [3]float64{fs, -l2 / 2, 0}, End: [3]float64{fs, l2 / 2, 0}, Radius: r},
			Wire{Tag: TagRiserLow, Segments: risers, Start: [3]float64{0, -l2 / 2, 0}, End: [3]float64{fs, -l2 / 2, 0}, Radius: r},
			Wire{Tag: TagRiserHigh, Segments: risers, Start: [3]float64{0, l2 / 2, 0}, End: [3]float64{fs, l2 / 2, 0}, Radius: r},
		)
	}

	mesh.Wires = append(mesh.Wires, element(TagDirector, d2, l3))
	return mesh, nil
}

// oddSegments is floor(length/seg) reduced to the next odd number.
func oddSegments(length, seg float64) int {
	n := int(length / seg)
	if n%2 == 0 {
		n--
	}
	if n < 1 {
		n = 1
	}
	return n
}
