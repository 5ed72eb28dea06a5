package objective

import (
	"context"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	"github.com/copyleftdev/yagiopt/internal/geometry"
	"github.com/copyleftdev/yagiopt/internal/nec"
)

// FrequencySample is the simulated performance at one frequency.
type FrequencySample struct {
	Frequency   float64    `json:"frequency"`
	ForwardGain float64    `json:"forward_gain"`
	ReverseGain float64    `json:"reverse_gain"`
	VSWR        float64    `json:"vswr"`
	Impedance   complex128 `json:"-"`
	Resistance  float64    `json:"resistance"`
	Reactance   float64    `json:"reactance"`
}

// FrontToBack is forward minus reverse gain in dB.
func (s FrequencySample) FrontToBack() float64 { return s.ForwardGain - s.ReverseGain }

// Sweep simulates p at every frequency of spec. The mesh is rebuilt for
// each sample; it is discretized for cfg.DesignFrequency regardless of the
// sample frequency. Geometry and simulation errors are returned as is.
func Sweep(ctx context.Context, sim nec.Simulator, p antenna.GeometryParams, cfg antenna.ElementConfig, spec antenna.FrequencySpec, z0 float64) ([]FrequencySample, error) {
	freqs := spec.Frequencies()
	samples := make([]FrequencySample, 0, len(freqs))
	for _, f := range freqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mesh, err := geometry.Build(p, cfg)
		if err != nil {
			return nil, err
		}
		res, err := sim.Simulate(ctx, mesh, mesh.Feed, cfg.Material.Conductivity(), f)
		if err != nil {
			return nil, err
		}
		z := res.Impedance()
		samples = append(samples, FrequencySample{
			Frequency:   f,
			ForwardGain: nec.Forward(res),
			ReverseGain: nec.Reverse(res),
			VSWR:        nec.VSWR(z, z0),
			Impedance:   z,
			Resistance:  real(z),
			Reactance:   imag(z),
		})
	}
	return samples, nil
}
