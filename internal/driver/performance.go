package driver

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	"github.com/copyleftdev/yagiopt/internal/geometry"
	"github.com/copyleftdev/yagiopt/internal/nec"
	"github.com/copyleftdev/yagiopt/internal/objective"
)

// Pattern grid of the performance report, in degrees.
var (
	PatternThetas = nec.Range(0, 5, 37)
	PatternPhis   = nec.Range(0, 5, 72)
)

// AngleGain is one point of a pattern cut.
type AngleGain struct {
	Angle float64 `json:"angle"`
	Gain  float64 `json:"gain"`
}

// Performance describes one geometry at the design frequency plus a sweep
// over the plot range.
type Performance struct {
	Params      antenna.GeometryParams `json:"params"`
	Frequency   float64                `json:"frequency"`
	Resistance  float64                `json:"resistance"`
	Reactance   float64                `json:"reactance"`
	VSWR        float64                `json:"vswr"`
	ForwardGain float64                `json:"forward_gain"`
	ReverseGain float64                `json:"reverse_gain"`
	FrontToBack float64                `json:"front_to_back"`
	Peak        nec.Peak               `json:"peak"`
	// Azimuth is the horizontal cut (theta 90) over PatternPhis.
	Azimuth []AngleGain `json:"azimuth"`
	// Elevation is the phi 0 cut over PatternThetas.
	Elevation []AngleGain                 `json:"elevation"`
	Sweep     []objective.FrequencySample `json:"sweep,omitempty"`
	Segments  int                         `json:"segments"`
	Clamped   []string                    `json:"clamped,omitempty"`
}

// Evaluate simulates p once at the design frequency with a full angular
// sweep, then over plot when it is a valid range. Unlike scoring, any
// failure is returned to the caller.
func (d *Driver) Evaluate(ctx context.Context, p antenna.GeometryParams, el antenna.ElementConfig, plot antenna.FrequencySpec, z0 float64) (*Performance, error) {
	ctx, span := d.tracer.Start(ctx, "driver.Evaluate", trace.WithAttributes(
		attribute.Float64("design_frequency_hz", el.DesignFrequency),
	))
	defer span.End()

	perf, err := d.evaluate(ctx, p, el, plot, z0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return perf, nil
}

func (d *Driver) evaluate(ctx context.Context, p antenna.GeometryParams, el antenna.ElementConfig, plot antenna.FrequencySpec, z0 float64) (*Performance, error) {
	mesh, err := geometry.Build(p, el)
	if err != nil {
		return nil, err
	}
	res, err := d.sim.Simulate(ctx, mesh, mesh.Feed, el.Material.Conductivity(), el.DesignFrequency)
	if err != nil {
		return nil, err
	}

	z := res.Impedance()
	perf := &Performance{
		Params:      p,
		Frequency:   el.DesignFrequency,
		Resistance:  real(z),
		Reactance:   imag(z),
		VSWR:        nec.VSWR(z, z0),
		ForwardGain: nec.Forward(res),
		ReverseGain: nec.Reverse(res),
		Segments:    mesh.TotalSegments(),
		Clamped:     mesh.Clamped,
	}
	perf.FrontToBack = perf.ForwardGain - perf.ReverseGain

	grid := nec.Pattern(res, PatternThetas, PatternPhis)
	perf.Peak = nec.FindPeak(grid, PatternThetas, PatternPhis)
	for i, th := range PatternThetas {
		if th == 90 {
			for j, ph := range PatternPhis {
				perf.Azimuth = append(perf.Azimuth, AngleGain{Angle: ph, Gain: grid[i][j]})
			}
		}
		perf.Elevation = append(perf.Elevation, AngleGain{Angle: th, Gain: grid[i][0]})
	}

	if plot.Validate() == nil {
		perf.Sweep, err = objective.Sweep(ctx, d.sim, p, el, plot, z0)
		if err != nil {
			return nil, err
		}
	}
	return perf, nil
}
