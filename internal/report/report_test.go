package report

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	"github.com/copyleftdev/yagiopt/internal/driver"
	"github.com/copyleftdev/yagiopt/internal/nec"
	"github.com/copyleftdev/yagiopt/internal/objective"
	"github.com/copyleftdev/yagiopt/internal/optimization"
)

func sampleReport() *Report {
	best := antenna.InitialGuess(antenna.Wavelength(144.1e6))
	trace := objective.NewTrace()
	trace.Append(objective.Sample{Iteration: 1, Params: best, Score: 12.5})
	trace.Append(objective.Sample{Iteration: 2, Params: best, Score: math.Inf(1)})
	trace.Append(objective.Sample{Iteration: 3, Params: best, Score: 9.25})

	run := &driver.Run{
		Algorithm:   optimization.DifferentialEvolution,
		Best:        best,
		Score:       9.25,
		Trace:       trace,
		Evaluations: 12345,
		Simulated:   3,
		Converged:   true,
		Message:     "population converged",
		Warnings:    []string{"initial d2 outside bounds"},
		Duration:    1500 * time.Millisecond,
	}
	perf := &driver.Performance{
		Params:      best,
		Frequency:   144.1e6,
		Resistance:  48.2,
		Reactance:   -3.1,
		VSWR:        1.08,
		ForwardGain: 7.9,
		ReverseGain: -18.4,
		FrontToBack: 26.3,
		Peak:        nec.Peak{Gain: 7.9, Theta: 90, Phi: 0},
		Azimuth:     []driver.AngleGain{{Angle: 0, Gain: 7.9}, {Angle: 180, Gain: -18.4}},
		Elevation:   []driver.AngleGain{{Angle: 0, Gain: -30}, {Angle: 90, Gain: 7.9}},
		Sweep: []objective.FrequencySample{
			{Frequency: 144e6, ForwardGain: 7.8, ReverseGain: -17, VSWR: 1.1, Resistance: 47, Reactance: -5},
			{Frequency: 145e6, ForwardGain: 7.9, ReverseGain: -19, VSWR: math.Inf(1)},
		},
		Segments: 57,
	}
	return New(run, perf)
}

func TestNewCopiesTrace(t *testing.T) {
	r := sampleReport()
	require.Len(t, r.Samples, 3)
	r.Run.Trace.Append(objective.Sample{Iteration: 4})
	assert.Len(t, r.Samples, 3)
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, sampleReport()))
	out := buf.String()

	for _, want := range []string{
		"differential_evolution",
		"12,345 (3 simulated)",
		"1.5s",
		"Warning:",
		"144.1 MHz",
		"48.20 -3.10j ohm",
		"Front to back:",
		"+Inf",
	} {
		assert.Contains(t, out, want)
	}
	// One header plus five dimensions.
	assert.Equal(t, 1, strings.Count(out, "Dimension"))
	for _, name := range antenna.ParamNames {
		assert.Contains(t, out, name+" ")
	}
}

func TestWriteSummaryPerformanceOnly(t *testing.T) {
	r := sampleReport()
	r.Run = nil
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, r))
	assert.Contains(t, buf.String(), "Dimension")
	assert.NotContains(t, buf.String(), "Algorithm")
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, sampleReport()))
	html := buf.String()

	assert.Contains(t, html, "<html")
	assert.Contains(t, html, "Yagi optimization report")
	assert.Contains(t, html, "VSWR")
	assert.Contains(t, html, "Azimuth pattern")
	assert.Contains(t, html, "l3 vs d2")
	assert.Contains(t, html, "l1 vs l2")
	assert.Contains(t, html, "2 candidates")
	assert.NotContains(t, html, "+Inf")
}

func TestRenderHTMLEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, &Report{}))
	assert.NotContains(t, buf.String(), "candidates")
}

func TestFiniteSamples(t *testing.T) {
	nan := antenna.GeometryParams{L1: math.NaN()}
	got := finiteSamples([]objective.Sample{
		{Iteration: 1, Score: 1},
		{Iteration: 2, Score: math.NaN()},
		{Iteration: 3, Score: math.Inf(1)},
		{Iteration: 4, Score: 2, Params: nan},
	})
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Iteration)

	lo, hi := scoreRange(got)
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 2.0, hi)
}
