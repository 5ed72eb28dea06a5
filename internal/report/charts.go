package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	"github.com/copyleftdev/yagiopt/internal/driver"
	"github.com/copyleftdev/yagiopt/internal/objective"
)

var scoreColors = []string{"#440154", "#3e4989", "#26828e", "#35b779", "#b5de2b", "#fde725"}

// pathPlots are the parameter pairs the optimization path is drawn over,
// as indices into GeometryParams.Vector.
var pathPlots = [][2]int{
	{2, 4}, // l3 vs d2
	{2, 3}, // l3 vs d1
	{2, 1}, // l3 vs l2
	{0, 1}, // l1 vs l2
}

// RenderHTML writes a page of charts for r: the frequency sweep, the
// azimuth and elevation pattern cuts, and the optimization path colored by
// score. Charts without data are left out.
func RenderHTML(w io.Writer, r *Report) error {
	page := components.NewPage()
	page.PageTitle = "Yagi optimization report"

	if perf := r.Performance; perf != nil {
		if len(perf.Sweep) > 0 {
			page.AddCharts(gainChart(perf.Sweep), vswrChart(perf.Sweep))
		}
		if len(perf.Azimuth) > 0 {
			page.AddCharts(cutChart("Azimuth pattern", "phi (deg)", perf.Azimuth))
		}
		if len(perf.Elevation) > 0 {
			page.AddCharts(cutChart("Elevation pattern", "theta (deg)", perf.Elevation))
		}
	}

	if pts := finiteSamples(r.Samples); len(pts) > 0 {
		lo, hi := scoreRange(pts)
		for _, pair := range pathPlots {
			page.AddCharts(pathChart(pts, pair[0], pair[1], lo, hi))
		}
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func frequencyAxis(sweep []objective.FrequencySample) []string {
	x := make([]string, len(sweep))
	for i, s := range sweep {
		x[i] = fmt.Sprintf("%.1f", s.Frequency/antenna.HzPerMHz)
	}
	return x
}

// lineValue drops values ECharts cannot draw.
func lineValue(v float64) opts.LineData {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return opts.LineData{Value: "-"}
	}
	return opts.LineData{Value: v}
}

func gainChart(sweep []objective.FrequencySample) *charts.Line {
	fwd := make([]opts.LineData, len(sweep))
	rev := make([]opts.LineData, len(sweep))
	fb := make([]opts.LineData, len(sweep))
	for i, s := range sweep {
		fwd[i] = lineValue(s.ForwardGain)
		rev[i] = lineValue(s.ReverseGain)
		fb[i] = lineValue(s.FrontToBack())
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Gain", Subtitle: "forward, reverse and front to back"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "MHz", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "dB", NameLocation: "middle", NameGap: 30}),
	)
	line.SetXAxis(frequencyAxis(sweep)).
		AddSeries("forward", fwd).
		AddSeries("reverse", rev).
		AddSeries("front to back", fb)
	return line
}

func vswrChart(sweep []objective.FrequencySample) *charts.Line {
	vswr := make([]opts.LineData, len(sweep))
	for i, s := range sweep {
		vswr[i] = lineValue(s.VSWR)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "VSWR"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "MHz", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "VSWR", NameLocation: "middle", NameGap: 30, Min: 1}),
	)
	line.SetXAxis(frequencyAxis(sweep)).AddSeries("vswr", vswr)
	return line
}

func cutChart(title, axis string, cut []driver.AngleGain) *charts.Line {
	x := make([]string, len(cut))
	y := make([]opts.LineData, len(cut))
	for i, p := range cut {
		x[i] = fmt.Sprintf("%g", p.Angle)
		y[i] = lineValue(p.Gain)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: axis, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "dBi", NameLocation: "middle", NameGap: 30}),
	)
	line.SetXAxis(x).AddSeries("gain", y)
	return line
}

func pathChart(samples []objective.Sample, xi, yi int, lo, hi float64) *charts.Scatter {
	data := make([]opts.ScatterData, len(samples))
	for i, s := range samples {
		v := s.Params.Vector()
		data[i] = opts.ScatterData{Value: []interface{}{v[xi], v[yi], s.Score}}
	}
	xName, yName := antenna.ParamNames[xi], antenna.ParamNames[yi]

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "600px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s vs %s", xName, yName),
			Subtitle: fmt.Sprintf("%d candidates", len(samples)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: xName + " (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName + " (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: scoreColors},
		}),
	)
	scatter.AddSeries("score", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	return scatter
}

// finiteSamples keeps the samples that can be placed on a chart.
func finiteSamples(samples []objective.Sample) []objective.Sample {
	out := make([]objective.Sample, 0, len(samples))
	for _, s := range samples {
		if math.IsNaN(s.Score) || math.IsInf(s.Score, 0) || !s.Params.Finite() {
			continue
		}
		out = append(out, s)
	}
	return out
}

func scoreRange(samples []objective.Sample) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		lo = math.Min(lo, s.Score)
		hi = math.Max(hi, s.Score)
	}
	if lo == hi {
		hi = lo + 1
	}
	return lo, hi
}
