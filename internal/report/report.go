// Package report renders the outcome of an optimization run as a text
// summary and as an HTML page of charts.
package report

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/copyleftdev/yagiopt/internal/antenna"
	"github.com/copyleftdev/yagiopt/internal/driver"
	"github.com/copyleftdev/yagiopt/internal/objective"
)

// Report is a finished run and the performance of its best geometry.
// Either part may be nil.
type Report struct {
	Run         *driver.Run
	Performance *driver.Performance
	Samples     []objective.Sample
}

// New collects a report. The trace samples are copied out of the run.
func New(run *driver.Run, perf *driver.Performance) *Report {
	r := &Report{Run: run, Performance: perf}
	if run != nil && run.Trace != nil {
		r.Samples = run.Trace.Samples()
	}
	return r
}

// WriteSummary writes a plain text summary of r to w.
func WriteSummary(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if run := r.Run; run != nil {
		fmt.Fprintf(tw, "Algorithm:\t%s\n", run.Algorithm)
		fmt.Fprintf(tw, "Score:\t%s\n", formatScore(run.Score))
		fmt.Fprintf(tw, "Evaluations:\t%s (%s simulated)\n",
			humanize.Comma(int64(run.Evaluations)), humanize.Comma(int64(run.Simulated)))
		fmt.Fprintf(tw, "Converged:\t%t\n", run.Converged)
		if run.Message != "" {
			fmt.Fprintf(tw, "Message:\t%s\n", run.Message)
		}
		fmt.Fprintf(tw, "Duration:\t%s\n", run.Duration.Round(time.Millisecond))
		if !run.Started.IsZero() {
			fmt.Fprintf(tw, "Started:\t%s\n", humanize.Time(run.Started))
		}
		for _, warn := range run.Warnings {
			fmt.Fprintf(tw, "Warning:\t%s\n", warn)
		}
		fmt.Fprintln(tw)
		writeDimensions(tw, run.Best)
	}

	if perf := r.Performance; perf != nil {
		if r.Run == nil {
			writeDimensions(tw, perf.Params)
		}
		fmt.Fprintln(tw)
		fmt.Fprintf(tw, "Design frequency:\t%s\n", humanize.SIWithDigits(perf.Frequency, 4, "Hz"))
		fmt.Fprintf(tw, "Impedance:\t%.2f %+.2fj ohm\n", perf.Resistance, perf.Reactance)
		fmt.Fprintf(tw, "VSWR:\t%s\n", formatScore(perf.VSWR))
		fmt.Fprintf(tw, "Forward gain:\t%.2f dBi\n", perf.ForwardGain)
		fmt.Fprintf(tw, "Reverse gain:\t%.2f dBi\n", perf.ReverseGain)
		fmt.Fprintf(tw, "Front to back:\t%.2f dB\n", perf.FrontToBack)
		fmt.Fprintf(tw, "Peak gain:\t%.2f dBi at theta %g phi %g\n", perf.Peak.Gain, perf.Peak.Theta, perf.Peak.Phi)
		fmt.Fprintf(tw, "Segments:\t%s\n", humanize.Comma(int64(perf.Segments)))
		if len(perf.Clamped) > 0 {
			fmt.Fprintf(tw, "Clamped:\t%v\n", perf.Clamped)
		}

		if len(perf.Sweep) > 0 {
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "Frequency\tGain\tReverse\tF/B\tVSWR\tR\tX")
			for _, s := range perf.Sweep {
				fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%s\t%.1f\t%.1f\n",
					humanize.SIWithDigits(s.Frequency, 4, "Hz"),
					s.ForwardGain, s.ReverseGain, s.FrontToBack(), formatScore(s.VSWR),
					s.Resistance, s.Reactance)
			}
		}
	}
	return tw.Flush()
}

func writeDimensions(tw *tabwriter.Writer, p antenna.GeometryParams) {
	fmt.Fprintln(tw, "Dimension\tMeters\tInches")
	for i, v := range p.Vector() {
		fmt.Fprintf(tw, "%s\t%.4f\t%.3f\n", antenna.ParamNames[i], v, v/antenna.MetersPerInch)
	}
}

func formatScore(v float64) string {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return fmt.Sprint(v)
	}
	return humanize.FormatFloat("#,###.####", v)
}
