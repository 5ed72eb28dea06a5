package antenna

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	yerrors "github.com/copyleftdev/yagiopt/internal/errors"
	"github.com/copyleftdev/yagiopt/internal/optimization"
)

// Design is the user-facing design record. Frequencies are in MHz and the
// element diameter and folded dipole spacing are in inches, as stored in a
// .ygi file. Use ElementConfig and the sweep helpers to get SI values.
type Design struct {
	SystemImpedance    float64                    `json:"system_impedance"`
	DesignFrequencyMHz float64                    `json:"design_frequency_mhz"`
	PlotMinMHz         float64                    `json:"plot_min_mhz"`
	PlotMaxMHz         float64                    `json:"plot_max_mhz"`
	PlotStepMHz        float64                    `json:"plot_step_mhz"`
	OptStartMHz        float64                    `json:"opt_start_mhz"`
	OptStopMHz         float64                    `json:"opt_stop_mhz"`
	OptStepMHz         float64                    `json:"opt_step_mhz"`
	ElementDiameterIn  float64                    `json:"element_diameter_in"`
	Material           Material                   `json:"material"`
	Algorithm          optimization.AlgorithmKind `json:"algorithm"`
	VSWRWeight         float64                    `json:"vswr_weight"`
	GainWeight         float64                    `json:"gain_weight"`
	FrontToBackWeight  float64                    `json:"fb_weight"`
	FoldedSpacingIn    float64                    `json:"folded_spacing_in"`

	// FoldedDipole enables the folded driven element. It is not part of
	// the .ygi record.
	FoldedDipole bool `json:"folded_dipole"`
}

// designFields is the number of lines in a .ygi file.
const designFields = 15

// DefaultDesign returns a 2 m band design with aluminum elements.
func DefaultDesign() Design {
	return Design{
		SystemImpedance:    50,
		DesignFrequencyMHz: 144.1,
		PlotMinMHz:         130,
		PlotMaxMHz:         160,
		PlotStepMHz:        1,
		OptStartMHz:        144,
		OptStopMHz:         146,
		OptStepMHz:         1,
		ElementDiameterIn:  0.125,
		Material:           Aluminum,
		Algorithm:          optimization.DifferentialEvolution,
		VSWRWeight:         30,
		GainWeight:         10,
		FrontToBackWeight:  1,
		FoldedSpacingIn:    0.05 / MetersPerInch,
	}
}

// ElementConfig converts the design to SI units.
func (d Design) ElementConfig() ElementConfig {
	cfg := ElementConfig{
		WireDiameter:           d.ElementDiameterIn * MetersPerInch,
		Material:               d.Material,
		DesignFrequency:        d.DesignFrequencyMHz * HzPerMHz,
		ExtendedThinWireKernel: true,
	}
	if d.FoldedDipole {
		cfg.FoldedSpacing = d.FoldedSpacingIn * MetersPerInch
	}
	return cfg
}

// OptimizationSweep is the band the objective is scored over, in Hz.
func (d Design) OptimizationSweep() FrequencySpec {
	return FrequencySpec{
		Start: d.OptStartMHz * HzPerMHz,
		Stop:  d.OptStopMHz * HzPerMHz,
		Step:  d.OptStepMHz * HzPerMHz,
	}
}

// PlotSweep is the band performance reports are plotted over, in Hz.
func (d Design) PlotSweep() FrequencySpec {
	return FrequencySpec{
		Start: d.PlotMinMHz * HzPerMHz,
		Stop:  d.PlotMaxMHz * HzPerMHz,
		Step:  d.PlotStepMHz * HzPerMHz,
	}
}

// Validate checks the design can drive an optimization run.
func (d Design) Validate() error {
	if !(d.SystemImpedance > 0) || math.IsInf(d.SystemImpedance, 0) {
		return yerrors.New(yerrors.KindConfig, "system impedance must be positive").
			WithParam("z0", d.SystemImpedance)
	}
	if !d.Algorithm.Valid() {
		return yerrors.Errorf(yerrors.KindConfig, "invalid algorithm index %d", int(d.Algorithm))
	}
	for _, w := range []float64{d.VSWRWeight, d.GainWeight, d.FrontToBackWeight} {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return yerrors.New(yerrors.KindConfig, "objective weights must be finite")
		}
	}
	if d.FoldedDipole && !(d.FoldedSpacingIn > 0) {
		return yerrors.New(yerrors.KindConfig, "folded dipole enabled with no spacing").
			WithParam("folded_spacing_in", d.FoldedSpacingIn)
	}
	if err := d.ElementConfig().Validate(); err != nil {
		return err
	}
	if err := d.OptimizationSweep().Validate(); err != nil {
		return yerrors.Wrap(err, yerrors.KindConfig, "optimization sweep")
	}
	if err := d.PlotSweep().Validate(); err != nil {
		return yerrors.Wrap(err, yerrors.KindConfig, "plot sweep")
	}
	return nil
}

// ReadDesign parses a .ygi record: exactly fifteen lines, one value each.
// Trailing blank lines are ignored.
func ReadDesign(r io.Reader) (Design, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return Design{}, yerrors.Wrap(err, yerrors.KindConfig, "read design")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) != designFields {
		return Design{}, yerrors.Errorf(yerrors.KindConfig, "design has %d lines, want %d", len(lines), designFields)
	}

	var (
		d        Design
		material int
		algo     int
	)
	floats := []struct {
		line int
		dst  *float64
	}{
		{0, &d.SystemImpedance},
		{1, &d.DesignFrequencyMHz},
		{2, &d.PlotMinMHz},
		{3, &d.PlotMaxMHz},
		{4, &d.PlotStepMHz},
		{5, &d.OptStartMHz},
		{6, &d.OptStopMHz},
		{7, &d.OptStepMHz},
		{8, &d.ElementDiameterIn},
		{11, &d.VSWRWeight},
		{12, &d.GainWeight},
		{13, &d.FrontToBackWeight},
		{14, &d.FoldedSpacingIn},
	}
	for _, f := range floats {
		v, err := strconv.ParseFloat(lines[f.line], 64)
		if err != nil {
			return Design{}, yerrors.Wrapf(err, yerrors.KindConfig, "design line %d", f.line+1)
		}
		*f.dst = v
	}

	var err error
	if material, err = strconv.Atoi(lines[9]); err != nil {
		return Design{}, yerrors.Wrapf(err, yerrors.KindConfig, "design line %d", 10)
	}
	if algo, err = strconv.Atoi(lines[10]); err != nil {
		return Design{}, yerrors.Wrapf(err, yerrors.KindConfig, "design line %d", 11)
	}
	d.Material = Material(material)
	d.Algorithm = optimization.AlgorithmKind(algo)
	if !d.Material.Valid() {
		return Design{}, yerrors.Errorf(yerrors.KindConfig, "material index %d out of range", material)
	}
	if !d.Algorithm.Valid() {
		return Design{}, yerrors.Errorf(yerrors.KindConfig, "algorithm index %d out of range", algo)
	}
	return d, nil
}

// WriteTo writes d as a .ygi record.
func (d Design) WriteTo(w io.Writer) (int64, error) {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	fields := []string{
		f(d.SystemImpedance),
		f(d.DesignFrequencyMHz),
		f(d.PlotMinMHz),
		f(d.PlotMaxMHz),
		f(d.PlotStepMHz),
		f(d.OptStartMHz),
		f(d.OptStopMHz),
		f(d.OptStepMHz),
		f(d.ElementDiameterIn),
		strconv.Itoa(int(d.Material)),
		strconv.Itoa(int(d.Algorithm)),
		f(d.VSWRWeight),
		f(d.GainWeight),
		f(d.FrontToBackWeight),
		f(d.FoldedSpacingIn),
	}
	var buf bytes.Buffer
	buf.WriteString(strings.Join(fields, "\n"))
	return buf.WriteTo(w)
}

// LoadDesignFile reads path into *d. On any failure *d is left unchanged,
// apart from FoldedDipole which is never touched.
func LoadDesignFile(path string, d *Design) error {
	file, err := os.Open(path)
	if err != nil {
		return yerrors.Wrap(err, yerrors.KindConfig, "open design file")
	}
	defer file.Close()

	loaded, err := ReadDesign(file)
	if err != nil {
		return err
	}
	loaded.FoldedDipole = d.FoldedDipole
	*d = loaded
	return nil
}

// SaveDesignFile writes d to path.
func SaveDesignFile(path string, d Design) error {
	file, err := os.Create(path)
	if err != nil {
		return yerrors.Wrap(err, yerrors.KindConfig, "create design file")
	}
	if _, err := d.WriteTo(file); err != nil {
		file.Close()
		return yerrors.Wrap(err, yerrors.KindConfig, "write design file")
	}
	return file.Close()
}
