package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/constants"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

// reversibleSeparation is the peak separation of a reversible couple in
// units of RT/nF
const reversibleSeparation = 2.218

// CVPeaks holds the extreme currents of a voltammogram
type CVPeaks struct {
	AnodicPotential   float64 `json:"anodic_potential_v"`
	AnodicCurrent     float64 `json:"anodic_current_a"`
	CathodicPotential float64 `json:"cathodic_potential_v"`
	CathodicCurrent   float64 `json:"cathodic_current_a"`
	PeakSeparation    float64 `json:"peak_separation_v"`
	HalfWavePotential float64 `json:"half_wave_potential_v"`
	// ThermalVoltage RT/F at the measurement temperature
	ThermalVoltage float64 `json:"thermal_voltage_v"`
	// ApparentElectrons is n of a reversible couple with the observed separation
	ApparentElectrons float64 `json:"apparent_electrons,omitempty"`
}

// SweepResult summarizes a potentiostatic, galvanostatic or voltammetric run
type SweepResult struct {
	Points   int     `json:"points"`
	Duration float64 `json:"duration_s"`
	// Charge passed, ∫I dt
	Charge        float64  `json:"charge_c"`
	MeanCurrent   float64  `json:"mean_current_a"`
	MinCurrent    float64  `json:"min_current_a"`
	MaxCurrent    float64  `json:"max_current_a"`
	MeanPotential float64  `json:"mean_potential_v"`
	MinPotential  float64  `json:"min_potential_v"`
	MaxPotential  float64  `json:"max_potential_v"`
	ScanRate      float64  `json:"scan_rate_v_s,omitempty"`
	Peaks         *CVPeaks `json:"peaks,omitempty"`
}

// Fields lists the summary values
func (r *SweepResult) Fields() []Field {
	fields := []Field{
		{Name: "points", Value: float64(r.Points)},
		{Name: "duration", Value: r.Duration, Unit: "s"},
		{Name: "charge", Value: r.Charge, Unit: "C"},
		{Name: "mean_current", Value: r.MeanCurrent, Unit: "A"},
		{Name: "min_current", Value: r.MinCurrent, Unit: "A"},
		{Name: "max_current", Value: r.MaxCurrent, Unit: "A"},
		{Name: "mean_potential", Value: r.MeanPotential, Unit: "V"},
		{Name: "min_potential", Value: r.MinPotential, Unit: "V"},
		{Name: "max_potential", Value: r.MaxPotential, Unit: "V"},
	}
	if r.ScanRate > 0 {
		fields = append(fields, Field{Name: "scan_rate", Value: r.ScanRate, Unit: "V/s"})
	}
	if p := r.Peaks; p != nil {
		fields = append(fields,
			Field{Name: "anodic_peak_potential", Value: p.AnodicPotential, Unit: "V"},
			Field{Name: "anodic_peak_current", Value: p.AnodicCurrent, Unit: "A"},
			Field{Name: "cathodic_peak_potential", Value: p.CathodicPotential, Unit: "V"},
			Field{Name: "cathodic_peak_current", Value: p.CathodicCurrent, Unit: "A"},
			Field{Name: "peak_separation", Value: p.PeakSeparation, Unit: "V"},
			Field{Name: "half_wave_potential", Value: p.HalfWavePotential, Unit: "V"},
			Field{Name: "thermal_voltage", Value: p.ThermalVoltage, Unit: "V"},
			Field{Name: "apparent_electrons", Value: p.ApparentElectrons},
		)
	}
	return fields
}

// SweepAnalyzer summarizes controlled-current, controlled-potential and
// cyclic voltammetry runs
type SweepAnalyzer struct {
	baseAnalyzer
}

// NewSweepAnalyzer creates the summary analyzer
func NewSweepAnalyzer() *SweepAnalyzer {
	return &SweepAnalyzer{
		baseAnalyzer: newBaseAnalyzer(
			"summary",
			"Duration, charge passed and current/potential statistics; peaks for CV",
			measurement.TechniqueGalvanostatic,
			measurement.TechniquePotentiostatic,
			measurement.TechniqueCyclicVoltammetry,
		),
	}
}

// Analyze computes the summary statistics
func (a *SweepAnalyzer) Analyze(ctx context.Context, m *measurement.Measurement, p Params) (Result, error) {
	if !m.Has(measurement.QuantityCurrent) && !m.Has(measurement.QuantityPotential) {
		return nil, fmt.Errorf("%w: summary needs current or potential", shared.ErrInsufficientData)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := m.Values(measurement.QuantityTime)
	i := m.Values(measurement.QuantityCurrent)
	e := m.Values(measurement.QuantityPotential)

	res := &SweepResult{Points: m.Len()}
	if _, lo, hi, ok := describe(t); ok {
		res.Duration = hi - lo
	}
	if t != nil && i != nil {
		res.Charge = trapezoid(t, i)
	}
	res.MeanCurrent, res.MinCurrent, res.MaxCurrent, _ = describe(i)
	res.MeanPotential, res.MinPotential, res.MaxPotential, _ = describe(e)

	if m.Metadata.Technique == measurement.TechniqueCyclicVoltammetry && e != nil {
		if t != nil {
			res.ScanRate = scanRate(t, e)
		}
		if i != nil {
			res.Peaks = findPeaks(e, i)
		}
		if pk := res.Peaks; pk != nil {
			pk.ThermalVoltage = constants.ThermalVoltage(p.temperature(m))
			if pk.PeakSeparation > 0 {
				pk.ApparentElectrons = reversibleSeparation * pk.ThermalVoltage / pk.PeakSeparation
			}
		}
	}
	return res, nil
}

// scanRate returns the median |dE/dt|
func scanRate(t, e []float64) float64 {
	rates := make([]float64, 0, len(t))
	for k := 1; k < len(t) && k < len(e); k++ {
		dt := t[k] - t[k-1]
		if dt <= 0 {
			continue
		}
		rates = append(rates, math.Abs(e[k]-e[k-1])/dt)
	}
	return median(rates)
}

// findPeaks locates the largest anodic and cathodic currents
func findPeaks(e, i []float64) *CVPeaks {
	ia, ic := -1, -1
	for k := range i {
		if k >= len(e) || !finite(i[k]) || !finite(e[k]) {
			continue
		}
		if ia < 0 || i[k] > i[ia] {
			ia = k
		}
		if ic < 0 || i[k] < i[ic] {
			ic = k
		}
	}
	if ia < 0 {
		return nil
	}
	p := &CVPeaks{
		AnodicPotential:   e[ia],
		AnodicCurrent:     i[ia],
		CathodicPotential: e[ic],
		CathodicCurrent:   i[ic],
	}
	p.PeakSeparation = p.AnodicPotential - p.CathodicPotential
	p.HalfWavePotential = (p.AnodicPotential + p.CathodicPotential) / 2
	return p
}
