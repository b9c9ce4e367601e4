package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/constants"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

// levichCoefficient is the numeric factor of the Levich equation with
// ω in rad/s and all lengths in cm
const levichCoefficient = 0.620

// plateauFraction is the share of samples with the largest |I| averaged to
// estimate a limiting current
const plateauFraction = 0.05

// RDEPoint is the limiting current at one rotation rate
type RDEPoint struct {
	RotationRate    float64 `json:"rotation_rate_rpm"`
	AngularVelocity float64 `json:"omega_rad_s"`
	LimitingCurrent float64 `json:"limiting_current_a"`
}

// RDEResult holds Levich and Koutecký-Levich regressions
type RDEResult struct {
	Points []RDEPoint `json:"points"`

	// LevichSlope of |i_L| vs ω^½ in A s^½
	LevichSlope     float64 `json:"levich_slope"`
	LevichIntercept float64 `json:"levich_intercept_a"`
	LevichR2        float64 `json:"levich_r2"`

	// KLSlope of 1/|i| vs ω^-½ in A^-1 s^-½
	KLSlope        float64 `json:"kl_slope"`
	KLIntercept    float64 `json:"kl_intercept_per_a"`
	KLR2           float64 `json:"kl_r2"`
	KineticCurrent float64 `json:"kinetic_current_a,omitempty"`

	// Electron numbers need electrode area, diffusivity, viscosity and
	// concentration
	ElectronsLevich float64 `json:"electrons_levich,omitempty"`
	ElectronsKL     float64 `json:"electrons_kl,omitempty"`

	Temperature    float64 `json:"temperature_k"`
	ThermalVoltage float64 `json:"thermal_voltage_v"`
}

// Fields lists the regression results
func (r *RDEResult) Fields() []Field {
	return []Field{
		{Name: "rotation_rates", Value: float64(len(r.Points))},
		{Name: "levich_slope", Value: r.LevichSlope, Unit: "A s^0.5"},
		{Name: "levich_intercept", Value: r.LevichIntercept, Unit: "A"},
		{Name: "levich_r2", Value: r.LevichR2},
		{Name: "kl_slope", Value: r.KLSlope, Unit: "A^-1 s^-0.5"},
		{Name: "kl_intercept", Value: r.KLIntercept, Unit: "A^-1"},
		{Name: "kl_r2", Value: r.KLR2},
		{Name: "kinetic_current", Value: r.KineticCurrent, Unit: "A"},
		{Name: "electrons_levich", Value: r.ElectronsLevich},
		{Name: "electrons_kl", Value: r.ElectronsKL},
		{Name: "temperature", Value: r.Temperature, Unit: "K"},
		{Name: "thermal_voltage", Value: r.ThermalVoltage, Unit: "V"},
	}
}

// Table returns one row per rotation rate
func (r *RDEResult) Table() ([]string, [][]float64) {
	rows := make([][]float64, 0, len(r.Points))
	for _, p := range r.Points {
		rows = append(rows, []float64{p.RotationRate, p.AngularVelocity, p.LimitingCurrent})
	}
	return []string{"rpm", "omega_rad/s", "i_lim_A"}, rows
}

// RDEAnalyzer extracts limiting currents per rotation rate and runs Levich
// and Koutecký-Levich regressions
type RDEAnalyzer struct {
	baseAnalyzer
}

// NewRDEAnalyzer creates the rotating disk electrode analyzer
func NewRDEAnalyzer() *RDEAnalyzer {
	return &RDEAnalyzer{
		baseAnalyzer: newBaseAnalyzer(
			"rde",
			"Limiting currents with Levich and Koutecky-Levich analysis",
			measurement.TechniqueRDE,
		),
	}
}

// angularVelocity converts rpm to rad/s
func angularVelocity(rpm float64) float64 {
	return rpm * 2 * math.Pi / 60
}

// limitingCurrent reads the current at the sample closest to the given
// potential, or averages the plateau of largest |I|
func limitingCurrent(m *measurement.Measurement, at *float64) (float64, bool) {
	current := m.Values(measurement.QuantityCurrent)
	if at != nil {
		potential := m.Values(measurement.QuantityPotential)
		best, bestDist := -1, math.Inf(1)
		for k := range potential {
			if !finite(potential[k]) || !finite(current[k]) {
				continue
			}
			if d := math.Abs(potential[k] - *at); d < bestDist {
				best, bestDist = k, d
			}
		}
		if best < 0 {
			return 0, false
		}
		return current[best], true
	}

	v := finiteValues(current)
	if len(v) == 0 {
		return 0, false
	}
	sort.Slice(v, func(i, j int) bool { return math.Abs(v[i]) > math.Abs(v[j]) })
	n := int(math.Ceil(plateauFraction * float64(len(v))))
	return stat.Mean(v[:n], nil), true
}

// Analyze groups the sweep by rotation rate and regresses the limiting currents
func (a *RDEAnalyzer) Analyze(ctx context.Context, m *measurement.Measurement, p Params) (Result, error) {
	if !m.Has(measurement.QuantityCurrent) {
		return nil, fmt.Errorf("%w: rde needs a current channel", shared.ErrInsufficientData)
	}
	if p.LimitingPotential != nil && !m.Has(measurement.QuantityPotential) {
		return nil, fmt.Errorf("%w: limiting potential given but no potential channel", shared.ErrInsufficientData)
	}
	if !m.Has(measurement.QuantityRotationRate) {
		return nil, fmt.Errorf("%w: rde needs a rotation_rate channel with at least two rates", shared.ErrInsufficientData)
	}

	res := &RDEResult{Temperature: p.temperature(m)}
	res.ThermalVoltage = constants.ThermalVoltage(res.Temperature)
	rates, groups := m.SplitBy(measurement.QuantityRotationRate)
	for _, rpm := range rates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if rpm <= 0 {
			continue
		}
		il, ok := limitingCurrent(groups[rpm], p.LimitingPotential)
		if !ok || il == 0 {
			continue
		}
		res.Points = append(res.Points, RDEPoint{
			RotationRate:    float64(rpm),
			AngularVelocity: angularVelocity(float64(rpm)),
			LimitingCurrent: il,
		})
	}
	if len(res.Points) < 2 {
		return nil, fmt.Errorf("%w: %d usable rotation rates, need at least 2", shared.ErrInsufficientData, len(res.Points))
	}

	n := len(res.Points)
	sqrtOmega := make([]float64, n)
	invSqrtOmega := make([]float64, n)
	absI := make([]float64, n)
	invI := make([]float64, n)
	for k, pt := range res.Points {
		sqrtOmega[k] = math.Sqrt(pt.AngularVelocity)
		invSqrtOmega[k] = 1 / sqrtOmega[k]
		absI[k] = math.Abs(pt.LimitingCurrent)
		invI[k] = 1 / absI[k]
	}

	res.LevichIntercept, res.LevichSlope = stat.LinearRegression(sqrtOmega, absI, nil, false)
	res.LevichR2 = clip(stat.RSquared(sqrtOmega, absI, nil, res.LevichIntercept, res.LevichSlope))

	res.KLIntercept, res.KLSlope = stat.LinearRegression(invSqrtOmega, invI, nil, false)
	res.KLR2 = clip(stat.RSquared(invSqrtOmega, invI, nil, res.KLIntercept, res.KLSlope))
	if res.KLIntercept > 0 {
		res.KineticCurrent = 1 / res.KLIntercept
	}

	area := m.Metadata.ElectrodeArea.InexactFloat64()
	if area > 0 && p.hasTransportProperties() {
		// per electron, in A s^½
		b := levichCoefficient * constants.Faraday() * area *
			math.Pow(p.Diffusivity, 2.0/3) * math.Pow(p.KinematicViscosity, -1.0/6) *
			p.Concentration / 1000
		res.ElectronsLevich = res.LevichSlope / b
		if res.KLSlope > 0 {
			res.ElectronsKL = 1 / (res.KLSlope * b)
		}
	}
	res.LevichSlope = clip(res.LevichSlope)
	res.LevichIntercept = clip(res.LevichIntercept)
	res.KLSlope = clip(res.KLSlope)
	res.KLIntercept = clip(res.KLIntercept)
	return res, nil
}

// MergeRotationRates combines single-rate RDE sweeps into one measurement
// with a rotation_rate channel, taking each rate from the file's channel or
// its metadata. Metadata and provenance come from the first sweep.
func MergeRotationRates(ms []*measurement.Measurement) (*measurement.Measurement, error) {
	if len(ms) == 0 {
		return nil, fmt.Errorf("%w: no measurements to merge", shared.ErrInsufficientData)
	}
	withPotential := true
	for _, m := range ms {
		if !m.Has(measurement.QuantityCurrent) {
			return nil, fmt.Errorf("%w: measurement %s has no current channel", shared.ErrInsufficientData, m.ID)
		}
		withPotential = withPotential && m.Has(measurement.QuantityPotential)
	}

	var current, potential, rate []float64
	for _, m := range ms {
		rpm := m.Values(measurement.QuantityRotationRate)
		if rpm == nil {
			r := m.Metadata.RotationRate.InexactFloat64()
			if r <= 0 {
				return nil, fmt.Errorf("%w: measurement %s has no rotation rate", shared.ErrInvalidInput, m.ID)
			}
			rpm = make([]float64, m.Len())
			for k := range rpm {
				rpm[k] = r
			}
		}
		rate = append(rate, rpm...)
		current = append(current, m.Values(measurement.QuantityCurrent)...)
		if withPotential {
			potential = append(potential, m.Values(measurement.QuantityPotential)...)
		}
	}

	meta := ms[0].Metadata
	meta.Technique = measurement.TechniqueRDE
	out := measurement.NewMeasurement(meta, ms[0].Provenance)
	channels := []measurement.Channel{
		{Quantity: measurement.QuantityCurrent, Unit: measurement.QuantityCurrent.CanonicalUnit(), Values: current},
		{Quantity: measurement.QuantityRotationRate, Unit: measurement.QuantityRotationRate.CanonicalUnit(), Values: rate},
	}
	if withPotential {
		channels = append(channels, measurement.Channel{
			Quantity: measurement.QuantityPotential, Unit: measurement.QuantityPotential.CanonicalUnit(), Values: potential,
		})
	}
	for _, ch := range channels {
		if err := out.AddChannel(ch); err != nil {
			return nil, err
		}
	}
	return out, nil
}
