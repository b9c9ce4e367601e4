package analysis

import (
	"context"
	"fmt"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

// Capacity sources
const (
	CapacityFromCurrent = "current"
	CapacityFromCharge  = "charge"
)

// CycleResult holds the capacities of one cycle. Positive current charges
// the cell.
type CycleResult struct {
	Cycle               int     `json:"cycle"`
	Duration            float64 `json:"duration_s"`
	ChargeCapacity      float64 `json:"charge_capacity_mah"`
	DischargeCapacity   float64 `json:"discharge_capacity_mah"`
	SpecificCharge      float64 `json:"specific_charge_mah_g,omitempty"`
	SpecificDischarge   float64 `json:"specific_discharge_mah_g,omitempty"`
	ChargeEnergy        float64 `json:"charge_energy_mwh,omitempty"`
	DischargeEnergy     float64 `json:"discharge_energy_mwh,omitempty"`
	CoulombicEfficiency float64 `json:"coulombic_efficiency_pct,omitempty"`
	Retention           float64 `json:"retention_pct,omitempty"`
}

// CyclingResult summarizes a cycling experiment
type CyclingResult struct {
	Source                  string        `json:"source"`
	Cycles                  []CycleResult `json:"cycles"`
	InitialDischarge        float64       `json:"initial_discharge_mah"`
	FinalDischarge          float64       `json:"final_discharge_mah"`
	Retention               float64       `json:"retention_pct,omitempty"`
	MeanCoulombicEfficiency float64       `json:"mean_coulombic_efficiency_pct,omitempty"`
}

// Fields lists the summary values
func (r *CyclingResult) Fields() []Field {
	return []Field{
		{Name: "cycles", Value: float64(len(r.Cycles))},
		{Name: "initial_discharge", Value: r.InitialDischarge, Unit: "mAh"},
		{Name: "final_discharge", Value: r.FinalDischarge, Unit: "mAh"},
		{Name: "retention", Value: r.Retention, Unit: "%"},
		{Name: "mean_coulombic_efficiency", Value: r.MeanCoulombicEfficiency, Unit: "%"},
	}
}

// Table returns one row per cycle
func (r *CyclingResult) Table() ([]string, [][]float64) {
	columns := []string{
		"cycle", "charge_mAh", "discharge_mAh", "ce_%", "retention_%",
		"charge_mAh/g", "discharge_mAh/g", "charge_mWh", "discharge_mWh",
	}
	rows := make([][]float64, 0, len(r.Cycles))
	for _, c := range r.Cycles {
		rows = append(rows, []float64{
			float64(c.Cycle), c.ChargeCapacity, c.DischargeCapacity, c.CoulombicEfficiency, c.Retention,
			c.SpecificCharge, c.SpecificDischarge, c.ChargeEnergy, c.DischargeEnergy,
		})
	}
	return columns, rows
}

// CyclingAnalyzer computes per-cycle capacities, efficiencies and energies
type CyclingAnalyzer struct {
	baseAnalyzer
}

// NewCyclingAnalyzer creates the cycling analyzer
func NewCyclingAnalyzer() *CyclingAnalyzer {
	return &CyclingAnalyzer{
		baseAnalyzer: newBaseAnalyzer(
			"cycling",
			"Per-cycle capacity, coulombic efficiency, energy and retention",
			measurement.TechniqueCycling,
		),
	}
}

// Analyze takes capacities from the instrument's charge channel when there
// is one, otherwise it integrates current over time per cycle.
func (a *CyclingAnalyzer) Analyze(ctx context.Context, m *measurement.Measurement, _ Params) (Result, error) {
	var source string
	switch {
	case m.Has(measurement.QuantityCharge):
		source = CapacityFromCharge
	case m.Has(measurement.QuantityTime, measurement.QuantityCurrent):
		source = CapacityFromCurrent
	default:
		return nil, fmt.Errorf("%w: cycling needs charge, or time and current", shared.ErrInsufficientData)
	}

	keys, cycles := []int{1}, map[int]*measurement.Measurement{1: m}
	if m.Has(measurement.QuantityCycle) {
		keys, cycles = m.SplitBy(measurement.QuantityCycle)
		if len(keys) == 0 {
			return nil, fmt.Errorf("%w: cycle channel holds no values", shared.ErrInsufficientData)
		}
	}

	mass := m.Metadata.ActiveMass.InexactFloat64()
	res := &CyclingResult{Source: source, Cycles: make([]CycleResult, 0, len(keys))}
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := cycles[k]
		cr := CycleResult{Cycle: k}

		t := c.Values(measurement.QuantityTime)
		if t != nil {
			if _, lo, hi, ok := describe(t); ok {
				cr.Duration = hi - lo
			}
		}

		switch source {
		case CapacityFromCurrent:
			i := c.Values(measurement.QuantityCurrent)
			cr.ChargeCapacity = trapezoid(t, positivePart(i)) * mAhPerCoulomb
			cr.DischargeCapacity = trapezoid(t, negativePart(i)) * mAhPerCoulomb
			if e := c.Values(measurement.QuantityPotential); e != nil {
				cr.ChargeEnergy = trapezoid(t, product(e, positivePart(i))) * mWhPerJoule
				cr.DischargeEnergy = trapezoid(t, product(e, negativePart(i))) * mWhPerJoule
			}
		case CapacityFromCharge:
			in, out, ein, eout := chargeThroughput(
				c.Values(measurement.QuantityCharge),
				c.Values(measurement.QuantityHalfCycle),
				c.Values(measurement.QuantityPotential),
			)
			cr.ChargeCapacity = in * mAhPerCoulomb
			cr.DischargeCapacity = out * mAhPerCoulomb
			cr.ChargeEnergy = ein * mWhPerJoule
			cr.DischargeEnergy = eout * mWhPerJoule
		}

		if cr.ChargeCapacity > 0 {
			cr.CoulombicEfficiency = cr.DischargeCapacity / cr.ChargeCapacity * 100
		}
		if mass > 0 {
			cr.SpecificCharge = cr.ChargeCapacity / mass
			cr.SpecificDischarge = cr.DischargeCapacity / mass
		}
		res.Cycles = append(res.Cycles, cr)
	}

	summarizeCycles(res)
	return res, nil
}

// chargeThroughput sums the increments of a charge channel. Rising charge
// counts as charge, falling charge as discharge, so both cumulative (Q-Qo)
// and signed per half cycle channels work. Steps across a half cycle
// boundary are skipped because instruments reset the counter there. With a
// potential channel each increment is weighted by the mean potential of its
// two samples to give energies in joules.
func chargeThroughput(q, half, e []float64) (in, out, ein, eout float64) {
	for k := 1; k < len(q); k++ {
		if half != nil && half[k] != half[k-1] {
			continue
		}
		dq := q[k] - q[k-1]
		if !finite(dq) {
			continue
		}
		var v float64
		if e != nil && finite(e[k]) && finite(e[k-1]) {
			v = (e[k] + e[k-1]) / 2
		}
		if dq > 0 {
			in += dq
			ein += v * dq
		} else {
			out -= dq
			eout -= v * dq
		}
	}
	return in, out, ein, eout
}

// summarizeCycles fills retention relative to the first cycle that
// discharged and the mean coulombic efficiency
func summarizeCycles(res *CyclingResult) {
	var first float64
	var ceSum float64
	var ceCount int
	for i := range res.Cycles {
		c := &res.Cycles[i]
		if first == 0 && c.DischargeCapacity > 0 {
			first = c.DischargeCapacity
		}
		if first > 0 {
			c.Retention = c.DischargeCapacity / first * 100
		}
		if c.CoulombicEfficiency > 0 {
			ceSum += c.CoulombicEfficiency
			ceCount++
		}
	}
	if len(res.Cycles) == 0 {
		return
	}
	res.InitialDischarge = first
	res.FinalDischarge = res.Cycles[len(res.Cycles)-1].DischargeCapacity
	if first > 0 {
		res.Retention = res.FinalDischarge / first * 100
	}
	if ceCount > 0 {
		res.MeanCoulombicEfficiency = ceSum / float64(ceCount)
	}
}
