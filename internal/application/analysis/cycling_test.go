package analysis

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

// synthCycling charges at 1 mA for one hour and discharges at 1 mA for the
// given number of minutes in each cycle, sampled every minute. Both half
// cycles share the sample at the switch time.
func synthCycling(t *testing.T, dischargeMinutes ...int) *measurement.Measurement {
	t.Helper()
	var tm, e, i, cycle []float64
	start := 0.0
	for c, minutes := range dischargeMinutes {
		for k := 0; k <= 60; k++ {
			tm = append(tm, start+float64(k)*60)
			e = append(e, 3.5)
			i = append(i, 1e-3)
			cycle = append(cycle, float64(c+1))
		}
		start += 3600
		for k := 0; k <= minutes; k++ {
			tm = append(tm, start+float64(k)*60)
			e = append(e, 3.0)
			i = append(i, -1e-3)
			cycle = append(cycle, float64(c+1))
		}
		start += float64(minutes) * 60
	}

	md := meta(measurement.TechniqueCycling)
	md.ActiveMass = decimal.RequireFromString("0.01")
	return newMeasurement(t, md,
		channel(measurement.QuantityTime, tm),
		channel(measurement.QuantityPotential, e),
		channel(measurement.QuantityCurrent, i),
		channel(measurement.QuantityCycle, cycle),
	)
}

func TestCyclingAnalyzer_FromCurrent(t *testing.T) {
	m := synthCycling(t, 57, 54, 51)

	result, err := NewCyclingAnalyzer().Analyze(context.Background(), m, DefaultParams())
	require.NoError(t, err)
	res := result.(*CyclingResult)

	assert.Equal(t, CapacityFromCurrent, res.Source)
	require.Len(t, res.Cycles, 3)

	first := res.Cycles[0]
	assert.Equal(t, 1, first.Cycle)
	assert.InDelta(t, 1.0, first.ChargeCapacity, 1e-9)
	assert.InDelta(t, 0.95, first.DischargeCapacity, 1e-9)
	assert.InDelta(t, 95, first.CoulombicEfficiency, 1e-6)
	assert.InDelta(t, 100, first.SpecificCharge, 1e-6)
	assert.InDelta(t, 95, first.SpecificDischarge, 1e-6)
	assert.InDelta(t, 3.5, first.ChargeEnergy, 1e-9)
	assert.InDelta(t, 2.85, first.DischargeEnergy, 1e-9)
	assert.InDelta(t, 100, first.Retention, 1e-9)
	assert.InDelta(t, 3600+57*60, first.Duration, 1e-9)

	assert.InDelta(t, 0.9/0.95*100, res.Cycles[1].Retention, 1e-6)
	assert.InDelta(t, 85, res.Cycles[2].CoulombicEfficiency, 1e-6)

	assert.InDelta(t, 0.95, res.InitialDischarge, 1e-9)
	assert.InDelta(t, 0.85, res.FinalDischarge, 1e-9)
	assert.InDelta(t, 0.85/0.95*100, res.Retention, 1e-6)
	assert.InDelta(t, 90, res.MeanCoulombicEfficiency, 1e-6)

	columns, rows := res.Table()
	assert.Len(t, rows, 3)
	assert.Equal(t, "cycle", columns[0])
}

func TestCyclingAnalyzer_FromCharge(t *testing.T) {
	t.Run("signed counter reset at each half cycle", func(t *testing.T) {
		m := newMeasurement(t, meta(measurement.TechniqueCycling),
			channel(measurement.QuantityCharge, []float64{0, 1.8, 3.6, 0, -1.8, -3.42}),
			channel(measurement.QuantityHalfCycle, []float64{0, 0, 0, 1, 1, 1}),
			channel(measurement.QuantityCycle, []float64{0, 0, 0, 0, 0, 0}),
		)

		result, err := NewCyclingAnalyzer().Analyze(context.Background(), m, DefaultParams())
		require.NoError(t, err)
		res := result.(*CyclingResult)

		assert.Equal(t, CapacityFromCharge, res.Source)
		require.Len(t, res.Cycles, 1)
		assert.Equal(t, 0, res.Cycles[0].Cycle)
		assert.InDelta(t, 1.0, res.Cycles[0].ChargeCapacity, 1e-9)
		assert.InDelta(t, 0.95, res.Cycles[0].DischargeCapacity, 1e-9)
		assert.Zero(t, res.Cycles[0].ChargeEnergy)
		assert.Zero(t, res.Cycles[0].SpecificCharge)
	})

	t.Run("cumulative (Q-Qo) within a cycle", func(t *testing.T) {
		m := newMeasurement(t, meta(measurement.TechniqueCycling),
			channel(measurement.QuantityCharge, []float64{0, 1.8, 3.6, 1.8, 0.18}),
		)

		result, err := NewCyclingAnalyzer().Analyze(context.Background(), m, DefaultParams())
		require.NoError(t, err)
		res := result.(*CyclingResult)

		require.Len(t, res.Cycles, 1)
		assert.InDelta(t, 1.0, res.Cycles[0].ChargeCapacity, 1e-9)
		assert.InDelta(t, 0.95, res.Cycles[0].DischargeCapacity, 1e-9)
		assert.InDelta(t, 95, res.Cycles[0].CoulombicEfficiency, 1e-6)
	})
}

func TestCyclingAnalyzer_ChargeChannelWinsOverCurrent(t *testing.T) {
	m := newMeasurement(t, meta(measurement.TechniqueCycling),
		channel(measurement.QuantityTime, []float64{0, 1800, 3600, 5400, 7200}),
		channel(measurement.QuantityCurrent, []float64{5e-3, 5e-3, 5e-3, 5e-3, 5e-3}),
		channel(measurement.QuantityPotential, []float64{3, 3.5, 4, 3.5, 3}),
		channel(measurement.QuantityCharge, []float64{0, 1.8, 3.6, 1.8, 0.18}),
	)

	result, err := NewCyclingAnalyzer().Analyze(context.Background(), m, DefaultParams())
	require.NoError(t, err)
	res := result.(*CyclingResult)

	assert.Equal(t, CapacityFromCharge, res.Source)
	require.Len(t, res.Cycles, 1)
	c := res.Cycles[0]
	assert.InDelta(t, 1.0, c.ChargeCapacity, 1e-9)
	assert.InDelta(t, 0.95, c.DischargeCapacity, 1e-9)
	assert.InDelta(t, 3.5, c.ChargeEnergy, 1e-9)
	assert.InDelta(t, 12.015/3.6, c.DischargeEnergy, 1e-9)
	assert.InDelta(t, 7200, c.Duration, 1e-9)
}

func TestCyclingAnalyzer_SingleCycleWithoutCycleChannel(t *testing.T) {
	m := newMeasurement(t, meta(measurement.TechniqueCycling),
		channel(measurement.QuantityTime, []float64{0, 1800, 3600}),
		channel(measurement.QuantityCurrent, []float64{2e-3, 2e-3, 2e-3}),
	)

	result, err := NewCyclingAnalyzer().Analyze(context.Background(), m, DefaultParams())
	require.NoError(t, err)
	res := result.(*CyclingResult)

	require.Len(t, res.Cycles, 1)
	assert.InDelta(t, 2.0, res.Cycles[0].ChargeCapacity, 1e-9)
	assert.Zero(t, res.Cycles[0].DischargeCapacity)
	assert.Zero(t, res.Retention)
}

func TestCyclingAnalyzer_Errors(t *testing.T) {
	m := newMeasurement(t, meta(measurement.TechniqueCycling), channel(measurement.QuantityPotential, []float64{3, 3.1}))
	_, err := NewCyclingAnalyzer().Analyze(context.Background(), m, DefaultParams())
	assert.ErrorIs(t, err, shared.ErrInsufficientData)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewCyclingAnalyzer().Analyze(ctx, synthCycling(t, 50), DefaultParams())
	assert.ErrorIs(t, err, context.Canceled)
}
