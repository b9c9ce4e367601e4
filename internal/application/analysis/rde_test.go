package analysis

import (
	"context"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/constants"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

var rdeParams = Params{
	Diffusivity:        1.9e-5,
	KinematicViscosity: 0.01,
	Concentration:      1.2e-3,
}

const rdeArea = 0.196

// levichPerElectron is the Levich slope for one electron with rdeParams
func levichPerElectron() float64 {
	return 0.620 * constants.Faraday() * rdeArea *
		math.Pow(rdeParams.Diffusivity, 2.0/3) * math.Pow(rdeParams.KinematicViscosity, -1.0/6) *
		rdeParams.Concentration / 1000
}

// synthRDE builds cathodic sweeps from 1.0 V to 0 V at several rotation
// rates. kinetic is the kinetic current in A, zero for pure mass transport.
func synthRDE(t *testing.T, electrons, kinetic float64, rates ...float64) *measurement.Measurement {
	t.Helper()
	var e, i, rpm []float64
	for _, rate := range rates {
		il := electrons * levichPerElectron() * math.Sqrt(angularVelocity(rate))
		if kinetic > 0 {
			il = il * kinetic / (il + kinetic)
		}
		for k := 0; k < 50; k++ {
			potential := 1.0 - float64(k)/49
			e = append(e, potential)
			i = append(i, -il/(1+math.Exp((potential-0.6)/0.03)))
			rpm = append(rpm, rate)
		}
	}
	md := meta(measurement.TechniqueRDE)
	md.ElectrodeArea = decimal.NewFromFloat(rdeArea)
	return newMeasurement(t, md,
		channel(measurement.QuantityPotential, e),
		channel(measurement.QuantityCurrent, i),
		channel(measurement.QuantityRotationRate, rpm),
	)
}

func TestRDEAnalyzer_Levich(t *testing.T) {
	m := synthRDE(t, 4, 0, 400, 900, 1600, 2500)

	result, err := NewRDEAnalyzer().Analyze(context.Background(), m, rdeParams.withDefaults())
	require.NoError(t, err)
	res := result.(*RDEResult)

	require.Len(t, res.Points, 4)
	assert.Equal(t, 400.0, res.Points[0].RotationRate)
	assert.Less(t, res.Points[0].LimitingCurrent, 0.0)
	assert.InEpsilon(t, 4*levichPerElectron(), res.LevichSlope, 1e-4)
	assert.InDelta(t, 0, res.LevichIntercept, 1e-9)
	assert.InDelta(t, 1, res.LevichR2, 1e-9)
	assert.InEpsilon(t, 4, res.ElectronsLevich, 1e-4)
	assert.InEpsilon(t, 4, res.ElectronsKL, 1e-4)
	assert.Equal(t, 298.15, res.Temperature)
	assert.InDelta(t, 0.025693, res.ThermalVoltage, 1e-6)
}

func TestRDEAnalyzer_KouteckyLevich(t *testing.T) {
	m := synthRDE(t, 2, 5e-3, 400, 900, 1600, 2500)

	result, err := NewRDEAnalyzer().Analyze(context.Background(), m, rdeParams)
	require.NoError(t, err)
	res := result.(*RDEResult)

	assert.InEpsilon(t, 200, res.KLIntercept, 1e-4)
	assert.InEpsilon(t, 5e-3, res.KineticCurrent, 1e-4)
	assert.InEpsilon(t, 2, res.ElectronsKL, 1e-4)
	assert.Less(t, res.LevichR2, 1.0)
}

func TestRDEAnalyzer_LimitingPotential(t *testing.T) {
	m := synthRDE(t, 4, 0, 400, 1600)
	at := 0.0
	p := rdeParams
	p.LimitingPotential = &at

	result, err := NewRDEAnalyzer().Analyze(context.Background(), m, p)
	require.NoError(t, err)
	res := result.(*RDEResult)

	want := -4 * levichPerElectron() * math.Sqrt(angularVelocity(400))
	assert.InEpsilon(t, want, res.Points[0].LimitingCurrent, 1e-6)
}

func TestRDEAnalyzer_WithoutTransportProperties(t *testing.T) {
	m := synthRDE(t, 4, 0, 400, 1600)

	result, err := NewRDEAnalyzer().Analyze(context.Background(), m, DefaultParams())
	require.NoError(t, err)
	res := result.(*RDEResult)
	assert.Zero(t, res.ElectronsLevich)
	assert.Greater(t, res.LevichSlope, 0.0)
}

func TestRDEAnalyzer_Errors(t *testing.T) {
	a := NewRDEAnalyzer()

	t.Run("Single rate", func(t *testing.T) {
		_, err := a.Analyze(context.Background(), synthRDE(t, 4, 0, 1600), rdeParams)
		assert.ErrorIs(t, err, shared.ErrInsufficientData)
	})

	t.Run("No rotation channel", func(t *testing.T) {
		m := newMeasurement(t, meta(measurement.TechniqueRDE), channel(measurement.QuantityCurrent, []float64{1, 2}))
		_, err := a.Analyze(context.Background(), m, rdeParams)
		assert.ErrorIs(t, err, shared.ErrInsufficientData)
	})
}

func TestMergeRotationRates(t *testing.T) {
	sweep := func(rpm string) *measurement.Measurement {
		md := meta(measurement.TechniqueRDE)
		md.RotationRate = decimal.RequireFromString(rpm)
		return newMeasurement(t, md,
			channel(measurement.QuantityPotential, []float64{0.9, 0.5, 0.1}),
			channel(measurement.QuantityCurrent, []float64{0, -1e-3, -2e-3}),
		)
	}

	merged, err := MergeRotationRates([]*measurement.Measurement{sweep("400"), sweep("1600")})
	require.NoError(t, err)
	assert.Equal(t, 6, merged.Len())
	assert.Equal(t, measurement.TechniqueRDE, merged.Metadata.Technique)
	assert.Equal(t, []float64{400, 400, 400, 1600, 1600, 1600}, merged.Values(measurement.QuantityRotationRate))
	assert.True(t, merged.Has(measurement.QuantityPotential))

	_, err = MergeRotationRates([]*measurement.Measurement{sweep("0")})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = MergeRotationRates(nil)
	assert.ErrorIs(t, err, shared.ErrInsufficientData)
}
