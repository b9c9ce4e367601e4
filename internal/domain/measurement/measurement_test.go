package measurement

import (
	"errors"
	"testing"
	"time"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMeasurement(t *testing.T) *Measurement {
	t.Helper()
	m := NewMeasurement(
		Metadata{SampleName: "cell-01", Technique: TechniqueCycling},
		Provenance{SourceURI: "cell-01.mpt", Reader: "biologic"},
	)
	require.NoError(t, m.AddChannel(Channel{Quantity: QuantityTime, Unit: units.Canonical(units.Time), Values: []float64{0, 1, 2, 3, 4}}))
	require.NoError(t, m.AddChannel(Channel{Quantity: QuantityCurrent, Unit: units.Canonical(units.Current), Values: []float64{1, 1, -1, -1, 1}}))
	require.NoError(t, m.AddChannel(Channel{Quantity: QuantityCycle, Unit: units.Canonical(units.Dimensionless), Values: []float64{1, 1, 1, 2, 2}}))
	return m
}

func TestNewMeasurement(t *testing.T) {
	m := NewMeasurement(Metadata{}, Provenance{SourceURI: "x.csv", Reader: "delimited"})

	assert.NotEqual(t, [16]byte{}, [16]byte(m.ID))
	assert.Equal(t, TechniqueUnknown, m.Metadata.Technique)
	assert.False(t, m.Provenance.ImportedAt.IsZero())
	assert.Equal(t, 0, m.Len())
}

func TestAddChannel(t *testing.T) {
	t.Run("length mismatch is rejected", func(t *testing.T) {
		m := newTestMeasurement(t)
		err := m.AddChannel(Channel{Quantity: QuantityPotential, Values: []float64{1, 2}})

		require.Error(t, err)
		assert.Equal(t, "CHANNEL_LENGTH_MISMATCH", shared.GetErrorCode(err))
	})

	t.Run("duplicate quantity is rejected", func(t *testing.T) {
		m := newTestMeasurement(t)
		err := m.AddChannel(Channel{Quantity: QuantityTime, Values: make([]float64, 5)})

		assert.Equal(t, "DUPLICATE_CHANNEL", shared.GetErrorCode(err))
	})

	t.Run("empty quantity is rejected", func(t *testing.T) {
		m := newTestMeasurement(t)
		assert.Error(t, m.AddChannel(Channel{Values: make([]float64, 5)}))
	})

	t.Run("order is stable", func(t *testing.T) {
		m := newTestMeasurement(t)
		assert.Equal(t, []Quantity{QuantityTime, QuantityCurrent, QuantityCycle}, m.Quantities())
	})
}

func TestReplaceChannel(t *testing.T) {
	m := newTestMeasurement(t)

	require.NoError(t, m.ReplaceChannel(Channel{Quantity: QuantityCurrent, Values: []float64{2, 2, 2, 2, 2}}))
	assert.Equal(t, []float64{2, 2, 2, 2, 2}, m.Values(QuantityCurrent))
	assert.Equal(t, []Quantity{QuantityTime, QuantityCurrent, QuantityCycle}, m.Quantities())

	err := m.ReplaceChannel(Channel{Quantity: QuantityCurrent, Values: []float64{1}})
	assert.Error(t, err)
}

func TestSplitBy(t *testing.T) {
	m := newTestMeasurement(t)

	keys, groups := m.SplitBy(QuantityCycle)

	require.Equal(t, []int{1, 2}, keys)
	assert.Equal(t, 3, groups[1].Len())
	assert.Equal(t, []float64{3, 4}, groups[2].Values(QuantityTime))
	assert.NotEqual(t, m.ID, groups[1].ID)

	keys, groups = m.SplitBy(QuantityFrequency)
	assert.Nil(t, keys)
	assert.Nil(t, groups)
}

func TestAbsoluteTime(t *testing.T) {
	m := newTestMeasurement(t)

	_, ok := m.AbsoluteTime(1)
	assert.False(t, ok, "no start time set")

	start := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	m.Metadata.StartTime = start

	ts, ok := m.AbsoluteTime(3)
	require.True(t, ok)
	assert.Equal(t, start.Add(3*time.Second), ts)

	_, ok = m.AbsoluteTime(10)
	assert.False(t, ok)

	assert.Equal(t, 4*time.Second, m.Duration())
}

func TestTags(t *testing.T) {
	m := newTestMeasurement(t)
	m.AddTag("LFP")
	m.AddTag("baseline")
	m.AddTag("lfp")
	m.AddTag("  ")

	assert.Equal(t, []string{"baseline", "lfp"}, m.Tags)
	assert.True(t, m.HasTag("LFP"))
	assert.False(t, m.HasTag("nmc"))
}

func TestSummary(t *testing.T) {
	m := newTestMeasurement(t)
	m.AddTag("aging")

	s := m.Summary()

	assert.Equal(t, m.ID, s.ID)
	assert.Equal(t, 5, s.Points)
	assert.Len(t, s.Channels, 3)
	assert.Equal(t, "A", s.Channels[1].Unit)
	assert.Equal(t, []string{"aging"}, s.Tags)
}

func TestParseTechnique(t *testing.T) {
	tests := []struct {
		in   string
		want Technique
	}{
		{"PEIS", TechniqueEIS},
		{"gcpl", TechniqueCycling},
		{" CV ", TechniqueCyclicVoltammetry},
		{"chronoamperometry", TechniquePotentiostatic},
		{"CP", TechniqueGalvanostatic},
		{"rde", TechniqueRDE},
		{"", TechniqueUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTechnique(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.IsValid())
		})
	}

	_, err := ParseTechnique("tea brewing")
	var de *shared.DomainError
	assert.True(t, errors.As(err, &de))
	assert.Equal(t, "INVALID_TECHNIQUE", de.Code)
	assert.False(t, Technique("tea").IsValid())
	assert.False(t, TechniqueUnknown.IsKnown())
}

func TestQuantity(t *testing.T) {
	assert.Equal(t, units.Resistance, QuantityZImag.Dimension())
	assert.Equal(t, "Ohm", QuantityZReal.CanonicalUnit().Symbol)
	raw := RawQuantity("Ns")
	assert.True(t, raw.IsRaw())
	assert.False(t, raw.IsKnown())
	assert.Equal(t, units.Dimensionless, raw.Dimension())
}

func TestChannelRange(t *testing.T) {
	c := Channel{Values: []float64{3, -1, 7}}
	lo, hi, ok := c.Range()
	require.True(t, ok)
	assert.Equal(t, -1.0, lo)
	assert.Equal(t, 7.0, hi)

	empty := Channel{}
	_, _, ok = empty.Range()
	assert.False(t, ok)

	clone := c.Clone()
	clone.Values[0] = 100
	assert.Equal(t, 3.0, c.Values[0])
}
