package analysis

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
)

func channel(q measurement.Quantity, values []float64) measurement.Channel {
	return measurement.Channel{Quantity: q, Unit: q.CanonicalUnit(), Values: values}
}

func newMeasurement(t *testing.T, meta measurement.Metadata, channels ...measurement.Channel) *measurement.Measurement {
	t.Helper()
	m := measurement.NewMeasurement(meta, measurement.Provenance{SourceURI: "file:///data/test.txt", Reader: "delimited"})
	for _, ch := range channels {
		require.NoError(t, m.AddChannel(ch))
	}
	return m
}

func meta(tech measurement.Technique) measurement.Metadata {
	return measurement.Metadata{SampleName: "S1", Technique: tech, ElectrodeArea: decimal.Zero}
}
