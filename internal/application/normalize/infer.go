package normalize

import (
	"math"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
)

// resolveTechnique prefers the caller's choice, then the file's own
// technique, then what the channels suggest
func resolveTechnique(override, hint measurement.Technique, m *measurement.Measurement) measurement.Technique {
	if override.IsKnown() {
		return override
	}
	if hint.IsKnown() {
		return hint
	}
	return InferTechnique(m)
}

// InferTechnique guesses the technique from the channels present and the
// shape of the potential and current traces
func InferTechnique(m *measurement.Measurement) measurement.Technique {
	switch {
	case m.Has(measurement.QuantityFrequency):
		return measurement.TechniqueEIS
	case m.Has(measurement.QuantityRotationRate):
		return measurement.TechniqueRDE
	case m.Has(measurement.QuantityCharge, measurement.QuantityCycle):
		return measurement.TechniqueCycling
	}

	e := m.Values(measurement.QuantityPotential)
	i := m.Values(measurement.QuantityCurrent)
	if len(e) < 2 || len(i) < 2 {
		return measurement.TechniqueUnknown
	}

	switch {
	case isFlat(e):
		return measurement.TechniquePotentiostatic
	case isFlat(i):
		return measurement.TechniqueGalvanostatic
	case isPiecewiseFlat(i):
		return measurement.TechniqueCycling
	case reversals(e) >= 1:
		return measurement.TechniqueCyclicVoltammetry
	}
	return measurement.TechniqueUnknown
}

func span(values []float64) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		ok = true
	}
	return lo, hi, ok
}

// isFlat reports whether the values stay within 0.1 % of their magnitude
func isFlat(values []float64) bool {
	lo, hi, ok := span(values)
	if !ok {
		return false
	}
	scale := math.Max(math.Abs(lo), math.Abs(hi))
	return hi-lo <= 1e-3*scale
}

// isPiecewiseFlat reports whether at least 90 % of the steps keep the value
func isPiecewiseFlat(values []float64) bool {
	lo, hi, ok := span(values)
	if !ok {
		return false
	}
	tol := 1e-4 * math.Max(math.Abs(lo), math.Abs(hi))
	steady, steps := 0, 0
	for k := 1; k < len(values); k++ {
		d := values[k] - values[k-1]
		if math.IsNaN(d) {
			continue
		}
		steps++
		if math.Abs(d) <= tol {
			steady++
		}
	}
	return steps > 0 && float64(steady) >= 0.9*float64(steps)
}

// reversals counts direction changes of a sweep, ignoring steps below
// 0.1 % of the range
func reversals(values []float64) int {
	lo, hi, ok := span(values)
	if !ok {
		return 0
	}
	tol := 1e-3 * (hi - lo)
	count, dir := 0, 0
	for k := 1; k < len(values); k++ {
		d := values[k] - values[k-1]
		if math.IsNaN(d) || math.Abs(d) <= tol {
			continue
		}
		s := 1
		if d < 0 {
			s = -1
		}
		if dir != 0 && s != dir {
			count++
		}
		dir = s
	}
	return count
}
