package measurement

import (
	"sort"
	"strings"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/units"
)

// Quantity is the canonical name of a measured channel
type Quantity string

const (
	QuantityTime         Quantity = "time"
	QuantityPotential    Quantity = "potential"
	QuantityCurrent      Quantity = "current"
	QuantityCharge       Quantity = "charge"
	QuantityFrequency    Quantity = "frequency"
	QuantityZReal        Quantity = "z_real"
	QuantityZImag        Quantity = "z_imag"
	QuantityZMod         Quantity = "z_mod"
	QuantityZPhase       Quantity = "z_phase"
	QuantityCycle        Quantity = "cycle"
	QuantityHalfCycle    Quantity = "half_cycle"
	QuantityRotationRate Quantity = "rotation_rate"
	QuantityTemperature  Quantity = "temperature"
	QuantityPower        Quantity = "power"
	QuantityEnergy       Quantity = "energy"
	QuantityStep         Quantity = "step"
	QuantityControl      Quantity = "control"
)

const rawPrefix = "raw:"

var quantityDimensions = map[Quantity]units.Dimension{
	QuantityTime:         units.Time,
	QuantityPotential:    units.Potential,
	QuantityCurrent:      units.Current,
	QuantityCharge:       units.Charge,
	QuantityFrequency:    units.Frequency,
	QuantityZReal:        units.Resistance,
	QuantityZImag:        units.Resistance,
	QuantityZMod:         units.Resistance,
	QuantityZPhase:       units.Angle,
	QuantityCycle:        units.Dimensionless,
	QuantityHalfCycle:    units.Dimensionless,
	QuantityRotationRate: units.RotationRate,
	QuantityTemperature:  units.Temperature,
	QuantityPower:        units.Power,
	QuantityEnergy:       units.Energy,
	QuantityStep:         units.Dimensionless,
	QuantityControl:      units.Dimensionless,
}

// KnownQuantities lists the canonical quantities in name order
func KnownQuantities() []Quantity {
	out := make([]Quantity, 0, len(quantityDimensions))
	for q := range quantityDimensions {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RawQuantity names a column that has no canonical meaning
func RawQuantity(column string) Quantity {
	return Quantity(rawPrefix + column)
}

// IsRaw reports whether the quantity was kept from an unmapped column
func (q Quantity) IsRaw() bool {
	return strings.HasPrefix(string(q), rawPrefix)
}

// IsKnown reports whether q is one of the canonical quantities
func (q Quantity) IsKnown() bool {
	_, ok := quantityDimensions[q]
	return ok
}

// Dimension returns the physical dimension of the quantity.
// Raw quantities are dimensionless.
func (q Quantity) Dimension() units.Dimension {
	if d, ok := quantityDimensions[q]; ok {
		return d
	}
	return units.Dimensionless
}

// CanonicalUnit returns the unit every normalized channel of this quantity uses
func (q Quantity) CanonicalUnit() units.Unit {
	return units.Canonical(q.Dimension())
}

// String returns the quantity name
func (q Quantity) String() string {
	return string(q)
}
