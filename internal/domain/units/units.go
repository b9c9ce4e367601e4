// Package units parses the unit strings found in instrument exports and
// converts magnitudes to the canonical unit of their dimension.
package units

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/constants"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

// Dimension is the physical dimension a unit measures
type Dimension string

const (
	Dimensionless Dimension = "dimensionless"
	Time          Dimension = "time"
	Potential     Dimension = "potential"
	Current       Dimension = "current"
	Charge        Dimension = "charge"
	Frequency     Dimension = "frequency"
	Resistance    Dimension = "resistance"
	Angle         Dimension = "angle"
	Temperature   Dimension = "temperature"
	Power         Dimension = "power"
	Energy        Dimension = "energy"
	Mass          Dimension = "mass"
	Area          Dimension = "area"
	RotationRate  Dimension = "rotation_rate"
	Capacitance   Dimension = "capacitance"
)

// ErrUnknownUnit is returned when a unit string cannot be recognised
var ErrUnknownUnit = errors.New("unknown unit")

// Unit is an immutable unit of measurement.
// A magnitude v in this unit equals v*Scale + Offset in the canonical unit.
type Unit struct {
	Symbol    string    `json:"symbol"`
	Dimension Dimension `json:"dimension"`
	Scale     float64   `json:"scale"`
	Offset    float64   `json:"offset,omitempty"`
}

// IsCanonical reports whether the unit is the canonical unit of its dimension
func (u Unit) IsCanonical() bool {
	return u.Scale == 1 && u.Offset == 0
}

// String returns the unit symbol
func (u Unit) String() string {
	return u.Symbol
}

// ToCanonical converts v from u to the canonical unit
func (u Unit) ToCanonical(v float64) float64 {
	return v*u.Scale + u.Offset
}

// FromCanonical converts v from the canonical unit to u
func (u Unit) FromCanonical(v float64) float64 {
	return (v - u.Offset) / u.Scale
}

var canonical = map[Dimension]Unit{
	Dimensionless: {Symbol: "", Dimension: Dimensionless, Scale: 1},
	Time:          {Symbol: "s", Dimension: Time, Scale: 1},
	Potential:     {Symbol: "V", Dimension: Potential, Scale: 1},
	Current:       {Symbol: "A", Dimension: Current, Scale: 1},
	Charge:        {Symbol: "C", Dimension: Charge, Scale: 1},
	Frequency:     {Symbol: "Hz", Dimension: Frequency, Scale: 1},
	Resistance:    {Symbol: "Ohm", Dimension: Resistance, Scale: 1},
	Angle:         {Symbol: "deg", Dimension: Angle, Scale: 1},
	Temperature:   {Symbol: "K", Dimension: Temperature, Scale: 1},
	Power:         {Symbol: "W", Dimension: Power, Scale: 1},
	Energy:        {Symbol: "J", Dimension: Energy, Scale: 1},
	Mass:          {Symbol: "kg", Dimension: Mass, Scale: 1},
	Area:          {Symbol: "m^2", Dimension: Area, Scale: 1},
	RotationRate:  {Symbol: "rpm", Dimension: RotationRate, Scale: 1},
	Capacitance:   {Symbol: "F", Dimension: Capacitance, Scale: 1},
}

// Canonical returns the canonical unit for a dimension
func Canonical(d Dimension) Unit {
	if u, ok := canonical[d]; ok {
		return u
	}
	return canonical[Dimensionless]
}

// base units that accept an SI prefix
var prefixable = map[string]Unit{
	"s":   {Dimension: Time, Scale: 1},
	"V":   {Dimension: Potential, Scale: 1},
	"A":   {Dimension: Current, Scale: 1},
	"C":   {Dimension: Charge, Scale: 1},
	"Ah":  {Dimension: Charge, Scale: 3600},
	"A.h": {Dimension: Charge, Scale: 3600},
	"Hz":  {Dimension: Frequency, Scale: 1},
	"Ohm": {Dimension: Resistance, Scale: 1},
	"W":   {Dimension: Power, Scale: 1},
	"J":   {Dimension: Energy, Scale: 1},
	"Wh":  {Dimension: Energy, Scale: 3600},
	"W.h": {Dimension: Energy, Scale: 3600},
	"g":   {Dimension: Mass, Scale: 1e-3},
	"F":   {Dimension: Capacitance, Scale: 1},
}

// units that never take a prefix; checked before prefix splitting
var fixed = map[string]Unit{
	"":      {Dimension: Dimensionless, Scale: 1},
	"%":     {Dimension: Dimensionless, Scale: 0.01},
	"min":   {Dimension: Time, Scale: 60},
	"h":     {Dimension: Time, Scale: 3600},
	"d":     {Dimension: Time, Scale: 86400},
	"deg":   {Dimension: Angle, Scale: 1},
	"°":     {Dimension: Angle, Scale: 1},
	"rad":   {Dimension: Angle, Scale: 180 / math.Pi},
	"K":     {Dimension: Temperature, Scale: 1},
	"°C":    {Dimension: Temperature, Scale: 1, Offset: constants.MustGet(constants.ZeroCelsius).Float64()},
	"degC":  {Dimension: Temperature, Scale: 1, Offset: constants.MustGet(constants.ZeroCelsius).Float64()},
	"m^2":   {Dimension: Area, Scale: 1},
	"m2":    {Dimension: Area, Scale: 1},
	"cm^2":  {Dimension: Area, Scale: 1e-4},
	"cm2":   {Dimension: Area, Scale: 1e-4},
	"mm^2":  {Dimension: Area, Scale: 1e-6},
	"mm2":   {Dimension: Area, Scale: 1e-6},
	"rpm":   {Dimension: RotationRate, Scale: 1},
	"rad/s": {Dimension: RotationRate, Scale: 60 / (2 * math.Pi)},
	"kg":    {Dimension: Mass, Scale: 1},
}

var prefixes = map[string]float64{
	"p": 1e-12,
	"n": 1e-9,
	"u": 1e-6,
	"m": 1e-3,
	"k": 1e3,
	"M": 1e6,
}

// normalizeSymbol folds the spellings instrument vendors use for the same unit
func normalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "()[]")
	s = strings.TrimSpace(s)
	r := strings.NewReplacer(
		"Ω", "Ohm",
		"ohm", "Ohm",
		"OHM", "Ohm",
		"µ", "u",
		"μ", "u",
		"²", "^2",
		"·", ".",
		"sec", "s",
		"℃", "°C",
	)
	return r.Replace(s)
}

// Parse parses a unit symbol such as "mA", "kOhm", "mA.h" or "°C"
func Parse(symbol string) (Unit, error) {
	s := normalizeSymbol(symbol)

	if u, ok := fixed[s]; ok {
		u.Symbol = s
		return u, nil
	}
	if u, ok := prefixable[s]; ok {
		u.Symbol = s
		return u, nil
	}
	for p, scale := range prefixes {
		if !strings.HasPrefix(s, p) {
			continue
		}
		if u, ok := prefixable[strings.TrimPrefix(s, p)]; ok {
			u.Symbol = s
			u.Scale *= scale
			return u, nil
		}
	}
	return Unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, symbol)
}

// MustParse parses a unit symbol and panics on error.
// Use only with literal symbols.
func MustParse(symbol string) Unit {
	u, err := Parse(symbol)
	if err != nil {
		panic(err)
	}
	return u
}

// Convert converts v from one unit to another of the same dimension
func Convert(v float64, from, to Unit) (float64, error) {
	if from.Dimension != to.Dimension {
		return 0, fmt.Errorf("%w: %s (%s) to %s (%s)",
			shared.ErrIncompatibleUnits, from.Symbol, from.Dimension, to.Symbol, to.Dimension)
	}
	return to.FromCanonical(from.ToCanonical(v)), nil
}

// ConvertSlice converts every value in place from one unit to another
func ConvertSlice(values []float64, from, to Unit) error {
	if from.Dimension != to.Dimension {
		return fmt.Errorf("%w: %s (%s) to %s (%s)",
			shared.ErrIncompatibleUnits, from.Symbol, from.Dimension, to.Symbol, to.Dimension)
	}
	if from.Scale == to.Scale && from.Offset == to.Offset {
		return nil
	}
	for i, v := range values {
		values[i] = to.FromCanonical(from.ToCanonical(v))
	}
	return nil
}
