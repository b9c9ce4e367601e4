// Package constants holds the CODATA 2022 recommended values of the physical
// constants used by the analyzers. Values are stored as exact decimals so the
// table can be printed without floating point noise.
package constants

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
)

// Keys of the CODATA 2022 table
const (
	FaradayConstant    = "FARADAY_CONSTANT"
	MolarGasConstant   = "MOLAR_GAS_CONSTANT"
	AvogadroConstant   = "AVOGADRO_CONSTANT"
	ElementaryCharge   = "ELEMENTARY_CHARGE"
	BoltzmannConstant  = "BOLTZMANN_CONSTANT"
	StandardAtmosphere = "STANDARD_ATMOSPHERE"
	ZeroCelsius        = "ZERO_CELSIUS"
)

// Constant is a named physical constant with its magnitude and unit
type Constant struct {
	Key    string          `json:"key"`
	Name   string          `json:"name"`
	Symbol string          `json:"symbol"`
	Value  decimal.Decimal `json:"value"`
	Unit   string          `json:"unit"`
}

// Float64 returns the magnitude as float64
func (c Constant) Float64() float64 {
	f, _ := c.Value.Float64()
	return f
}

// FormatValue renders the magnitude the way the reference table prints it:
// shortest representation, scientific notation for very large or small values.
func (c Constant) FormatValue() string {
	return strconv.FormatFloat(c.Float64(), 'g', -1, 64)
}

// String returns "value unit"
func (c Constant) String() string {
	return c.FormatValue() + " " + c.Unit
}

var codata2022 = map[string]Constant{
	FaradayConstant: {
		Key: FaradayConstant, Name: "Faraday constant", Symbol: "F",
		Value: decimal.RequireFromString("96485.33212"), Unit: "C mol^-1",
	},
	MolarGasConstant: {
		Key: MolarGasConstant, Name: "molar gas constant", Symbol: "R",
		Value: decimal.RequireFromString("8.314462618"), Unit: "J mol^-1 K^-1",
	},
	AvogadroConstant: {
		Key: AvogadroConstant, Name: "Avogadro constant", Symbol: "N_A",
		Value: decimal.RequireFromString("6.02214076e23"), Unit: "mol^-1",
	},
	ElementaryCharge: {
		Key: ElementaryCharge, Name: "elementary charge", Symbol: "e",
		Value: decimal.RequireFromString("1.602176634e-19"), Unit: "C",
	},
	BoltzmannConstant: {
		Key: BoltzmannConstant, Name: "Boltzmann constant", Symbol: "k",
		Value: decimal.RequireFromString("1.380649e-23"), Unit: "J K^-1",
	},
	StandardAtmosphere: {
		Key: StandardAtmosphere, Name: "standard atmosphere", Symbol: "atm",
		Value: decimal.RequireFromString("101325"), Unit: "Pa",
	},
	ZeroCelsius: {
		Key: ZeroCelsius, Name: "zero degree Celsius", Symbol: "T_0",
		Value: decimal.RequireFromString("273.15"), Unit: "K",
	},
}

// Get looks up a constant by key
func Get(key string) (Constant, bool) {
	c, ok := codata2022[key]
	return c, ok
}

// MustGet looks up a constant by key and panics if it does not exist.
// Use only with the exported key constants.
func MustGet(key string) Constant {
	c, ok := Get(key)
	if !ok {
		panic(fmt.Sprintf("constants: unknown key %q", key))
	}
	return c
}

// All returns every constant sorted by key
func All() []Constant {
	out := make([]Constant, 0, len(codata2022))
	for _, c := range codata2022 {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Faraday returns F in C/mol
func Faraday() float64 { return MustGet(FaradayConstant).Float64() }

// GasConstant returns R in J/(mol K)
func GasConstant() float64 { return MustGet(MolarGasConstant).Float64() }

// ThermalVoltage returns RT/F in volts for a temperature in kelvin
func ThermalVoltage(kelvin float64) float64 {
	return GasConstant() * kelvin / Faraday()
}
