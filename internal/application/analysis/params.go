package analysis

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
)

// Equivalent circuit models for impedance fitting
const (
	ModelRandles    = "randles"
	ModelRandlesCPE = "randles_cpe"
)

// standardTemperature in K, used when neither the file nor the
// configuration names one
const standardTemperature = 298.15

// Params tunes the analyzers. Zero values fall back to defaults.
type Params struct {
	// EISModel selects the equivalent circuit, randles or randles_cpe
	EISModel string `mapstructure:"eis_model" validate:"omitempty,oneof=randles randles_cpe"`
	// MaxIterations bounds the impedance fit
	MaxIterations int `mapstructure:"max_iterations" validate:"gte=0"`

	// Diffusivity of the analyte in cm²/s
	Diffusivity float64 `mapstructure:"diffusivity" validate:"gte=0"`
	// KinematicViscosity of the electrolyte in cm²/s
	KinematicViscosity float64 `mapstructure:"kinematic_viscosity" validate:"gte=0"`
	// Concentration of the analyte in mol/L
	Concentration float64 `mapstructure:"concentration" validate:"gte=0"`
	// LimitingPotential in V where the limiting current is read.
	// Nil picks the current plateau automatically.
	LimitingPotential *float64 `mapstructure:"limiting_potential"`
	// Temperature in K for measurements whose header carries none
	Temperature float64 `mapstructure:"temperature" validate:"gte=0"`
}

// DefaultParams returns the defaults used when a field is left empty
func DefaultParams() Params {
	return Params{
		EISModel:      ModelRandles,
		MaxIterations: 2000,
		Temperature:   standardTemperature,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.EISModel == "" {
		p.EISModel = d.EISModel
	}
	if p.MaxIterations <= 0 {
		p.MaxIterations = d.MaxIterations
	}
	if p.Temperature <= 0 {
		p.Temperature = d.Temperature
	}
	if p.LimitingPotential != nil && math.IsNaN(*p.LimitingPotential) {
		p.LimitingPotential = nil
	}
	return p
}

// Validate checks the parameters
func (p Params) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		return fmt.Errorf("invalid analysis parameters: %w", err)
	}
	if p.LimitingPotential != nil && !finite(*p.LimitingPotential) {
		return fmt.Errorf("invalid analysis parameters: limiting potential must be finite, got %v", *p.LimitingPotential)
	}
	return nil
}

// temperature returns the measurement temperature in K, falling back to
// the configured one
func (p Params) temperature(m *measurement.Measurement) float64 {
	if t := m.Metadata.Temperature.InexactFloat64(); t > 0 {
		return t
	}
	if p.Temperature > 0 {
		return p.Temperature
	}
	return standardTemperature
}

// hasTransportProperties reports whether Levich electron numbers can be computed
func (p Params) hasTransportProperties() bool {
	return p.Diffusivity > 0 && p.KinematicViscosity > 0 && p.Concentration > 0
}
