package measurement

import (
	"fmt"
	"strings"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

// Technique identifies the electrochemical method a measurement was recorded with
type Technique string

const (
	TechniqueUnknown           Technique = "unknown"
	TechniqueGalvanostatic     Technique = "galvanostatic"
	TechniquePotentiostatic    Technique = "potentiostatic"
	TechniqueCyclicVoltammetry Technique = "cyclic_voltammetry"
	TechniqueEIS               Technique = "eis"
	TechniqueRDE               Technique = "rde"
	TechniqueCycling           Technique = "cycling"
)

// AllTechniques returns every known technique except TechniqueUnknown
func AllTechniques() []Technique {
	return []Technique{
		TechniqueGalvanostatic,
		TechniquePotentiostatic,
		TechniqueCyclicVoltammetry,
		TechniqueEIS,
		TechniqueRDE,
		TechniqueCycling,
	}
}

// IsValid checks if the technique is one of the known values
func (t Technique) IsValid() bool {
	if t == TechniqueUnknown {
		return true
	}
	for _, known := range AllTechniques() {
		if t == known {
			return true
		}
	}
	return false
}

// IsKnown returns true for every valid technique other than TechniqueUnknown
func (t Technique) IsKnown() bool {
	return t != TechniqueUnknown && t.IsValid()
}

// String returns the technique name
func (t Technique) String() string {
	return string(t)
}

// abbreviations used by instrument software and lab notebooks
var techniqueAliases = map[string]Technique{
	"galvanostatic":       TechniqueGalvanostatic,
	"cp":                  TechniqueGalvanostatic,
	"chronopotentiometry": TechniqueGalvanostatic,
	"chronop":             TechniqueGalvanostatic,
	"potentiostatic":      TechniquePotentiostatic,
	"ca":                  TechniquePotentiostatic,
	"chronoamperometry":   TechniquePotentiostatic,
	"chronoa":             TechniquePotentiostatic,
	"cyclic_voltammetry":  TechniqueCyclicVoltammetry,
	"cyclic voltammetry":  TechniqueCyclicVoltammetry,
	"cv":                  TechniqueCyclicVoltammetry,
	"eis":                 TechniqueEIS,
	"peis":                TechniqueEIS,
	"geis":                TechniqueEIS,
	"eispot":              TechniqueEIS,
	"eisgalv":             TechniqueEIS,
	"impedance":           TechniqueEIS,
	"rde":                 TechniqueRDE,
	"rotating disk":       TechniqueRDE,
	"cycling":             TechniqueCycling,
	"gcpl":                TechniqueCycling,
	"battery cycling":     TechniqueCycling,
	"unknown":             TechniqueUnknown,
	"":                    TechniqueUnknown,
}

// ParseTechnique resolves a technique name or a common abbreviation
func ParseTechnique(s string) (Technique, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if t, ok := techniqueAliases[key]; ok {
		return t, nil
	}
	return TechniqueUnknown, shared.NewDomainError("INVALID_TECHNIQUE", fmt.Sprintf("Unknown technique: %s", s))
}
