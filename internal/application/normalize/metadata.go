package normalize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/units"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/reader"
)

// units metadata quantities are stored in
var (
	areaUnit        = units.MustParse("cm^2")
	massUnit        = units.MustParse("g")
	rotationUnit    = units.MustParse("rpm")
	temperatureUnit = units.MustParse("K")
)

var wellKnownHeaderKeys = map[string]bool{
	reader.HeaderSampleName:    true,
	reader.HeaderOperator:      true,
	reader.HeaderInstrument:    true,
	reader.HeaderElectrodeArea: true,
	reader.HeaderActiveMass:    true,
	reader.HeaderRotationRate:  true,
	reader.HeaderTemperature:   true,
}

// metadata merges the reader header with the caller's overrides
func (n *Normalizer) metadata(tbl *reader.RawTable, opts Options, warns *warnings) measurement.Metadata {
	h := tbl.Header
	meta := measurement.Metadata{
		SampleName: h[reader.HeaderSampleName],
		Operator:   h[reader.HeaderOperator],
		Instrument: h[reader.HeaderInstrument],
		StartTime:  tbl.StartTime,
		Extra:      make(map[string]string),
	}
	if ch, ok := lowerKeys(h)["run on channel"]; ok {
		if fields := strings.Fields(ch); len(fields) > 0 {
			meta.Channel = fields[0]
		}
	}

	meta.ElectrodeArea = headerQuantity(h, reader.HeaderElectrodeArea, areaUnit, warns)
	meta.ActiveMass = headerQuantity(h, reader.HeaderActiveMass, massUnit, warns)
	meta.RotationRate = headerQuantity(h, reader.HeaderRotationRate, rotationUnit, warns)
	meta.Temperature = headerQuantity(h, reader.HeaderTemperature, temperatureUnit, warns)

	for k, v := range h {
		if !wellKnownHeaderKeys[k] {
			meta.Extra[k] = v
		}
	}
	for k, v := range opts.Extra {
		meta.Extra[k] = v
	}
	if tbl.TechniqueName != "" {
		meta.Extra["technique_name"] = tbl.TechniqueName
	}

	if opts.SampleName != "" {
		meta.SampleName = opts.SampleName
	}
	if opts.Operator != "" {
		meta.Operator = opts.Operator
	}
	if !opts.StartTime.IsZero() {
		meta.StartTime = opts.StartTime.UTC()
	}
	if !opts.ElectrodeArea.IsZero() {
		meta.ElectrodeArea = opts.ElectrodeArea
	}
	if !opts.ActiveMass.IsZero() {
		meta.ActiveMass = opts.ActiveMass
	}
	if !opts.RotationRate.IsZero() {
		meta.RotationRate = opts.RotationRate
	}
	return meta
}

func headerQuantity(h map[string]string, key string, target units.Unit, warns *warnings) decimal.Decimal {
	raw, ok := h[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return decimal.Zero
	}
	v, err := ParseQuantity(raw, target)
	if err != nil {
		warns.add(key, WarnInvalidMetadata, "%v", err)
		return decimal.Zero
	}
	return v
}

// ParseQuantity parses a value such as "0.785 cm²" or "12,5 mg" and converts
// it to target. A bare number is taken to be in target already.
func ParseQuantity(s string, target units.Unit) (decimal.Decimal, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return decimal.Zero, fmt.Errorf("empty quantity")
	}
	number := strings.Replace(fields[0], ",", ".", 1)
	v, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number in %q", s)
	}

	from := target
	if len(fields) > 1 {
		u, err := units.Parse(strings.Join(fields[1:], " "))
		if err != nil {
			return decimal.Zero, err
		}
		from = u
	}
	converted, err := units.Convert(v, from, target)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(converted).Round(9), nil
}
