package normalize

import (
	"fmt"
	"strings"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

// Alias maps a raw column name to a canonical quantity
type Alias struct {
	Quantity measurement.Quantity
	// Negate flips the sign, e.g. for "-Im(Z)" columns
	Negate bool
}

// column names written by EC-Lab, Gamry Framework and common spreadsheets,
// lower-cased and without unit
var builtinAliases = map[string]Alias{
	"time":               {Quantity: measurement.QuantityTime},
	"t":                  {Quantity: measurement.QuantityTime},
	"elapsed time":       {Quantity: measurement.QuantityTime},
	"test time":          {Quantity: measurement.QuantityTime},
	"ewe":                {Quantity: measurement.QuantityPotential},
	"<ewe>":              {Quantity: measurement.QuantityPotential},
	"e":                  {Quantity: measurement.QuantityPotential},
	"ecell":              {Quantity: measurement.QuantityPotential},
	"potential":          {Quantity: measurement.QuantityPotential},
	"voltage":            {Quantity: measurement.QuantityPotential},
	"vf":                 {Quantity: measurement.QuantityPotential},
	"u":                  {Quantity: measurement.QuantityPotential},
	"i":                  {Quantity: measurement.QuantityCurrent},
	"<i>":                {Quantity: measurement.QuantityCurrent},
	"im":                 {Quantity: measurement.QuantityCurrent},
	"current":            {Quantity: measurement.QuantityCurrent},
	"q charge/discharge": {Quantity: measurement.QuantityCharge},
	"(q-qo)":             {Quantity: measurement.QuantityCharge},
	"q":                  {Quantity: measurement.QuantityCharge},
	"charge":             {Quantity: measurement.QuantityCharge},
	"capacity":           {Quantity: measurement.QuantityCharge},
	"freq":               {Quantity: measurement.QuantityFrequency},
	"frequency":          {Quantity: measurement.QuantityFrequency},
	"re(z)":              {Quantity: measurement.QuantityZReal},
	"zreal":              {Quantity: measurement.QuantityZReal},
	"z'":                 {Quantity: measurement.QuantityZReal},
	"z_re":               {Quantity: measurement.QuantityZReal},
	"im(z)":              {Quantity: measurement.QuantityZImag},
	"zimag":              {Quantity: measurement.QuantityZImag},
	"z_im":               {Quantity: measurement.QuantityZImag},
	"-im(z)":             {Quantity: measurement.QuantityZImag, Negate: true},
	"-z''":               {Quantity: measurement.QuantityZImag, Negate: true},
	"|z|":                {Quantity: measurement.QuantityZMod},
	"zmod":               {Quantity: measurement.QuantityZMod},
	"phase(z)":           {Quantity: measurement.QuantityZPhase},
	"zphz":               {Quantity: measurement.QuantityZPhase},
	"phase":              {Quantity: measurement.QuantityZPhase},
	"cycle number":       {Quantity: measurement.QuantityCycle},
	"cycle":              {Quantity: measurement.QuantityCycle},
	"cycle index":        {Quantity: measurement.QuantityCycle},
	"half cycle":         {Quantity: measurement.QuantityHalfCycle},
	"half_cycle":         {Quantity: measurement.QuantityHalfCycle},
	"rotation rate":      {Quantity: measurement.QuantityRotationRate},
	"rotation_rate":      {Quantity: measurement.QuantityRotationRate},
	"rpm":                {Quantity: measurement.QuantityRotationRate},
	"temperature":        {Quantity: measurement.QuantityTemperature},
	"temp":               {Quantity: measurement.QuantityTemperature},
	"p":                  {Quantity: measurement.QuantityPower},
	"power":              {Quantity: measurement.QuantityPower},
	"energy":             {Quantity: measurement.QuantityEnergy},
	"ns":                 {Quantity: measurement.QuantityStep},
	"step":               {Quantity: measurement.QuantityStep},
	"step index":         {Quantity: measurement.QuantityStep},
	"control":            {Quantity: measurement.QuantityControl},
}

func aliasKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ParseAliases converts configured aliases ("column" -> "quantity") into
// Alias values. A leading "-" on the quantity negates the column.
func ParseAliases(raw map[string]string) (map[string]Alias, error) {
	out := make(map[string]Alias, len(raw))
	for column, target := range raw {
		target = strings.TrimSpace(target)
		negate := strings.HasPrefix(target, "-")
		q := measurement.Quantity(strings.TrimPrefix(target, "-"))
		if !q.IsKnown() {
			return nil, fmt.Errorf("%w: alias %q maps to unknown quantity %q", shared.ErrInvalidInput, column, target)
		}
		out[aliasKey(column)] = Alias{Quantity: q, Negate: negate}
	}
	return out, nil
}
