// Package normalize turns raw instrument tables into measurements with
// canonical channel names, SI units and consistent sign conventions.
package normalize

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/units"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/logger"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/reader"
)

// Normalization warning codes
const (
	WarnUnmappedColumn    = "NORM_UNMAPPED_COLUMN"
	WarnDuplicateQuantity = "NORM_DUPLICATE_QUANTITY"
	WarnUnknownUnit       = "NORM_UNKNOWN_UNIT"
	WarnUnitMismatch      = "NORM_UNIT_MISMATCH"
	WarnAssumedUnit       = "NORM_ASSUMED_UNIT"
	WarnInvalidMetadata   = "NORM_INVALID_METADATA"
	WarnDerivedChannel    = "NORM_DERIVED_CHANNEL"
)

// Options carries per-file overrides. Zero values keep what the file says.
type Options struct {
	Technique     measurement.Technique
	SampleName    string
	Operator      string
	StartTime     time.Time
	ElectrodeArea decimal.Decimal // cm²
	ActiveMass    decimal.Decimal // g
	RotationRate  decimal.Decimal // rpm
	Extra         map[string]string
	Tags          []string
	KeepUnmapped  bool
	Provenance    measurement.Provenance
}

// Normalizer converts raw tables into measurements. It is safe for
// concurrent use once created.
type Normalizer struct {
	aliases      map[string]Alias
	keepUnmapped bool
	computed     []computedChannel
}

// Option configures a Normalizer
type Option func(*Normalizer) error

// WithAliases adds or overrides column aliases ("column" -> "quantity")
func WithAliases(raw map[string]string) Option {
	return func(n *Normalizer) error {
		extra, err := ParseAliases(raw)
		if err != nil {
			return err
		}
		for k, v := range extra {
			n.aliases[k] = v
		}
		return nil
	}
}

// WithKeepUnmapped keeps columns without an alias as raw channels
func WithKeepUnmapped(keep bool) Option {
	return func(n *Normalizer) error {
		n.keepUnmapped = keep
		return nil
	}
}

// New creates a Normalizer with the built-in aliases
func New(opts ...Option) (*Normalizer, error) {
	n := &Normalizer{
		aliases: make(map[string]Alias, len(builtinAliases)),
	}
	for k, v := range builtinAliases {
		n.aliases[k] = v
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Resolve returns the alias for a raw column name
func (n *Normalizer) Resolve(column string) (Alias, bool) {
	a, ok := n.aliases[aliasKey(column)]
	return a, ok
}

type warnings []measurement.Warning

func (w *warnings) add(column, code, format string, args ...any) {
	*w = append(*w, measurement.Warning{Column: column, Code: code, Message: fmt.Sprintf(format, args...)})
}

// Normalize builds a measurement from a raw table
func (n *Normalizer) Normalize(ctx context.Context, tbl *reader.RawTable, opts Options) (*measurement.Measurement, error) {
	if tbl == nil || tbl.Len() == 0 {
		return nil, fmt.Errorf("%w: table has no rows", shared.ErrInsufficientData)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := logger.L(ctx).With(zap.String("reader", tbl.Reader))

	var warns warnings
	keepUnmapped := n.keepUnmapped || opts.KeepUnmapped

	channels := make([]measurement.Channel, 0, len(tbl.Columns))
	taken := make(map[measurement.Quantity]bool)
	var deferred []reader.RawColumn

	for _, col := range tbl.Columns {
		alias, ok := n.Resolve(col.Name)
		if !ok {
			if col.Timestamp {
				deferred = append(deferred, col)
				continue
			}
			if keepUnmapped {
				channels = append(channels, rawChannel(col))
			} else {
				warns.add(col.Name, WarnUnmappedColumn, "column %q has no canonical quantity and was dropped", col.Name)
			}
			continue
		}
		if taken[alias.Quantity] {
			warns.add(col.Name, WarnDuplicateQuantity, "%s already provided by an earlier column", alias.Quantity)
			if keepUnmapped {
				channels = append(channels, rawChannel(col))
			}
			continue
		}

		ch, ok := n.convert(col, alias, &warns)
		if !ok {
			if keepUnmapped {
				channels = append(channels, rawChannel(col))
			}
			continue
		}
		taken[alias.Quantity] = true
		channels = append(channels, ch)
	}

	for _, col := range deferred {
		if !taken[measurement.QuantityTime] {
			ch, _ := n.convert(col, Alias{Quantity: measurement.QuantityTime}, &warns)
			taken[measurement.QuantityTime] = true
			channels = append(channels, ch)
			continue
		}
		if keepUnmapped {
			channels = append(channels, rawChannel(col))
		}
	}

	meta := n.metadata(tbl, opts, &warns)

	prov := opts.Provenance
	if prov.Reader == "" {
		prov.Reader = tbl.Reader
	}
	for _, w := range tbl.Warnings {
		prov.Warnings = append(prov.Warnings, measurement.Warning{Row: w.Row, Column: w.Column, Code: w.Code, Message: w.Message})
	}

	m := measurement.NewMeasurement(meta, prov)
	for _, ch := range channels {
		if err := m.AddChannel(ch); err != nil {
			return nil, fmt.Errorf("failed to add channel %s: %w", ch.Quantity, err)
		}
	}
	deriveImpedance(m, &warns)
	addComputed(m, n.computed, &warns)

	m.Metadata.Technique = resolveTechnique(opts.Technique, tbl.Technique, m)
	m.Provenance.Warnings = append(m.Provenance.Warnings, warns...)
	for _, tag := range opts.Tags {
		m.AddTag(tag)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	log.Debug("table normalized",
		zap.String("technique", m.Metadata.Technique.String()),
		zap.Int("channels", len(m.Channels())),
		zap.Int("rows", m.Len()),
		zap.Int("warnings", len(m.Provenance.Warnings)),
	)
	return m, nil
}

// convert maps a column to its canonical unit. Missing units on dimensioned
// quantities are taken to be canonical already.
func (n *Normalizer) convert(col reader.RawColumn, alias Alias, warns *warnings) (measurement.Channel, bool) {
	target := alias.Quantity.CanonicalUnit()
	values := make([]float64, len(col.Values))
	copy(values, col.Values)

	from := target
	switch {
	case col.Unit == "" && target.Dimension != units.Dimensionless:
		warns.add(col.Name, WarnAssumedUnit, "no unit given, assuming %s", target.Symbol)
	case col.Unit != "":
		u, err := units.Parse(col.Unit)
		if err != nil {
			warns.add(col.Name, WarnUnknownUnit, "unknown unit %q", col.Unit)
			return measurement.Channel{}, false
		}
		if u.Dimension != target.Dimension {
			warns.add(col.Name, WarnUnitMismatch, "unit %q is %s, %s needs %s", col.Unit, u.Dimension, alias.Quantity, target.Dimension)
			return measurement.Channel{}, false
		}
		from = u
	}

	if err := units.ConvertSlice(values, from, target); err != nil {
		warns.add(col.Name, WarnUnitMismatch, "%v", err)
		return measurement.Channel{}, false
	}
	if alias.Negate {
		for i, v := range values {
			values[i] = -v
		}
	}

	return measurement.Channel{
		Quantity:   alias.Quantity,
		Unit:       target,
		Values:     values,
		SourceName: col.Name,
	}, true
}

// rawChannel keeps a column unconverted under a raw quantity name
func rawChannel(col reader.RawColumn) measurement.Channel {
	u, err := units.Parse(col.Unit)
	if err != nil {
		u = units.Unit{Symbol: col.Unit, Dimension: units.Dimensionless, Scale: 1}
	}
	values := make([]float64, len(col.Values))
	copy(values, col.Values)
	return measurement.Channel{
		Quantity:   measurement.RawQuantity(col.Name),
		Unit:       u,
		Values:     values,
		SourceName: col.Name,
	}
}

// deriveImpedance fills |Z| and phase from the real and imaginary parts when
// the file only carries the latter
func deriveImpedance(m *measurement.Measurement, warns *warnings) {
	if !m.Has(measurement.QuantityZReal, measurement.QuantityZImag) {
		return
	}
	re := m.Values(measurement.QuantityZReal)
	im := m.Values(measurement.QuantityZImag)

	if !m.Has(measurement.QuantityZMod) {
		mod := make([]float64, len(re))
		for i := range re {
			mod[i] = math.Hypot(re[i], im[i])
		}
		_ = m.AddChannel(measurement.Channel{
			Quantity: measurement.QuantityZMod, Unit: measurement.QuantityZMod.CanonicalUnit(), Values: mod,
		})
		warns.add(string(measurement.QuantityZMod), WarnDerivedChannel, "computed from z_real and z_imag")
	}
	if !m.Has(measurement.QuantityZPhase) {
		phase := make([]float64, len(re))
		for i := range re {
			phase[i] = math.Atan2(im[i], re[i]) * 180 / math.Pi
		}
		_ = m.AddChannel(measurement.Channel{
			Quantity: measurement.QuantityZPhase, Unit: measurement.QuantityZPhase.CanonicalUnit(), Values: phase,
		})
		warns.add(string(measurement.QuantityZPhase), WarnDerivedChannel, "computed from z_real and z_imag")
	}
}

// lowerKeys returns the header with lower-cased keys for lookups
func lowerKeys(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = v
	}
	return out
}
