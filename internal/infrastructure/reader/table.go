package reader

import (
	"fmt"
	"math"
	"time"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
)

// Well-known header keys filled by every reader in addition to the raw
// instrument keys. Values keep their unit text, e.g. "0.785 cm²".
const (
	HeaderSampleName    = "sample_name"
	HeaderOperator      = "operator"
	HeaderInstrument    = "instrument"
	HeaderElectrodeArea = "electrode_area"
	HeaderActiveMass    = "active_mass"
	HeaderRotationRate  = "rotation_rate"
	HeaderTemperature   = "temperature"
)

// RawColumn is one numeric column as it appeared in the source file
type RawColumn struct {
	Name   string    `json:"name"`
	Unit   string    `json:"unit"`
	Values []float64 `json:"-"`
	// Timestamp marks a column converted from absolute times to seconds since StartTime
	Timestamp bool `json:"timestamp,omitempty"`
}

// RawTable is the record every reader produces before normalization
type RawTable struct {
	Reader        string                `json:"reader"`
	Encoding      string                `json:"encoding"`
	TechniqueName string                `json:"technique_name,omitempty"`
	Technique     measurement.Technique `json:"technique"`
	Header        map[string]string     `json:"header"`
	StartTime     time.Time             `json:"start_time,omitempty"`
	Columns       []RawColumn           `json:"columns"`
	Warnings      []RowError            `json:"warnings,omitempty"`
	WarningCount  int                   `json:"warning_count"`
	Rows          int                   `json:"rows"`
}

func newRawTable(reader, encoding string) *RawTable {
	return &RawTable{
		Reader:    reader,
		Encoding:  encoding,
		Technique: measurement.TechniqueUnknown,
		Header:    make(map[string]string),
	}
}

// Column returns the column with the given name
func (t *RawTable) Column(name string) (*RawColumn, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// ColumnNames returns the column names in file order
func (t *RawTable) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Len returns the number of data rows
func (t *RawTable) Len() int {
	return t.Rows
}

// setTechnique records the technique as written and its resolved value
func (t *RawTable) setTechnique(name string, tech measurement.Technique) {
	t.TechniqueName = name
	t.Technique = tech
}

func (t *RawTable) attachErrors(errs *warningSink) {
	t.Warnings = append(t.Warnings, errs.kept...)
	t.WarningCount = errs.total
}

type columnKind int

const (
	kindNumeric columnKind = iota
	kindTimestamp
	kindText
)

// tableBuilder buffers string cells and turns them into typed columns once
// the whole table is known
type tableBuilder struct {
	names []string
	units []string
	cells [][]string
	lines []int
	sep   rune
	errs  *warningSink
}

func newTableBuilder(labels []string, sep rune, errs *warningSink) *tableBuilder {
	b := &tableBuilder{
		names: make([]string, len(labels)),
		units: make([]string, len(labels)),
		cells: make([][]string, len(labels)),
		sep:   sep,
		errs:  errs,
	}
	seen := make(map[string]int)
	for i, label := range labels {
		name, unit := splitNameUnit(label)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[name]; n > 0 {
			name = fmt.Sprintf("%s_%d", name, n+1)
		}
		seen[name]++
		b.names[i] = name
		b.units[i] = unit
	}
	return b
}

// setUnits overrides the units parsed from the labels, for formats with a unit row
func (b *tableBuilder) setUnits(unitRow []string) {
	for i := range b.units {
		if i < len(unitRow) {
			b.units[i] = unitRow[i]
		}
	}
}

func (b *tableBuilder) addRow(line int, fields []string) {
	if isBlank(fields) {
		return
	}
	for len(fields) > len(b.names) && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	if len(fields) != len(b.names) {
		b.errs.shortRow(line, len(fields), len(b.names))
	}
	for i := range b.names {
		cell := ""
		if i < len(fields) {
			cell = fields[i]
		}
		b.cells[i] = append(b.cells[i], cell)
	}
	b.lines = append(b.lines, line)
}

func (b *tableBuilder) rowCount() int {
	return len(b.lines)
}

// classify decides from the first non-empty cells whether a column holds
// numbers, absolute timestamps or free text
func (b *tableBuilder) classify(col int) columnKind {
	const probe = 20
	numeric, stamps, text := 0, 0, 0
	for _, cell := range b.cells[col] {
		if cell == "" {
			continue
		}
		if _, ok := parseNumber(cell, b.sep); ok {
			numeric++
		} else if _, ok := parseTimestamp(cell); ok {
			stamps++
		} else {
			text++
		}
		if numeric+stamps+text >= probe {
			break
		}
	}
	switch {
	case stamps > 0 && stamps >= numeric && stamps >= text:
		return kindTimestamp
	case numeric == 0 && text > 0:
		return kindText
	default:
		return kindNumeric
	}
}

// build converts the buffered cells into the table's columns. Rows holding
// a non-numeric cell in a numeric column are reported and skipped.
func (b *tableBuilder) build(t *RawTable) error {
	if len(b.names) == 0 {
		return ErrMissingHeader
	}
	if b.rowCount() == 0 {
		return ErrNoDataRows
	}

	kinds := make([]columnKind, len(b.names))
	for i := range b.names {
		kinds[i] = b.classify(i)
		if kinds[i] == kindText {
			line := 0
			if len(b.lines) > 0 {
				line = b.lines[0]
			}
			b.errs.warn(NewRowError(line, b.names[i], ErrCodeReadTextColumn, "column holds text and was dropped"))
		}
	}

	values := make([][]float64, len(b.names))
	stamps := make([][]time.Time, len(b.names))
	for r, line := range b.lines {
		row := make([]float64, len(b.names))
		rowStamps := make([]time.Time, len(b.names))
		ok := true
		for c, kind := range kinds {
			cell := b.cells[c][r]
			switch kind {
			case kindNumeric:
				v, valid := parseNumber(cell, b.sep)
				if !valid {
					b.errs.badNumber(line, b.names[c], cell)
					ok = false
				}
				row[c] = v
			case kindTimestamp:
				if cell == "" {
					continue
				}
				ts, valid := parseTimestamp(cell)
				if !valid {
					b.errs.warn(NewRowError(line, b.names[c], ErrCodeReadTimestamp, "expected a timestamp").WithValue(cell))
					ok = false
				}
				rowStamps[c] = ts
			}
		}
		if !ok {
			continue
		}
		for c := range kinds {
			values[c] = append(values[c], row[c])
			stamps[c] = append(stamps[c], rowStamps[c])
		}
	}

	rows := len(values[0])
	if rows == 0 {
		return ErrNoDataRows
	}

	for c, kind := range kinds {
		switch kind {
		case kindText:
			continue
		case kindTimestamp:
			t.Columns = append(t.Columns, b.timestampColumn(t, c, stamps[c]))
		default:
			t.Columns = append(t.Columns, RawColumn{Name: b.names[c], Unit: b.units[c], Values: values[c]})
		}
	}
	if len(t.Columns) == 0 {
		return ErrNoDataRows
	}
	t.Rows = rows
	return nil
}

// timestampColumn converts absolute times to seconds since the table start.
// The first timestamp becomes the start time unless the header already set one.
func (b *tableBuilder) timestampColumn(t *RawTable, col int, stamps []time.Time) RawColumn {
	if t.StartTime.IsZero() {
		for _, ts := range stamps {
			if !ts.IsZero() {
				t.StartTime = ts
				break
			}
		}
	}
	out := make([]float64, len(stamps))
	for i, ts := range stamps {
		if ts.IsZero() {
			out[i] = math.NaN()
			continue
		}
		out[i] = ts.Sub(t.StartTime).Seconds()
	}
	return RawColumn{Name: b.names[col], Unit: "s", Values: out, Timestamp: true}
}
