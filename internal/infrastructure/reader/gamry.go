package reader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
)

const gamryMagic = "EXPLAIN"

// GamryCycleColumn is the column added when several CURVE tables are joined
const GamryCycleColumn = "Cycle"

// GamryReader reads Gamry Framework data files (.DTA)
type GamryReader struct {
	opts Options
}

// NewGamryReader creates a Gamry reader
func NewGamryReader(opts Options) *GamryReader {
	return &GamryReader{opts: opts.withDefaults()}
}

// Name returns the reader name
func (r *GamryReader) Name() string {
	return "gamry"
}

// Detect accepts files starting with EXPLAIN or named *.dta
func (r *GamryReader) Detect(filename string, head []byte) bool {
	head = bytes.TrimPrefix(head, bomUTF8)
	if bytes.HasPrefix(head, []byte(gamryMagic)) {
		return true
	}
	return hasExtension(filename, ".dta")
}

type gamryTable struct {
	name   string
	labels []string
	units  []string
	rows   [][]string
	lines  []int
}

// Read parses the tag block and the data tables of a DTA file. An impedance
// table (ZCURVE) is preferred; otherwise all CURVE tables are joined with a
// cycle column.
func (r *GamryReader) Read(ctx context.Context, in io.Reader) (*RawTable, error) {
	text, enc, err := Decode(in, r.opts.Encoding)
	if err != nil {
		return nil, err
	}
	t := newRawTable(r.Name(), enc)
	errs := newWarningSink(r.opts.MaxErrors)

	sc := bufio.NewScanner(text)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		tables  []*gamryTable
		current *gamryTable
		date    string
		clock   string
		line    int
		skip    int
	)

	for sc.Scan() {
		line++
		if err := checkContext(ctx, line); err != nil {
			return nil, err
		}
		raw := strings.TrimRight(sc.Text(), "\r")

		if line == 1 {
			if strings.TrimSpace(raw) != gamryMagic {
				return nil, fmt.Errorf("%w: expected %s, got %q", ErrMalformedHeader, gamryMagic, raw)
			}
			continue
		}
		if skip > 0 {
			skip--
			continue
		}

		// table rows are indented with a tab
		if current != nil && strings.HasPrefix(raw, "\t") {
			fields := splitTrim(raw, "\t")[1:]
			switch {
			case current.labels == nil:
				current.labels = trimTrailingEmpty(fields)
			case current.units == nil:
				current.units = fields
			default:
				current.rows = append(current.rows, fields)
				current.lines = append(current.lines, line)
			}
			continue
		}
		current = nil

		fields := splitTrim(raw, "\t")
		if len(fields) == 0 || fields[0] == "" {
			continue
		}
		key := fields[0]

		if len(fields) >= 2 && fields[1] == "TABLE" {
			current = &gamryTable{name: key}
			tables = append(tables, current)
			continue
		}

		value := ""
		switch {
		case len(fields) >= 3:
			value = fields[2]
		case len(fields) == 2:
			value = fields[1]
		}
		t.Header[key] = value

		switch key {
		case "TAG":
			tech, err := measurement.ParseTechnique(value)
			if err != nil {
				tech = measurement.TechniqueUnknown
			}
			t.setTechnique(value, tech)
		case "TITLE":
			t.Header[HeaderSampleName] = value
		case "DATE":
			date = value
		case "TIME":
			clock = value
		case "AREA":
			t.Header[HeaderElectrodeArea] = value + " cm^2"
		case "PSTAT":
			t.Header[HeaderInstrument] = value
		case "NOTES":
			if len(fields) >= 3 && fields[1] == "NOTES" {
				if n, err := strconv.Atoi(value); err == nil && n > 0 {
					skip = n
				}
				delete(t.Header, key)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if line == 0 {
		return nil, ErrEmptyFile
	}

	if date != "" && clock != "" {
		ts, ok := parseTimestamp(date + " " + clock)
		if ok {
			t.StartTime = ts
		} else {
			errs.warn(NewRowError(0, "DATE", ErrCodeReadTimestamp, "cannot parse test start").WithValue(date+" "+clock))
		}
	}

	data := selectGamryTables(tables, errs)
	if len(data) == 0 {
		return nil, ErrMissingHeader
	}

	labels := data[0].labels
	joined := len(data) > 1 || strings.HasPrefix(data[0].name, "CURVE")
	if joined {
		labels = append(append([]string(nil), labels...), GamryCycleColumn)
	}

	builder := newTableBuilder(labels, r.opts.DecimalSeparator, errs)
	builder.setUnits(gamryUnits(data[0].units, len(labels)))
	for i, tbl := range data {
		cycle := strconv.Itoa(gamryCurveIndex(tbl.name, i))
		for j, row := range tbl.rows {
			if joined {
				if got := len(trimTrailingEmpty(row)); got != len(tbl.labels) {
					errs.shortRow(tbl.lines[j], got, len(tbl.labels))
				}
				row = append(padFields(row, len(tbl.labels)), cycle)
			}
			builder.addRow(tbl.lines[j], row)
		}
	}

	if err := builder.build(t); err != nil {
		return nil, err
	}
	t.attachErrors(errs)
	return t, nil
}

// selectGamryTables returns ZCURVE when present, otherwise every CURVE table
// whose columns match the first one
func selectGamryTables(tables []*gamryTable, errs *warningSink) []*gamryTable {
	for _, tbl := range tables {
		if tbl.name == "ZCURVE" && tbl.labels != nil {
			return []*gamryTable{tbl}
		}
	}

	var curves []*gamryTable
	for _, tbl := range tables {
		if !strings.HasPrefix(tbl.name, "CURVE") || tbl.labels == nil {
			continue
		}
		if len(curves) > 0 && strings.Join(tbl.labels, "\t") != strings.Join(curves[0].labels, "\t") {
			line := 0
			if len(tbl.lines) > 0 {
				line = tbl.lines[0]
			}
			errs.warn(NewRowError(line, tbl.name, ErrCodeReadInvalidHeader, "table columns differ from the first curve; table skipped"))
			continue
		}
		curves = append(curves, tbl)
	}
	return curves
}

// gamryCurveIndex returns n for CURVEn, or the 1-based position otherwise
func gamryCurveIndex(name string, pos int) int {
	if n, err := strconv.Atoi(strings.TrimPrefix(name, "CURVE")); err == nil {
		return n
	}
	return pos + 1
}

// gamryUnits keeps the leading unit token; "#" marks a count
func gamryUnits(row []string, n int) []string {
	out := make([]string, n)
	for i := 0; i < n && i < len(row); i++ {
		fields := strings.Fields(row[i])
		if len(fields) == 0 || fields[0] == "#" {
			continue
		}
		out[i] = fields[0]
	}
	return out
}

func padFields(fields []string, n int) []string {
	out := make([]string, n, n+1)
	copy(out, fields)
	return out
}
