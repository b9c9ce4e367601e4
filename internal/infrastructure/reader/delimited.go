package reader

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
)

// DelimitedReader reads generic CSV/TSV exports with an optional block of
// "# key: value" comment lines above the column header
type DelimitedReader struct {
	opts Options
}

// NewDelimitedReader creates a delimited text reader
func NewDelimitedReader(opts Options) *DelimitedReader {
	return &DelimitedReader{opts: opts.withDefaults()}
}

// Name returns the reader name
func (r *DelimitedReader) Name() string {
	return "delimited"
}

// Detect accepts common delimited text extensions
func (r *DelimitedReader) Detect(filename string, _ []byte) bool {
	return hasExtension(filename, ".csv", ".tsv", ".txt", ".dat")
}

// header comment keys that map onto well-known keys
var delimitedHeaderKeys = map[string]string{
	"sample":         HeaderSampleName,
	"sample name":    HeaderSampleName,
	"sample_name":    HeaderSampleName,
	"operator":       HeaderOperator,
	"user":           HeaderOperator,
	"instrument":     HeaderInstrument,
	"device":         HeaderInstrument,
	"area":           HeaderElectrodeArea,
	"electrode area": HeaderElectrodeArea,
	"electrode_area": HeaderElectrodeArea,
	"mass":           HeaderActiveMass,
	"active mass":    HeaderActiveMass,
	"active_mass":    HeaderActiveMass,
	"rotation rate":  HeaderRotationRate,
	"rotation_rate":  HeaderRotationRate,
	"temperature":    HeaderTemperature,
}

// Read parses the comment block, sniffs the delimiter from the header row
// and reads the data rows
func (r *DelimitedReader) Read(ctx context.Context, in io.Reader) (*RawTable, error) {
	text, enc, err := Decode(in, r.opts.Encoding)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(text)
	t := newRawTable(r.Name(), enc)
	errs := newWarningSink(r.opts.MaxErrors)

	var (
		labelLine string
		line      int
	)
	for {
		s, err := readLine(br)
		if err == io.EOF {
			return nil, ErrMissingHeader
		}
		if err != nil {
			return nil, err
		}
		line++
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			r.parseComment(t, errs, line, strings.TrimSpace(strings.TrimPrefix(trimmed, "#")))
			continue
		}
		labelLine = s
		break
	}

	delim := r.opts.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(labelLine)
	}
	sep := r.opts.DecimalSeparator
	if sep == 0 && delim == ',' {
		sep = '.'
	}

	labelParser := NewTableParser(strings.NewReader(labelLine), WithDelimiter(delim))
	_, labels, err := labelParser.ReadRecord()
	if err != nil {
		return nil, ErrMissingHeader
	}
	labels = trimTrailingEmpty(labels)
	if len(labels) == 0 {
		return nil, ErrMissingHeader
	}

	builder := newTableBuilder(labels, sep, errs)
	parser := NewTableParser(br, WithDelimiter(delim), WithLineOffset(line))
	for rows := 1; ; rows++ {
		if err := checkContext(ctx, rows); err != nil {
			return nil, err
		}
		ln, fields, err := parser.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				errs.warn(NewRowError(ln, "", ErrCodeReadMalformedRow, perr.Err.Error()))
				continue
			}
			return nil, err
		}
		if len(fields) > 0 && strings.HasPrefix(fields[0], "#") {
			continue
		}
		builder.addRow(ln, fields)
	}

	if err := builder.build(t); err != nil {
		return nil, err
	}
	t.attachErrors(errs)
	return t, nil
}

func (r *DelimitedReader) parseComment(t *RawTable, errs *warningSink, line int, s string) {
	idx := strings.IndexAny(s, ":=")
	if idx < 0 {
		return
	}
	key := strings.TrimSpace(s[:idx])
	value := strings.TrimSpace(s[idx+1:])
	if key == "" {
		return
	}
	t.Header[key] = value

	lower := strings.ToLower(key)
	if wk, ok := delimitedHeaderKeys[lower]; ok {
		t.Header[wk] = value
		return
	}
	switch lower {
	case "technique":
		tech, err := measurement.ParseTechnique(value)
		if err != nil {
			errs.warn(NewRowError(line, key, ErrCodeReadInvalidHeader, "unknown technique").WithValue(value))
			tech = measurement.TechniqueUnknown
		}
		t.setTechnique(value, tech)
	case "start", "start time", "start_time", "started":
		if ts, ok := parseTimestamp(value); ok {
			t.StartTime = ts
		} else {
			errs.warn(NewRowError(line, key, ErrCodeReadTimestamp, "cannot parse start time").WithValue(value))
		}
	}
}

// sniffDelimiter picks the most frequent of tab, semicolon and comma in the
// header row. Ties prefer tab, then semicolon.
func sniffDelimiter(header string) rune {
	best, bestCount := ',', 0
	for _, d := range []rune{'\t', ';', ','} {
		if n := strings.Count(header, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}
