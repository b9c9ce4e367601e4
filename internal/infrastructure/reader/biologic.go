package reader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
)

const bioLogicMagic = "EC-Lab ASCII FILE"

// BioLogicReader reads EC-Lab text exports (.mpt)
type BioLogicReader struct {
	opts Options
}

// NewBioLogicReader creates a BioLogic reader
func NewBioLogicReader(opts Options) *BioLogicReader {
	return &BioLogicReader{opts: opts.withDefaults()}
}

// Name returns the reader name
func (r *BioLogicReader) Name() string {
	return "biologic"
}

// Detect accepts files starting with the EC-Lab banner or named *.mpt
func (r *BioLogicReader) Detect(filename string, head []byte) bool {
	head = bytes.TrimPrefix(head, bomUTF8)
	if bytes.HasPrefix(head, []byte(bioLogicMagic)) {
		return true
	}
	return hasExtension(filename, ".mpt")
}

// Read parses an EC-Lab export. Files without the banner are read as a bare
// tab-separated table.
func (r *BioLogicReader) Read(ctx context.Context, in io.Reader) (*RawTable, error) {
	text, enc, err := Decode(in, r.opts.Encoding)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(text)
	t := newRawTable(r.Name(), enc)
	errs := newWarningSink(r.opts.MaxErrors)

	first, err := readLine(br)
	if err != nil {
		if err == io.EOF {
			return nil, ErrEmptyFile
		}
		return nil, err
	}
	line := 1

	labelLine := first
	if strings.HasPrefix(strings.TrimSpace(first), bioLogicMagic) {
		countLine, err := readLine(br)
		if err != nil {
			return nil, fmt.Errorf("%w: missing header line count", ErrMalformedHeader)
		}
		line++
		n, err := parseHeaderCount(countLine)
		if err != nil {
			return nil, err
		}
		for line < n-1 {
			s, err := readLine(br)
			if err == io.EOF {
				return nil, ErrMissingHeader
			}
			if err != nil {
				return nil, err
			}
			line++
			r.parseHeaderLine(t, errs, line, s)
		}
		labelLine, err = readLine(br)
		if err == io.EOF {
			return nil, ErrMissingHeader
		}
		if err != nil {
			return nil, err
		}
		line++
	}

	labels := trimTrailingEmpty(splitTrim(labelLine, "\t"))
	if len(labels) == 0 {
		return nil, ErrMissingHeader
	}

	builder := newTableBuilder(labels, r.opts.DecimalSeparator, errs)
	parser := NewTableParser(br, WithDelimiter('\t'), WithLineOffset(line))
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
		builder.addRow(ln, fields)
	}

	if err := builder.build(t); err != nil {
		return nil, err
	}
	t.attachErrors(errs)
	return t, nil
}

// parseHeaderCount reads "Nb header lines : 52"
func parseHeaderCount(s string) (int, error) {
	key, value, ok := strings.Cut(s, ":")
	if !ok || !strings.HasPrefix(strings.ToLower(strings.TrimSpace(key)), "nb header lines") {
		return 0, fmt.Errorf("%w: expected header line count, got %q", ErrMalformedHeader, s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 3 {
		return 0, fmt.Errorf("%w: invalid header line count %q", ErrMalformedHeader, value)
	}
	return n, nil
}

func (r *BioLogicReader) parseHeaderLine(t *RawTable, errs *warningSink, line int, s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}

	key, value, ok := strings.Cut(s, " : ")
	if !ok {
		// the technique name is the first free-standing line of the header
		if t.TechniqueName == "" && !strings.Contains(s, ":") {
			t.setTechnique(s, bioLogicTechnique(s))
		}
		return
	}

	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	t.Header[key] = value

	switch strings.ToLower(key) {
	case "acquisition started on":
		ts, ok := parseTimestamp(value)
		if !ok {
			errs.warn(NewRowError(line, key, ErrCodeReadTimestamp, "cannot parse acquisition start").WithValue(value))
			return
		}
		t.StartTime = ts
	case "electrode surface area":
		t.Header[HeaderElectrodeArea] = value
	case "characteristic mass", "mass of active material":
		t.Header[HeaderActiveMass] = value
	case "device":
		t.Header[HeaderInstrument] = value
	case "user":
		t.Header[HeaderOperator] = value
	case "rotating electrode speed", "rotation speed":
		t.Header[HeaderRotationRate] = value
	}
}

// bioLogicTechnique maps an EC-Lab technique title to a technique
func bioLogicTechnique(title string) measurement.Technique {
	s := strings.ToLower(title)
	switch {
	case strings.Contains(s, "impedance"):
		return measurement.TechniqueEIS
	case strings.Contains(s, "galvanostatic cycling"), strings.Contains(s, "gcpl"):
		return measurement.TechniqueCycling
	case strings.Contains(s, "cyclic voltammetry"):
		return measurement.TechniqueCyclicVoltammetry
	case strings.Contains(s, "chronoamperometry"):
		return measurement.TechniquePotentiostatic
	case strings.Contains(s, "chronopotentiometry"):
		return measurement.TechniqueGalvanostatic
	case strings.Contains(s, "rotating"):
		return measurement.TechniqueRDE
	default:
		return measurement.TechniqueUnknown
	}
}

// readLine reads one line without its terminator. A final line without a
// newline is returned with a nil error.
func readLine(br *bufio.Reader) (string, error) {
	s, err := br.ReadString('\n')
	if err == io.EOF && s != "" {
		err = nil
	}
	return strings.TrimRight(s, "\r\n"), err
}

func splitTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i, p := range parts {
		parts[i] = trimSpaces(p)
	}
	return parts
}

func trimTrailingEmpty(fields []string) []string {
	for len(fields) > 0 && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	return fields
}
