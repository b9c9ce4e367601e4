package reader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// TableParser reads delimited records with line numbers
type TableParser struct {
	delimiter  rune
	lazyQuotes bool
	trimSpace  bool
	lineOffset int
	reader     *csv.Reader
}

// ParserOption is a functional option for TableParser configuration
type ParserOption func(*TableParser)

// WithDelimiter sets the field delimiter (default is tab)
func WithDelimiter(d rune) ParserOption {
	return func(p *TableParser) {
		p.delimiter = d
	}
}

// WithLazyQuotes enables lazy quote handling
func WithLazyQuotes(lazy bool) ParserOption {
	return func(p *TableParser) {
		p.lazyQuotes = lazy
	}
}

// WithTrimSpace enables trimming of leading/trailing spaces from fields
func WithTrimSpace(trim bool) ParserOption {
	return func(p *TableParser) {
		p.trimSpace = trim
	}
}

// WithLineOffset shifts reported line numbers by the lines consumed before
// the parser was created
func WithLineOffset(n int) ParserOption {
	return func(p *TableParser) {
		p.lineOffset = n
	}
}

// NewTableParser creates a parser over already decoded text
func NewTableParser(r io.Reader, opts ...ParserOption) *TableParser {
	parser := &TableParser{
		delimiter:  '\t',
		lazyQuotes: true,
		trimSpace:  true,
	}

	for _, opt := range opts {
		opt(parser)
	}

	parser.reader = csv.NewReader(r)
	parser.reader.Comma = parser.delimiter
	parser.reader.LazyQuotes = parser.lazyQuotes
	// csv would also swallow tab delimiters as leading space; fields are trimmed in ReadRecord
	parser.reader.TrimLeadingSpace = false
	parser.reader.FieldsPerRecord = -1
	parser.reader.ReuseRecord = false

	return parser
}

// ReadRecord returns the next non-empty record and its 1-based line number
func (p *TableParser) ReadRecord() (int, []string, error) {
	record, err := p.reader.Read()
	if err == io.EOF {
		return 0, nil, io.EOF
	}
	if err != nil {
		line := 0
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			line = perr.Line + p.lineOffset
		}
		return line, nil, fmt.Errorf("error reading line %d: %w", line, err)
	}
	line, _ := p.reader.FieldPos(0)
	line += p.lineOffset

	if p.trimSpace {
		for i, f := range record {
			record[i] = trimSpaces(f)
		}
	}
	return line, record, nil
}

// trimSpaces removes leading and trailing whitespace, including the
// non-breaking spaces some exporters write
func trimSpaces(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\r' || r == '\n' || r == '\u00a0'
	})
}

// isBlank reports whether every field of a record is empty
func isBlank(fields []string) bool {
	for _, f := range fields {
		if f != "" {
			return false
		}
	}
	return true
}
