package reader

import (
	"errors"
	"fmt"
)

// Warning codes attached to RowError
const (
	ErrCodeReadInvalidNumber = "ERR_READ_INVALID_NUMBER"
	ErrCodeReadMalformedRow  = "ERR_READ_MALFORMED_ROW"
	ErrCodeReadTextColumn    = "ERR_READ_TEXT_COLUMN"
	ErrCodeReadInvalidHeader = "ERR_READ_INVALID_HEADER"
	ErrCodeReadTimestamp     = "ERR_READ_INVALID_TIMESTAMP"
)

// Errors that abort a read
var (
	ErrEmptyFile           = errors.New("file is empty")
	ErrInvalidEncoding     = errors.New("invalid file encoding")
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	ErrMissingHeader       = errors.New("file missing column header row")
	ErrNoDataRows          = errors.New("file contains no data rows")
	ErrUnknownFormat       = errors.New("unknown file format")
	ErrMalformedHeader     = errors.New("malformed instrument header")
)

// RowError is a recoverable problem found while reading a file. The read
// continues and the problem is reported as a measurement warning.
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (e RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d, column '%s': %s", e.Row, e.Column, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// NewRowError creates a RowError. Row is the 1-based line in the file, or 0
// when the problem is not tied to a line.
func NewRowError(row int, column, code, message string) RowError {
	return RowError{Row: row, Column: column, Code: code, Message: message}
}

// WithValue returns a copy of e carrying the offending cell text
func (e RowError) WithValue(v string) RowError {
	e.Value = v
	return e
}

// warningSink keeps the first limit warnings of a read and counts the rest
type warningSink struct {
	kept  []RowError
	limit int
	total int
}

func newWarningSink(limit int) *warningSink {
	if limit <= 0 {
		limit = 100
	}
	return &warningSink{limit: limit}
}

func (s *warningSink) warn(e RowError) {
	s.total++
	if len(s.kept) < s.limit {
		s.kept = append(s.kept, e)
	}
}

func (s *warningSink) badNumber(row int, column, cell string) {
	s.warn(NewRowError(row, column, ErrCodeReadInvalidNumber, "expected a number").WithValue(cell))
}

func (s *warningSink) shortRow(row, got, want int) {
	s.warn(NewRowError(row, "", ErrCodeReadMalformedRow,
		fmt.Sprintf("row has %d cells, header has %d; missing cells set to NaN", got, want)))
}
