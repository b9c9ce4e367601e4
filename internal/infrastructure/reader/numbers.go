package reader

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/units"
)

// parseNumber parses a numeric cell. Empty cells and NaN markers yield NaN.
// With sep == 0 a single decimal comma is accepted as well as a point.
func parseNumber(s string, sep rune) (float64, bool) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "-nan", "na", "n/a", "#n/a", "-":
		return math.NaN(), true
	}
	if sep == ',' {
		s = strings.Replace(s, ",", ".", 1)
	}
	if v, ok := parseFloat(s); ok {
		return v, true
	}
	if sep == 0 && strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		return parseFloat(strings.Replace(s, ",", ".", 1))
	}
	return 0, false
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err == nil || errors.Is(err, strconv.ErrRange) {
		return v, true
	}
	return 0, false
}

// timestamp layouts seen in instrument exports, most specific first
var timestampLayouts = []string{
	"01/02/2006 15:04:05.000000",
	"01/02/2006 15:04:05.000",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04:05",
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05",
	"02.01.2006 15:04:05.000",
	"02.01.2006 15:04:05",
}

// parseTimestamp parses an absolute timestamp. Times without a zone are UTC.
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// splitNameUnit separates a column label such as "Ewe/V", "Potential (V)" or
// "Current [mA]" into name and unit. The label is kept whole when the suffix
// is not a recognised unit.
func splitNameUnit(label string) (string, string) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", ""
	}

	for _, pair := range [][2]byte{{'(', ')'}, {'[', ']'}} {
		if label[len(label)-1] != pair[1] {
			continue
		}
		open := strings.LastIndexByte(label, pair[0])
		if open <= 0 {
			continue
		}
		unit := strings.TrimSpace(label[open+1 : len(label)-1])
		if _, err := units.Parse(unit); err == nil && unit != "" {
			return strings.TrimSpace(label[:open]), unit
		}
	}

	if idx := strings.LastIndexByte(label, '/'); idx > 0 && idx < len(label)-1 {
		unit := strings.TrimSpace(label[idx+1:])
		if _, err := units.Parse(unit); err == nil {
			return strings.TrimSpace(label[:idx]), unit
		}
	}

	return label, ""
}
