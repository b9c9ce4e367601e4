package analysis

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Write renders the report in the given format
func Write(w io.Writer, r *Report, format string) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		return WriteText(w, r)
	case FormatJSON:
		return WriteJSON(w, r)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// WriteJSON writes the report as indented JSON
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes the report as aligned columns
func WriteText(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "measurement:\t%s\n", r.MeasurementID)
	if r.SampleName != "" {
		fmt.Fprintf(tw, "sample:\t%s\n", r.SampleName)
	}
	fmt.Fprintf(tw, "technique:\t%s\n", r.Technique)
	fmt.Fprintf(tw, "analyzer:\t%s\n", r.Analyzer)
	fmt.Fprintln(tw)

	for _, f := range r.Result.Fields() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Name, formatValue(f.Value), f.Unit)
	}

	if t, ok := r.Result.(Tabular); ok {
		columns, rows := t.Table()
		if len(rows) > 0 {
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, strings.Join(columns, "\t"))
			for _, row := range rows {
				cells := make([]string, len(row))
				for k, v := range row {
					cells[k] = formatValue(v)
				}
				fmt.Fprintln(tw, strings.Join(cells, "\t"))
			}
		}
	}
	return tw.Flush()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
