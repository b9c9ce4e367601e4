package cli

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/reader"
)

// maxInspectWarnings bounds the warnings printed by inspect
const maxInspectWarnings = 20

// columnInfo describes one raw column and the quantity it maps to
type columnInfo struct {
	Name     string `json:"name"`
	Unit     string `json:"unit,omitempty"`
	Quantity string `json:"quantity,omitempty"`
	Negate   bool   `json:"negate,omitempty"`
	Points   int    `json:"points"`
}

func newInspectCommand(a *app) *cobra.Command {
	var (
		readerName string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <path|s3://bucket/key>",
		Short: "Show how a raw file is detected and read",
		Long: `Inspect detects the format of a raw file, reads it and prints the
header metadata, the columns with the quantity each one maps to, and the
row warnings. Nothing is stored.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			ctx := a.context(cmd.Context())

			resolver, err := a.sources(ctx)
			if err != nil {
				return err
			}
			readers, err := a.readerRegistry()
			if err != nil {
				return err
			}
			norm, err := a.normalizer()
			if err != nil {
				return err
			}

			rc, obj, err := resolver.Open(ctx, args[0])
			if err != nil {
				return err
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			head := data
			if len(head) > reader.HeadSize {
				head = head[:reader.HeadSize]
			}
			rd, err := readers.Resolve(readerName, obj.Key, head)
			if err != nil {
				return err
			}
			tbl, err := rd.Read(ctx, bytes.NewReader(data))
			if err != nil {
				return err
			}

			columns := make([]columnInfo, len(tbl.Columns))
			for i, col := range tbl.Columns {
				columns[i] = columnInfo{Name: col.Name, Unit: col.Unit, Points: len(col.Values)}
				if alias, ok := norm.Resolve(col.Name); ok {
					columns[i].Quantity = alias.Quantity.String()
					columns[i].Negate = alias.Negate
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, struct {
					URI string `json:"uri"`
					*reader.RawTable
					Columns []columnInfo `json:"columns"`
				}{obj.URI, tbl, columns})
			}
			return writeInspection(out, obj.URI, tbl, columns)
		},
	}

	cmd.Flags().StringVar(&readerName, "reader", "", "force a reader instead of detecting the format")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func writeInspection(out io.Writer, uri string, tbl *reader.RawTable, columns []columnInfo) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Source:\t%s\n", uri)
	fmt.Fprintf(w, "Reader:\t%s\n", tbl.Reader)
	fmt.Fprintf(w, "Encoding:\t%s\n", tbl.Encoding)
	if tbl.TechniqueName != "" {
		fmt.Fprintf(w, "Technique:\t%s (%s)\n", tbl.Technique, tbl.TechniqueName)
	} else {
		fmt.Fprintf(w, "Technique:\t%s\n", tbl.Technique)
	}
	fmt.Fprintf(w, "Started:\t%s\n", formatTime(tbl.StartTime))
	fmt.Fprintf(w, "Rows:\t%d\n", tbl.Rows)
	if err := w.Flush(); err != nil {
		return err
	}

	if len(tbl.Header) > 0 {
		keys := make([]string, 0, len(tbl.Header))
		for k := range tbl.Header {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(out, "\nHeader:")
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s\t%s\n", k, tbl.Header[k])
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\nColumns:")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tUNIT\tQUANTITY\tPOINTS")
	fmt.Fprintln(w, "----\t----\t--------\t------")
	for _, c := range columns {
		quantity := dash(c.Quantity)
		if c.Negate {
			quantity = "-" + quantity
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", c.Name, dash(c.Unit), quantity, c.Points)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if tbl.WarningCount == 0 {
		return nil
	}
	fmt.Fprintf(out, "\nWarnings (%d):\n", tbl.WarningCount)
	for i, warn := range tbl.Warnings {
		if i == maxInspectWarnings {
			fmt.Fprintf(out, "  ... %d more\n", tbl.WarningCount-maxInspectWarnings)
			break
		}
		fmt.Fprintf(out, "  row %d, %s: %s\n", warn.Row, dash(warn.Column), warn.Message)
	}
	return nil
}
