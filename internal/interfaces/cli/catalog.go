package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
)

func newListCommand(a *app) *cobra.Command {
	var (
		technique string
		sample    string
		tag       string
		limit     int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalogued measurements",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := measurement.Filter{SampleName: sample, Tag: tag, Limit: limit}
			if technique != "" {
				t, err := measurement.ParseTechnique(technique)
				if err != nil {
					return &usageError{err: err}
				}
				filter.Technique = t
			}
			if limit < 0 {
				return &usageError{err: fmt.Errorf("--limit must not be negative")}
			}

			repo, err := a.requireCatalog()
			if err != nil {
				return err
			}
			ctx := a.context(cmd.Context())

			summaries, err := repo.FindAll(ctx, filter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), summaries)
			}

			total, err := repo.Count(ctx, measurement.Filter{Technique: filter.Technique, SampleName: sample, Tag: tag})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTECHNIQUE\tSAMPLE\tPOINTS\tSTARTED\tTAGS\tSOURCE")
			fmt.Fprintln(w, "--\t---------\t------\t------\t-------\t----\t------")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					s.ID,
					s.Metadata.Technique,
					dash(s.Metadata.SampleName),
					s.Points,
					formatTime(s.Metadata.StartTime),
					dash(strings.Join(s.Tags, ",")),
					s.Provenance.SourceURI,
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "\nShowing %d of %d measurements\n", len(summaries), total)
			return err
		},
	}

	cmd.Flags().StringVar(&technique, "technique", "", "filter by technique")
	cmd.Flags().StringVar(&sample, "sample", "", "filter by sample name")
	cmd.Flags().StringVar(&tag, "tag", "", "filter by tag")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of rows (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newResultsCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "results <measurement-id>",
		Short: "Show the catalog entry and stored analysis results of a measurement",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return &usageError{err: fmt.Errorf("invalid measurement ID %q", args[0])}
			}

			repo, err := a.requireCatalog()
			if err != nil {
				return err
			}
			ctx := a.context(cmd.Context())

			summary, err := repo.FindByID(ctx, id)
			if err != nil {
				return err
			}
			records, err := repo.ResultsFor(ctx, id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, struct {
					Measurement *measurement.Summary         `json:"measurement"`
					Results     []measurement.AnalysisRecord `json:"results"`
				}{summary, records})
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Measurement:\t%s\n", summary.ID)
			fmt.Fprintf(w, "Sample:\t%s\n", dash(summary.Metadata.SampleName))
			fmt.Fprintf(w, "Technique:\t%s\n", summary.Metadata.Technique)
			fmt.Fprintf(w, "Points:\t%d\n", summary.Points)
			fmt.Fprintf(w, "Source:\t%s\n", summary.Provenance.SourceURI)
			fmt.Fprintf(w, "Reader:\t%s\n", summary.Provenance.Reader)
			fmt.Fprintf(w, "Imported:\t%s\n", formatTime(summary.Provenance.ImportedAt))
			if err := w.Flush(); err != nil {
				return err
			}

			if len(records) == 0 {
				_, err := fmt.Fprintln(out, "\nNo analysis results")
				return err
			}
			for _, rec := range records {
				var fields map[string]any
				if err := json.Unmarshal(rec.Result, &fields); err != nil {
					return fmt.Errorf("corrupt %s result %s: %w", rec.Analyzer, rec.ID, err)
				}
				fmt.Fprintf(out, "\n%s (%s, %s)\n", rec.Analyzer, rec.ID, formatTime(rec.CreatedAt))
				if err := writeJSON(out, fields); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
