package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/application/ingest"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/application/normalize"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
)

// importFlags are shared by import and analyze
type importFlags struct {
	tags      []string
	technique string
	sample    string
	reader    string
}

func (f *importFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "tag to attach (repeatable)")
	cmd.Flags().StringVar(&f.technique, "technique", "", "override the detected technique")
	cmd.Flags().StringVar(&f.sample, "sample", "", "override the sample name")
	cmd.Flags().StringVar(&f.reader, "reader", "", "force a reader instead of detecting the format")
}

func (f *importFlags) options() (ingest.Options, error) {
	opts := ingest.Options{
		Reader: f.reader,
		Normalize: normalize.Options{
			SampleName: f.sample,
			Tags:       f.tags,
		},
	}
	if f.technique != "" {
		t, err := measurement.ParseTechnique(f.technique)
		if err != nil {
			return opts, &usageError{err: err}
		}
		opts.Normalize.Technique = t
	}
	return opts, nil
}

func newImportCommand(a *app) *cobra.Command {
	var (
		flags        importFlags
		workers      int
		skipExisting bool
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "import [flags] <path|s3://bucket/key>...",
		Short: "Import raw instrument files into the catalog",
		Long: `Import reads raw instrument files, normalizes them and records them in
the catalog. Arguments may be files, directories, glob patterns or
s3://bucket/prefix URIs; directories and prefixes are imported recursively.`,
		Example: `  echem import data/eis/*.mpt
  echem import --tag lfp --workers 8 s3://lab-archive/2024/cycling/`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			if err := a.load(); err != nil {
				return err
			}
			if !cmd.Flags().Changed("skip-existing") {
				skipExisting = a.cfg.Ingest.SkipExisting
			}
			ctx := a.context(cmd.Context())

			svc, err := a.ingestService(ctx, workers, skipExisting)
			if err != nil {
				return err
			}
			batch, err := svc.ImportBatch(ctx, args, opts)
			if err != nil && batch == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if werr := writeJSON(out, batch); werr != nil {
					return werr
				}
			} else {
				if werr := writeBatch(out, batch); werr != nil {
					return werr
				}
				if werr := writeLoaded(out, a.store.CountByTechnique()); werr != nil {
					return werr
				}
			}
			if err != nil {
				return err
			}
			if batch.Failed > 0 {
				return fmt.Errorf("%d of %d files failed to import", batch.Failed, batch.Total)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel imports (default from ingest.max_workers)")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "skip files already in the catalog (default from ingest.skip_existing)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// writeBatch prints one row per file followed by the totals
func writeBatch(out io.Writer, batch *ingest.BatchResult) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tID\tTECHNIQUE\tPOINTS\tWARNINGS\tSOURCE\tDETAIL")
	fmt.Fprintln(w, "------\t--\t---------\t------\t--------\t------\t------")
	for _, f := range batch.Files {
		id := "-"
		if f.MeasurementID != uuid.Nil {
			id = f.MeasurementID.String()
		}
		technique := "-"
		if f.Technique != "" {
			technique = f.Technique.String()
		}
		detail := f.Reason
		switch {
		case f.Status == ingest.StatusFailed:
			detail = fmt.Sprintf("%s: %s", f.Stage, f.Error)
		case f.Replaced:
			detail = "replaced catalog entry"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			f.Status, id, technique, f.Points, f.Warnings, f.URI, strings.TrimSpace(detail))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n%d files: %d imported, %d skipped, %d failed\n",
		batch.Total, batch.Imported, batch.Skipped, batch.Failed)
	return err
}

// writeLoaded prints the loaded measurements per technique
func writeLoaded(out io.Writer, counts map[measurement.Technique]int) error {
	if len(counts) == 0 {
		return nil
	}
	techniques := make([]measurement.Technique, 0, len(counts))
	for t := range counts {
		techniques = append(techniques, t)
	}
	sort.Slice(techniques, func(i, j int) bool { return techniques[i] < techniques[j] })
	parts := make([]string, len(techniques))
	for i, t := range techniques {
		parts[i] = fmt.Sprintf("%d %s", counts[t], t)
	}
	_, err := fmt.Fprintf(out, "loaded: %s\n", strings.Join(parts, ", "))
	return err
}
