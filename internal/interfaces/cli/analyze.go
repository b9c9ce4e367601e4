package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/application/analysis"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/logger"
)

// analysisTarget is one dataset to analyze and the catalogued
// measurements its results belong to
type analysisTarget struct {
	m       *measurement.Measurement
	sources []*measurement.Measurement
}

func newAnalyzeCommand(a *app) *cobra.Command {
	var (
		flags    importFlags
		analyzer string
		limit    float64
		save     bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [flags] <path|s3://bucket/key>...",
		Short: "Import files and run the matching analysis",
		Long: `Analyze imports the given files and runs the analyzer matching each
measurement's technique, or the one named with --analyzer.

Several rotating disk electrode sweeps are merged into one dataset so the
Levich and Koutecky-Levich fits see every rotation rate.`,
		Example: `  echem analyze data/eis/cell1.mpt
  echem analyze --json --save data/rde/*.txt
  echem analyze --limiting-potential -0.35 data/rde/*.txt`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			registry := analysis.DefaultRegistry()
			if analyzer != "" {
				if _, ok := registry.Get(analyzer); !ok {
					return &usageError{err: fmt.Errorf("unknown analyzer %q (available: %v)", analyzer, registry.Names())}
				}
			}
			if err := a.load(); err != nil {
				return err
			}
			var override *float64
			if cmd.Flags().Changed("limiting-potential") {
				override = &limit
			}
			params, err := a.analysisParams(override)
			if err != nil {
				return err
			}
			ctx := a.context(cmd.Context())

			var catalog measurement.CatalogRepository
			if save {
				repo, err := a.requireCatalog()
				if err != nil {
					return err
				}
				catalog = repo
			}

			svc, err := a.ingestService(ctx, 0, false)
			if err != nil {
				return err
			}
			batch, err := svc.ImportBatch(ctx, args, opts)
			if err != nil {
				return err
			}
			for _, f := range batch.Errors() {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", f.URI, f.Stage, f.Error)
			}
			if batch.Failed > 0 {
				return fmt.Errorf("%d of %d files failed to import", batch.Failed, batch.Total)
			}

			ms, err := a.measurements(ctx, uniqueIDs(batch.MeasurementIDs()))
			if err != nil {
				return err
			}
			targets, err := analysisTargets(ms, analyzer)
			if err != nil {
				return err
			}

			reports := make([]*analysis.Report, 0, len(targets))
			for _, t := range targets {
				report, err := registry.Run(ctx, t.m, analyzer, params)
				if err != nil {
					return fmt.Errorf("%s: %w", t.m.Provenance.SourceURI, err)
				}
				reports = append(reports, report)
				if catalog != nil {
					if err := saveReport(ctx, catalog, report, t.sources); err != nil {
						return err
					}
				}
			}
			return writeReports(cmd.OutOrStdout(), reports, asJSON)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&analyzer, "analyzer", "", "analyzer to run (default: by technique)")
	cmd.Flags().Float64Var(&limit, "limiting-potential", 0, "potential in V where RDE limiting currents are read (default: plateau)")
	cmd.Flags().BoolVar(&save, "save", false, "store the results in the catalog")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// analysisTargets groups several RDE measurements into one merged dataset
// and keeps everything else as is
func analysisTargets(ms []*measurement.Measurement, analyzer string) ([]analysisTarget, error) {
	if len(ms) > 1 && (analyzer == "" || analyzer == "rde") && allTechnique(ms, measurement.TechniqueRDE) {
		merged, err := analysis.MergeRotationRates(ms)
		if err != nil {
			return nil, err
		}
		return []analysisTarget{{m: merged, sources: ms}}, nil
	}
	targets := make([]analysisTarget, len(ms))
	for i, m := range ms {
		targets[i] = analysisTarget{m: m, sources: []*measurement.Measurement{m}}
	}
	return targets, nil
}

func allTechnique(ms []*measurement.Measurement, t measurement.Technique) bool {
	for _, m := range ms {
		if m.Metadata.Technique != t {
			return false
		}
	}
	return true
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// saveReport stores one record per source measurement
func saveReport(ctx context.Context, catalog measurement.CatalogRepository, report *analysis.Report, sources []*measurement.Measurement) error {
	for _, src := range sources {
		rec, err := report.Record()
		if err != nil {
			return err
		}
		rec.MeasurementID = src.ID
		if err := catalog.SaveResult(ctx, rec); err != nil {
			return fmt.Errorf("failed to save %s result for %s: %w", report.Analyzer, src.ID, err)
		}
		logger.L(ctx).Info("Analysis result saved",
			zap.String("analyzer", report.Analyzer),
			zap.String("measurement_id", src.ID.String()),
		)
	}
	return nil
}

func writeReports(w io.Writer, reports []*analysis.Report, asJSON bool) error {
	if asJSON {
		if len(reports) == 1 {
			return writeJSON(w, reports[0])
		}
		return writeJSON(w, reports)
	}
	for i, r := range reports {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if err := analysis.WriteText(w, r); err != nil {
			return err
		}
	}
	return nil
}
