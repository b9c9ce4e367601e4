package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/application/analysis"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/application/ingest"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/application/normalize"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/config"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/logger"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/memstore"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/migration"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/persistence"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/reader"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/scheduler"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/storage"
)

// errCatalogDisabled is returned by commands that need the catalog
var errCatalogDisabled = errors.New("catalog is disabled (set catalog.enabled = true)")

// app holds the components shared by the subcommands. They are created on
// first use so that the banner and version commands never touch
// configuration, the filesystem or the database.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string

	cfg      *config.Config
	log      *zap.Logger
	db       *persistence.Database
	catalog  *persistence.GormCatalogRepository
	resolver *storage.Resolver
	readers  *reader.Registry
	norm     *normalize.Normalizer
	store    *memstore.Store
}

// load reads the configuration and builds the logger
func (a *app) load() error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	}, a.stderr)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	a.log = log.With(zap.String("app", cfg.App.Name))
	return nil
}

// context attaches the logger to ctx
func (a *app) context(ctx context.Context) context.Context {
	return logger.WithContext(ctx, a.log)
}

// openDatabase connects to the catalog database without migrating it
func (a *app) openDatabase() (*persistence.Database, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	if a.db != nil {
		return a.db, nil
	}
	if !a.cfg.Catalog.Enabled {
		return nil, errCatalogDisabled
	}
	db, err := persistence.NewDatabase(&a.cfg.Catalog, a.log)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

// migrator creates a schema migrator on the catalog connection
func (a *app) migrator() (*migration.Migrator, error) {
	db, err := a.openDatabase()
	if err != nil {
		return nil, err
	}
	return migration.New(db.Conn(), db.Driver, a.log)
}

// catalogRepo returns the catalog, migrating the schema first when
// catalog.auto_migrate is set. A disabled catalog yields nil.
func (a *app) catalogRepo() (*persistence.GormCatalogRepository, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	if a.catalog != nil || !a.cfg.Catalog.Enabled {
		return a.catalog, nil
	}
	db, err := a.openDatabase()
	if err != nil {
		return nil, err
	}
	if a.cfg.Catalog.AutoMigrate {
		m, err := a.migrator()
		if err != nil {
			return nil, err
		}
		err = m.Up()
		_ = m.Close()
		if err != nil {
			return nil, err
		}
	}
	a.catalog = persistence.NewGormCatalogRepository(db.DB)
	return a.catalog, nil
}

// requireCatalog is catalogRepo for commands that cannot run without it
func (a *app) requireCatalog() (*persistence.GormCatalogRepository, error) {
	repo, err := a.catalogRepo()
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, errCatalogDisabled
	}
	return repo, nil
}

// sources builds the URI resolver. S3 is optional; without a usable AWS
// configuration s3:// URIs fail with storage.ErrNoS3.
func (a *app) sources(ctx context.Context) (*storage.Resolver, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	if a.resolver != nil {
		return a.resolver, nil
	}
	s3src, err := storage.NewS3Source(ctx, &a.cfg.Storage, storage.WithLogger(a.log))
	if err != nil {
		a.log.Warn("S3 source unavailable", zap.Error(err))
		s3src = nil
	}
	a.resolver = storage.NewResolver(storage.NewLocalSource(a.cfg.Storage.Root), s3src)
	return a.resolver, nil
}

// readerRegistry builds the readers from the reader section
func (a *app) readerRegistry() (*reader.Registry, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	if a.readers == nil {
		a.readers = reader.DefaultRegistry(reader.Options{
			Encoding:         a.cfg.Reader.Encoding,
			DecimalSeparator: reader.ParseDecimalSeparator(a.cfg.Reader.DecimalSeparator),
			MaxErrors:        a.cfg.Reader.MaxErrors,
		})
	}
	return a.readers, nil
}

// normalizer builds the normalizer from the normalize section
func (a *app) normalizer() (*normalize.Normalizer, error) {
	if err := a.load(); err != nil {
		return nil, err
	}
	if a.norm == nil {
		n, err := normalize.New(
			normalize.WithAliases(a.cfg.Normalize.Aliases),
			normalize.WithKeepUnmapped(a.cfg.Normalize.KeepUnmapped),
			normalize.WithComputed(a.cfg.Normalize.Computed),
		)
		if err != nil {
			return nil, fmt.Errorf("invalid normalize configuration: %w", err)
		}
		a.norm = n
	}
	return a.norm, nil
}

// ingestService wires the import pipeline. workers > 0 overrides the
// configured pool size.
func (a *app) ingestService(ctx context.Context, workers int, skipExisting bool) (*ingest.Service, error) {
	resolver, err := a.sources(ctx)
	if err != nil {
		return nil, err
	}
	readers, err := a.readerRegistry()
	if err != nil {
		return nil, err
	}
	norm, err := a.normalizer()
	if err != nil {
		return nil, err
	}
	repo, err := a.catalogRepo()
	if err != nil {
		return nil, err
	}
	if a.store == nil {
		a.store = memstore.New()
	}

	pool := scheduler.Config{
		MaxConcurrentJobs: a.cfg.Ingest.MaxWorkers,
		JobTimeout:        a.cfg.Ingest.JobTimeout,
		RetryAttempts:     a.cfg.Ingest.RetryAttempts,
		RetryDelay:        a.cfg.Ingest.RetryDelay,
	}
	if workers > 0 {
		pool.MaxConcurrentJobs = workers
	}

	opts := []ingest.ServiceOption{
		ingest.WithPool(pool),
		ingest.WithSkipExisting(skipExisting),
		ingest.WithLogger(a.log),
	}
	if repo != nil {
		opts = append(opts, ingest.WithCatalog(repo))
	}
	return ingest.NewService(resolver, readers, norm, a.store, opts...), nil
}

// analysisParams converts the analysis section. A non-nil limit overrides
// the configured limiting potential. Invalid parameters are usage errors.
func (a *app) analysisParams(limit *float64) (analysis.Params, error) {
	p := analysis.Params{
		EISModel:           a.cfg.Analysis.EISModel,
		MaxIterations:      a.cfg.Analysis.MaxIterations,
		Diffusivity:        a.cfg.Analysis.Diffusivity,
		KinematicViscosity: a.cfg.Analysis.KinematicViscosity,
		Concentration:      a.cfg.Analysis.Concentration,
		Temperature:        a.cfg.Analysis.Temperature,
		LimitingPotential:  a.cfg.Analysis.LimitingPotential,
	}
	if limit != nil {
		p.LimitingPotential = limit
	}
	if err := p.Validate(); err != nil {
		return p, &usageError{err: err}
	}
	return p, nil
}

// measurements returns the stored measurements for ids in order
func (a *app) measurements(ctx context.Context, ids []uuid.UUID) ([]*measurement.Measurement, error) {
	out := make([]*measurement.Measurement, 0, len(ids))
	for _, id := range ids {
		m, err := a.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// close releases the database and flushes the logger
func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil && a.log != nil {
			a.log.Warn("Failed to close catalog", zap.Error(err))
		}
		a.db = nil
	}
	if a.log != nil {
		logger.Sync(a.log)
	}
}
