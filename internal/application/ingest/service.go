// Package ingest imports raw instrument files: it opens them from a source,
// detects the format, reads and normalizes them, and records the result in
// the dataset store and the catalog.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/application/normalize"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/logger"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/reader"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/scheduler"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/storage"
)

// Source opens raw files by URI and expands directory or prefix URIs
type Source interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, storage.Object, error)
	Expand(ctx context.Context, uris []string) ([]string, error)
}

// Ensure the storage resolver can serve as a Source
var _ Source = (*storage.Resolver)(nil)

// Options are the per-import settings
type Options struct {
	// Reader forces a reader by name; empty detects the format
	Reader string
	// Normalize carries metadata overrides and tags
	Normalize normalize.Options
}

// Service imports raw files
type Service struct {
	source       Source
	readers      *reader.Registry
	normalizer   *normalize.Normalizer
	store        measurement.Repository
	catalog      measurement.CatalogRepository
	pool         scheduler.Config
	skipExisting bool
	logger       *zap.Logger
	now          func() time.Time
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithCatalog records imported measurements in a persistent catalog
func WithCatalog(catalog measurement.CatalogRepository) ServiceOption {
	return func(s *Service) {
		s.catalog = catalog
	}
}

// WithPool sets the worker pool used by ImportBatch
func WithPool(cfg scheduler.Config) ServiceOption {
	return func(s *Service) {
		s.pool = cfg
	}
}

// WithSkipExisting skips files whose checksum is already catalogued instead
// of importing them again under the catalogued ID
func WithSkipExisting(skip bool) ServiceOption {
	return func(s *Service) {
		s.skipExisting = skip
	}
}

// WithLogger sets the logger used for batch progress
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a new ingestion service
func NewService(
	source Source,
	readers *reader.Registry,
	normalizer *normalize.Normalizer,
	store measurement.Repository,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		source:     source,
		readers:    readers,
		normalizer: normalizer,
		store:      store,
		pool:       scheduler.DefaultConfig(),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool.Retryable = Retryable
	return s
}

// ImportOne imports a single file without retries. The result is returned
// even when the import fails so callers can report the stage reached.
func (s *Service) ImportOne(ctx context.Context, uri string, opts Options) (*FileResult, error) {
	start := s.now()
	res, err := s.importFile(ctx, uri, opts)
	res.Attempts = 1
	res.Duration = s.now().Sub(start)
	if err != nil {
		res.fail(err)
		return res, unwrapPermanent(err)
	}
	return res, nil
}

// ImportBatch expands uris and imports every file on the worker pool. Job
// failures are reported per file; the error is non-nil only when the URIs
// cannot be expanded or ctx ends the batch early.
func (s *Service) ImportBatch(ctx context.Context, uris []string, opts Options) (*BatchResult, error) {
	files, err := s.source.Expand(ctx, uris)
	if err != nil {
		return nil, fmt.Errorf("failed to expand sources: %w", err)
	}

	jobs := make([]*scheduler.Job, len(files))
	index := make(map[uuid.UUID]int, len(files))
	results := make([]*FileResult, len(files))
	for i, uri := range files {
		jobs[i] = scheduler.NewJob(uri, s.pool.RetryAttempts)
		index[jobs[i].ID] = i
	}

	exec := scheduler.ExecutorFunc(func(ctx context.Context, job *scheduler.Job) error {
		ctx = logger.WithJobID(ctx, job.ID.String())
		res, err := s.importFile(ctx, job.Key, opts)
		results[index[job.ID]] = res
		return err
	})

	pool, err := scheduler.NewPool(s.pool, exec, s.logger)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Import started", zap.Int("files", len(files)), zap.Int("workers", s.pool.MaxConcurrentJobs))
	runErr := pool.Run(ctx, jobs)

	batch := &BatchResult{Files: make([]FileResult, 0, len(files))}
	for i, job := range jobs {
		res := results[i]
		if res == nil {
			res = &FileResult{URI: job.Key}
		}
		res.Attempts = job.RetryCount + 1
		res.Duration = job.Duration()
		switch job.Status {
		case scheduler.JobStatusSuccess:
		case scheduler.JobStatusCancelled:
			res.Attempts = 0
			res.fail(job.Err)
		default:
			res.fail(unwrapPermanent(job.Err))
		}
		batch.add(*res)
	}

	s.logger.Info("Import finished",
		zap.Int("imported", batch.Imported),
		zap.Int("skipped", batch.Skipped),
		zap.Int("failed", batch.Failed),
	)
	return batch, runErr
}

// importFile runs the pipeline for one file. Errors that a retry cannot fix
// are marked permanent.
func (s *Service) importFile(ctx context.Context, uri string, opts Options) (*FileResult, error) {
	ctx = logger.WithSource(ctx, uri)
	log := logger.L(ctx)
	res := &FileResult{URI: uri, Status: StatusFailed, Stage: StageOpen}

	rc, obj, err := s.source.Open(ctx, uri)
	if err != nil {
		return res, fmt.Errorf("failed to open %s: %w", uri, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return res, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	if obj.URI != "" {
		res.URI = obj.URI
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	res.Checksum = checksum

	res.Stage = StageDedupe
	if existing, err := s.store.FindByChecksum(ctx, checksum); err == nil {
		res.skip(existing.ID, "already loaded")
		log.Debug("File already loaded", zap.String("measurement_id", existing.ID.String()))
		return res, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return res, err
	}
	var replaceID uuid.UUID
	if s.catalog != nil {
		existing, err := s.catalog.FindByChecksum(ctx, checksum)
		switch {
		case err == nil && s.skipExisting:
			res.skip(existing.ID, "already catalogued")
			log.Debug("File already catalogued", zap.String("measurement_id", existing.ID.String()))
			return res, nil
		case err == nil:
			replaceID = existing.ID
		case !errors.Is(err, shared.ErrNotFound):
			return res, fmt.Errorf("catalog lookup failed: %w", err)
		}
	}

	res.Stage = StageDetect
	head := data
	if len(head) > reader.HeadSize {
		head = head[:reader.HeadSize]
	}
	rd, err := s.readers.Resolve(opts.Reader, obj.Key, head)
	if err != nil {
		return res, scheduler.Permanent(err)
	}
	res.Reader = rd.Name()

	res.Stage = StageRead
	tbl, err := rd.Read(ctx, bytes.NewReader(data))
	if err != nil {
		return res, permanentUnlessCancelled(ctx, err)
	}

	res.Stage = StageNormalize
	normOpts := opts.Normalize
	normOpts.Provenance = measurement.Provenance{
		SourceURI:  res.URI,
		Reader:     rd.Name(),
		Checksum:   checksum,
		Size:       int64(len(data)),
		ImportedAt: s.now().UTC(),
	}
	m, err := s.normalizer.Normalize(ctx, tbl, normOpts)
	if err != nil {
		return res, permanentUnlessCancelled(ctx, err)
	}
	if replaceID != uuid.Nil {
		m.WithID(replaceID)
	}
	ctx = logger.WithMeasurementID(ctx, m.ID.String())

	res.Stage = StageStore
	if err := s.store.Add(ctx, m); err != nil {
		// an identical file in the same batch may have been stored since the
		// dedupe check
		if errors.Is(err, shared.ErrAlreadyExists) {
			if existing, ferr := s.store.FindByChecksum(ctx, checksum); ferr == nil {
				res.skip(existing.ID, "already loaded")
				log.Debug("File loaded concurrently", zap.String("measurement_id", existing.ID.String()))
				return res, nil
			}
		}
		return res, scheduler.Permanent(err)
	}
	if s.catalog != nil {
		summary := m.Summary()
		if err := s.catalog.Save(ctx, &summary); err != nil {
			_ = s.store.Remove(ctx, m.ID)
			return res, fmt.Errorf("failed to save catalog entry: %w", err)
		}
	}

	res.Status = StatusImported
	res.Stage = StageDone
	res.MeasurementID = m.ID
	res.Technique = m.Metadata.Technique
	res.Points = m.Len()
	res.Warnings = len(m.Provenance.Warnings)
	res.Replaced = replaceID != uuid.Nil

	logger.L(ctx).Info("Measurement imported",
		zap.String("reader", res.Reader),
		zap.String("technique", res.Technique.String()),
		zap.Int("points", res.Points),
		zap.Int("warnings", res.Warnings),
		zap.Bool("replaced", res.Replaced),
	)
	return res, nil
}

func permanentUnlessCancelled(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	return scheduler.Permanent(err)
}

func unwrapPermanent(err error) error {
	if scheduler.IsPermanent(err) {
		return errors.Unwrap(err)
	}
	return err
}

// Retryable reports whether a failed import may succeed when tried again.
// Missing files, bad URIs and an unconfigured archive are final.
func Retryable(err error) bool {
	switch {
	case scheduler.IsPermanent(err):
		return false
	case errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrAlreadyExists),
		errors.Is(err, storage.ErrNoS3):
		return false
	}
	return true
}
