package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/application/normalize"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/memstore"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/reader"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/scheduler"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/storage"
)

const cyclingCSV = `# sample: LFP-01
# operator: jdoe
time/s,voltage/V,current/mA
0,3.30,1.0
10,3.35,1.0
20,3.40,1.0
30,3.45,1.0
`

// MockCatalog is a mock implementation of measurement.CatalogRepository
type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Save(ctx context.Context, s *measurement.Summary) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockCatalog) FindByID(ctx context.Context, id uuid.UUID) (*measurement.Summary, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*measurement.Summary), args.Error(1)
}

func (m *MockCatalog) FindByChecksum(ctx context.Context, checksum string) (*measurement.Summary, error) {
	args := m.Called(ctx, checksum)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*measurement.Summary), args.Error(1)
}

func (m *MockCatalog) FindAll(ctx context.Context, filter measurement.Filter) ([]measurement.Summary, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]measurement.Summary), args.Error(1)
}

func (m *MockCatalog) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockCatalog) SaveResult(ctx context.Context, r *measurement.AnalysisRecord) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockCatalog) ResultsFor(ctx context.Context, measurementID uuid.UUID) ([]measurement.AnalysisRecord, error) {
	args := m.Called(ctx, measurementID)
	return args.Get(0).([]measurement.AnalysisRecord), args.Error(1)
}

type fixture struct {
	mem   *storage.MemorySource
	store *memstore.Store
	svc   *Service
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	mem := storage.NewMemorySource()
	store := memstore.New()
	norm, err := normalize.New()
	require.NoError(t, err)

	pool := scheduler.Config{
		MaxConcurrentJobs: 2,
		JobTimeout:        5 * time.Second,
		RetryAttempts:     2,
		RetryDelay:        time.Millisecond,
	}
	opts = append([]ServiceOption{WithPool(pool), WithLogger(zaptest.NewLogger(t))}, opts...)
	svc := NewService(
		storage.NewResolver(nil, nil).WithMemory(mem),
		reader.DefaultRegistry(reader.DefaultOptions()),
		norm,
		store,
		opts...,
	)
	return &fixture{mem: mem, store: store, svc: svc}
}

func checksumOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestService_ImportOne(t *testing.T) {
	f := newFixture(t)
	f.mem.Put("runs/cell1.csv", []byte(cyclingCSV))
	ctx := context.Background()

	res, err := f.svc.ImportOne(ctx, "mem://runs/cell1.csv", Options{
		Normalize: normalize.Options{Tags: []string{"Batch-7"}},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusImported, res.Status)
	assert.Equal(t, StageDone, res.Stage)
	assert.Equal(t, "mem://runs/cell1.csv", res.URI)
	assert.Equal(t, "delimited", res.Reader)
	assert.Equal(t, checksumOf(cyclingCSV), res.Checksum)
	assert.Equal(t, 4, res.Points)
	assert.Equal(t, 1, res.Attempts)
	assert.NotEqual(t, uuid.Nil, res.MeasurementID)

	m, err := f.store.Get(ctx, res.MeasurementID)
	require.NoError(t, err)
	assert.Equal(t, "LFP-01", m.Metadata.SampleName)
	assert.Equal(t, "mem://runs/cell1.csv", m.Provenance.SourceURI)
	assert.Equal(t, checksumOf(cyclingCSV), m.Provenance.Checksum)
	assert.Equal(t, int64(len(cyclingCSV)), m.Provenance.Size)
	assert.True(t, m.HasTag("batch-7"))
	assert.Equal(t, []float64{0.001, 0.001, 0.001, 0.001}, m.Values(measurement.QuantityCurrent))

	t.Run("same content is skipped", func(t *testing.T) {
		f.mem.Put("runs/copy.csv", []byte(cyclingCSV))
		res2, err := f.svc.ImportOne(ctx, "mem://runs/copy.csv", Options{})
		require.NoError(t, err)
		assert.Equal(t, StatusSkipped, res2.Status)
		assert.Equal(t, res.MeasurementID, res2.MeasurementID)
		assert.Equal(t, 1, f.store.Len())
	})
}

func TestService_ImportOneFailures(t *testing.T) {
	f := newFixture(t)
	f.mem.Put("blob.bin", []byte{0x00, 0x01, 0x02})
	f.mem.Put("empty.csv", nil)
	f.mem.Put("cell.csv", []byte(cyclingCSV))
	ctx := context.Background()

	tests := []struct {
		name    string
		uri     string
		opts    Options
		stage   Stage
		wantErr error
	}{
		{name: "missing file", uri: "mem://nope.csv", stage: StageOpen, wantErr: shared.ErrNotFound},
		{name: "unknown format", uri: "mem://blob.bin", stage: StageDetect, wantErr: reader.ErrUnknownFormat},
		{name: "empty file", uri: "mem://empty.csv", stage: StageRead, wantErr: reader.ErrEmptyFile},
		{name: "unknown reader", uri: "mem://cell.csv", opts: Options{Reader: "solartron"}, stage: StageDetect, wantErr: shared.ErrNotFound},
		{name: "s3 not configured", uri: "s3://lab/x.csv", stage: StageOpen, wantErr: storage.ErrNoS3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.ImportOne(ctx, tt.uri, tt.opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.False(t, scheduler.IsPermanent(err), "permanent marker must not leak")
			require.NotNil(t, res)
			assert.Equal(t, StatusFailed, res.Status)
			assert.Equal(t, tt.stage, res.Stage)
			assert.NotEmpty(t, res.Error)
		})
	}
	assert.Equal(t, 0, f.store.Len())
}

func TestService_ImportBatch(t *testing.T) {
	f := newFixture(t)
	f.mem.Put("batch/a.csv", []byte(cyclingCSV))
	f.mem.Put("batch/b.csv", []byte(cyclingCSV+"40,3.50,1.0\n"))
	f.mem.Put("batch/broken.csv", nil)
	f.mem.Put("batch/flaky.csv", []byte(cyclingCSV+"40,3.50,1.0\n50,3.55,1.0\n"))
	f.mem.FailNext("batch/flaky.csv", 2, errors.New("connection reset by peer"))
	f.mem.Put("down.csv", []byte(cyclingCSV+"40,3.6,1.0\n"))
	f.mem.FailNext("down.csv", 10, errors.New("service unavailable"))

	batch, err := f.svc.ImportBatch(context.Background(), []string{"mem://batch/", "mem://down.csv"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 5, batch.Total)
	assert.Equal(t, 3, batch.Imported)
	assert.Equal(t, 0, batch.Skipped)
	assert.Equal(t, 2, batch.Failed)
	assert.Equal(t, 3, f.store.Len())

	byURI := make(map[string]FileResult)
	for _, r := range batch.Files {
		byURI[r.URI] = r
	}
	assert.Equal(t, []string{
		"mem://batch/a.csv", "mem://batch/b.csv", "mem://batch/broken.csv", "mem://batch/flaky.csv", "mem://down.csv",
	}, []string{batch.Files[0].URI, batch.Files[1].URI, batch.Files[2].URI, batch.Files[3].URI, batch.Files[4].URI})

	flaky := byURI["mem://batch/flaky.csv"]
	assert.Equal(t, StatusImported, flaky.Status)
	assert.Equal(t, 3, flaky.Attempts)
	assert.Empty(t, flaky.Error)

	broken := byURI["mem://batch/broken.csv"]
	assert.Equal(t, StatusFailed, broken.Status)
	assert.Equal(t, 1, broken.Attempts)
	assert.ErrorIs(t, broken.Err, reader.ErrEmptyFile)

	down := byURI["mem://down.csv"]
	assert.Equal(t, StatusFailed, down.Status)
	assert.Equal(t, 3, down.Attempts)
	assert.Contains(t, down.Error, "service unavailable")

	assert.Len(t, batch.Errors(), 2)
	assert.Len(t, batch.MeasurementIDs(), 3)
}

func TestService_ImportBatchDuplicates(t *testing.T) {
	f := newFixture(t)
	f.mem.Put("one.csv", []byte(cyclingCSV))

	first, err := f.svc.ImportBatch(context.Background(), []string{"mem://one.csv"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Imported)

	second, err := f.svc.ImportBatch(context.Background(), []string{"mem://one.csv"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, first.Files[0].MeasurementID, second.Files[0].MeasurementID)
}

func TestService_ImportBatchIdenticalFiles(t *testing.T) {
	f := newFixture(t)
	f.mem.Put("twins/a.csv", []byte(cyclingCSV))
	f.mem.Put("twins/b.csv", []byte(cyclingCSV))

	batch, err := f.svc.ImportBatch(context.Background(), []string{"mem://twins/"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, batch.Total)
	assert.Equal(t, 1, batch.Imported)
	assert.Equal(t, 1, batch.Skipped)
	assert.Equal(t, 0, batch.Failed)
	assert.Empty(t, batch.Errors())
	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, batch.Files[0].MeasurementID, batch.Files[1].MeasurementID)
}

// staleStore misses the first lookups, as when an identical file is stored
// between the dedupe check and Add
type staleStore struct {
	*memstore.Store
	misses atomic.Int32
}

func (s *staleStore) FindByChecksum(ctx context.Context, checksum string) (*measurement.Measurement, error) {
	if s.misses.Add(-1) >= 0 {
		return nil, fmt.Errorf("%w: checksum %s", shared.ErrNotFound, checksum)
	}
	return s.Store.FindByChecksum(ctx, checksum)
}

func TestService_DuplicateOnStoreIsSkipped(t *testing.T) {
	mem := storage.NewMemorySource()
	mem.Put("twins/a.csv", []byte(cyclingCSV))
	mem.Put("twins/b.csv", []byte(cyclingCSV))
	store := &staleStore{Store: memstore.New()}
	store.misses.Store(2)
	norm, err := normalize.New()
	require.NoError(t, err)

	svc := NewService(
		storage.NewResolver(nil, nil).WithMemory(mem),
		reader.DefaultRegistry(reader.DefaultOptions()),
		norm,
		store,
		WithPool(scheduler.Config{MaxConcurrentJobs: 1, JobTimeout: 5 * time.Second, RetryAttempts: 2, RetryDelay: time.Millisecond}),
		WithLogger(zaptest.NewLogger(t)),
	)

	batch, err := svc.ImportBatch(context.Background(), []string{"mem://twins/"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Imported)
	assert.Equal(t, 1, batch.Skipped)
	assert.Equal(t, 0, batch.Failed)
	skipped := batch.Files[1]
	assert.Equal(t, StatusSkipped, skipped.Status)
	assert.Equal(t, "already loaded", skipped.Reason)
	assert.Equal(t, 1, skipped.Attempts)
	assert.Equal(t, batch.Files[0].MeasurementID, skipped.MeasurementID)
	assert.Equal(t, 1, store.Len())
}

func TestService_ImportBatchCancelled(t *testing.T) {
	f := newFixture(t)
	uris := make([]string, 4)
	for i := range uris {
		f.mem.Put(fmt.Sprintf("c/%d.csv", i), []byte(cyclingCSV+fmt.Sprintf("99,3.%d,1.0\n", i)))
		uris[i] = fmt.Sprintf("mem://c/%d.csv", i)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch, err := f.svc.ImportBatch(ctx, uris, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, batch)
	assert.Equal(t, 4, batch.Failed)
	for _, r := range batch.Files {
		assert.Equal(t, 0, r.Attempts)
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestService_ImportBatchExpandError(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ImportBatch(context.Background(), []string{"ftp://host/x"}, Options{})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestService_Catalog(t *testing.T) {
	ctx := context.Background()
	checksum := checksumOf(cyclingCSV)

	t.Run("new files are saved", func(t *testing.T) {
		catalog := new(MockCatalog)
		catalog.On("FindByChecksum", mock.Anything, checksum).Return(nil, shared.ErrNotFound)
		catalog.On("Save", mock.Anything, mock.MatchedBy(func(s *measurement.Summary) bool {
			return s.Provenance.Checksum == checksum && s.Points == 4 && s.Metadata.SampleName == "LFP-01"
		})).Return(nil)

		f := newFixture(t, WithCatalog(catalog))
		f.mem.Put("cell.csv", []byte(cyclingCSV))

		res, err := f.svc.ImportOne(ctx, "mem://cell.csv", Options{})
		require.NoError(t, err)
		assert.Equal(t, StatusImported, res.Status)
		assert.False(t, res.Replaced)
		catalog.AssertExpectations(t)
	})

	t.Run("catalogued files are skipped", func(t *testing.T) {
		existing := &measurement.Summary{ID: uuid.New()}
		catalog := new(MockCatalog)
		catalog.On("FindByChecksum", mock.Anything, checksum).Return(existing, nil)

		f := newFixture(t, WithCatalog(catalog), WithSkipExisting(true))
		f.mem.Put("cell.csv", []byte(cyclingCSV))

		res, err := f.svc.ImportOne(ctx, "mem://cell.csv", Options{})
		require.NoError(t, err)
		assert.Equal(t, StatusSkipped, res.Status)
		assert.Equal(t, existing.ID, res.MeasurementID)
		assert.Equal(t, 0, f.store.Len())
		catalog.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("re-import keeps the catalogued id", func(t *testing.T) {
		existing := &measurement.Summary{ID: uuid.New()}
		catalog := new(MockCatalog)
		catalog.On("FindByChecksum", mock.Anything, checksum).Return(existing, nil)
		catalog.On("Save", mock.Anything, mock.Anything).Return(nil)

		f := newFixture(t, WithCatalog(catalog))
		f.mem.Put("cell.csv", []byte(cyclingCSV))

		res, err := f.svc.ImportOne(ctx, "mem://cell.csv", Options{})
		require.NoError(t, err)
		assert.Equal(t, StatusImported, res.Status)
		assert.True(t, res.Replaced)
		assert.Equal(t, existing.ID, res.MeasurementID)
		_, err = f.store.Get(ctx, existing.ID)
		assert.NoError(t, err)
	})

	t.Run("save failure leaves the store unchanged", func(t *testing.T) {
		catalog := new(MockCatalog)
		catalog.On("FindByChecksum", mock.Anything, checksum).Return(nil, shared.ErrNotFound)
		catalog.On("Save", mock.Anything, mock.Anything).Return(errors.New("database is locked"))

		f := newFixture(t, WithCatalog(catalog))
		f.mem.Put("cell.csv", []byte(cyclingCSV))

		res, err := f.svc.ImportOne(ctx, "mem://cell.csv", Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database is locked")
		assert.Equal(t, StageStore, res.Stage)
		assert.Equal(t, 0, f.store.Len())
		assert.True(t, Retryable(err))
	})

	t.Run("lookup failure", func(t *testing.T) {
		catalog := new(MockCatalog)
		catalog.On("FindByChecksum", mock.Anything, checksum).Return(nil, errors.New("connection refused"))

		f := newFixture(t, WithCatalog(catalog))
		f.mem.Put("cell.csv", []byte(cyclingCSV))

		res, err := f.svc.ImportOne(ctx, "mem://cell.csv", Options{})
		require.Error(t, err)
		assert.Equal(t, StageDedupe, res.Stage)
	})
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", errors.New("connection reset"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"permanent", scheduler.Permanent(errors.New("bad file")), false},
		{"not found", fmt.Errorf("open: %w", shared.ErrNotFound), false},
		{"invalid input", shared.ErrInvalidInput, false},
		{"duplicate", memstore.ErrDuplicate, false},
		{"no s3", storage.ErrNoS3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
