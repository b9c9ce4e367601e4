package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/persistence/models"
)

// Ensure GormCatalogRepository implements CatalogRepository
var _ measurement.CatalogRepository = (*GormCatalogRepository)(nil)

// GormCatalogRepository implements measurement.CatalogRepository using GORM
type GormCatalogRepository struct {
	db *gorm.DB
}

// NewGormCatalogRepository creates a new GormCatalogRepository
func NewGormCatalogRepository(db *gorm.DB) *GormCatalogRepository {
	return &GormCatalogRepository{db: db}
}

// translateError maps driver errors onto the shared domain errors
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return shared.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", shared.ErrAlreadyExists, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: measurement is not catalogued", shared.ErrNotFound)
	}
	return err
}

// Save inserts a summary or replaces the stored row with the same ID.
// A checksum already owned by another measurement is rejected.
func (r *GormCatalogRepository) Save(ctx context.Context, s *measurement.Summary) error {
	if s == nil || s.ID == uuid.Nil {
		return fmt.Errorf("%w: summary needs an ID", shared.ErrInvalidInput)
	}
	var model models.MeasurementModel
	if err := model.FromDomain(s); err != nil {
		return err
	}
	return translateError(r.db.WithContext(ctx).Save(&model).Error)
}

// FindByID finds a measurement summary by ID
func (r *GormCatalogRepository) FindByID(ctx context.Context, id uuid.UUID) (*measurement.Summary, error) {
	var model models.MeasurementModel
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain()
}

// FindByChecksum finds the summary of the file with the given SHA-256 checksum
func (r *GormCatalogRepository) FindByChecksum(ctx context.Context, checksum string) (*measurement.Summary, error) {
	if checksum == "" {
		return nil, shared.ErrNotFound
	}
	var model models.MeasurementModel
	if err := r.db.WithContext(ctx).
		Where("checksum = ?", strings.ToLower(checksum)).
		First(&model).Error; err != nil {
		return nil, translateError(err)
	}
	return model.ToDomain()
}

// FindAll returns summaries matching the filter ordered by start time then ID
func (r *GormCatalogRepository) FindAll(ctx context.Context, filter measurement.Filter) ([]measurement.Summary, error) {
	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.MeasurementModel{}), filter).
		Order("start_time ASC, id ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []models.MeasurementModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}

	out := make([]measurement.Summary, 0, len(rows))
	for i := range rows {
		s, err := rows[i].ToDomain()
		if err != nil {
			return nil, fmt.Errorf("measurement %s: %w", rows[i].ID, err)
		}
		out = append(out, *s)
	}
	return out, nil
}

// Count returns the number of summaries matching the filter. Limit is ignored.
func (r *GormCatalogRepository) Count(ctx context.Context, filter measurement.Filter) (int64, error) {
	var n int64
	err := r.applyFilter(r.db.WithContext(ctx).Model(&models.MeasurementModel{}), filter).
		Count(&n).Error
	return n, translateError(err)
}

func (r *GormCatalogRepository) applyFilter(query *gorm.DB, filter measurement.Filter) *gorm.DB {
	if filter.Technique != "" {
		query = query.Where("technique = ?", string(filter.Technique))
	}
	if name := strings.TrimSpace(filter.SampleName); name != "" {
		query = query.Where("LOWER(sample_name) = ?", strings.ToLower(name))
	}
	if strings.TrimSpace(filter.Tag) != "" {
		query = query.Where("tags LIKE ?", models.TagPattern(filter.Tag))
	}
	if !filter.Since.IsZero() {
		query = query.Where("start_time >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query = query.Where("start_time <= ?", filter.Until.UTC())
	}
	return query
}

// Delete removes a summary together with its analysis results
func (r *GormCatalogRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("measurement_id = ?", id).
			Delete(&models.AnalysisResultModel{}).Error; err != nil {
			return translateError(err)
		}
		result := tx.Where("id = ?", id).Delete(&models.MeasurementModel{})
		if result.Error != nil {
			return translateError(result.Error)
		}
		if result.RowsAffected == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// SaveResult stores an analysis record for a catalogued measurement
func (r *GormCatalogRepository) SaveResult(ctx context.Context, rec *measurement.AnalysisRecord) error {
	if rec == nil || rec.MeasurementID == uuid.Nil {
		return fmt.Errorf("%w: analysis record needs a measurement ID", shared.ErrInvalidInput)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	var model models.AnalysisResultModel
	model.FromDomain(rec)
	return translateError(r.db.WithContext(ctx).Create(&model).Error)
}

// ResultsFor returns the analysis records of a measurement, oldest first
func (r *GormCatalogRepository) ResultsFor(ctx context.Context, measurementID uuid.UUID) ([]measurement.AnalysisRecord, error) {
	var rows []models.AnalysisResultModel
	if err := r.db.WithContext(ctx).
		Where("measurement_id = ?", measurementID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	out := make([]measurement.AnalysisRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}
