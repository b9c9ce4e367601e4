package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
)

// AnalysisResultModel is the persistence model for a stored analyzer result
type AnalysisResultModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primary_key"`
	MeasurementID uuid.UUID `gorm:"type:uuid;not null;index"`
	Analyzer      string    `gorm:"type:varchar(64);not null"`
	Technique     string    `gorm:"type:varchar(32);not null"`
	Result        string    `gorm:"type:text;not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (AnalysisResultModel) TableName() string {
	return "analysis_results"
}

// ToDomain converts the persistence model to a domain AnalysisRecord
func (m *AnalysisResultModel) ToDomain() measurement.AnalysisRecord {
	return measurement.AnalysisRecord{
		ID:            m.ID,
		MeasurementID: m.MeasurementID,
		Analyzer:      m.Analyzer,
		Technique:     measurement.Technique(m.Technique),
		Result:        json.RawMessage(m.Result),
		CreatedAt:     m.CreatedAt,
	}
}

// FromDomain populates the persistence model from a domain AnalysisRecord
func (m *AnalysisResultModel) FromDomain(r *measurement.AnalysisRecord) {
	m.ID = r.ID
	m.MeasurementID = r.MeasurementID
	m.Analyzer = r.Analyzer
	m.Technique = string(r.Technique)
	m.Result = string(r.Result)
	m.CreatedAt = r.CreatedAt.UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
}
