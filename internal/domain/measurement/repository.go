package measurement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Filter narrows measurement listings. Zero fields match everything.
type Filter struct {
	Technique  Technique
	SampleName string
	Tag        string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Repository holds full measurements, channels included
type Repository interface {
	Add(ctx context.Context, m *Measurement) error
	Get(ctx context.Context, id uuid.UUID) (*Measurement, error)
	FindByChecksum(ctx context.Context, checksum string) (*Measurement, error)
	Remove(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter Filter) ([]*Measurement, error)
}

// Summary is the persisted, channel-free view of a measurement
type Summary struct {
	ID         uuid.UUID     `json:"id"`
	Metadata   Metadata      `json:"metadata"`
	Provenance Provenance    `json:"provenance"`
	Tags       []string      `json:"tags,omitempty"`
	Points     int           `json:"points"`
	Channels   []ChannelInfo `json:"channels"`
	CreatedAt  time.Time     `json:"created_at"`
}

// AnalysisRecord is a stored analyzer result
type AnalysisRecord struct {
	ID            uuid.UUID       `json:"id"`
	MeasurementID uuid.UUID       `json:"measurement_id"`
	Analyzer      string          `json:"analyzer"`
	Technique     Technique       `json:"technique"`
	Result        json.RawMessage `json:"result"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CatalogRepository persists summaries and analysis results across runs
type CatalogRepository interface {
	Save(ctx context.Context, s *Summary) error
	FindByID(ctx context.Context, id uuid.UUID) (*Summary, error)
	FindByChecksum(ctx context.Context, checksum string) (*Summary, error)
	FindAll(ctx context.Context, filter Filter) ([]Summary, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SaveResult(ctx context.Context, r *AnalysisRecord) error
	ResultsFor(ctx context.Context, measurementID uuid.UUID) ([]AnalysisRecord, error)
}
