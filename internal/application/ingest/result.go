package ingest

import (
	"time"

	"github.com/google/uuid"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
)

// FileStatus is the outcome of importing one file
type FileStatus string

const (
	StatusImported FileStatus = "imported"
	StatusSkipped  FileStatus = "skipped"
	StatusFailed   FileStatus = "failed"
)

// Stage names the pipeline step a file reached
type Stage string

const (
	StageOpen      Stage = "open"
	StageDedupe    Stage = "dedupe"
	StageDetect    Stage = "detect"
	StageRead      Stage = "read"
	StageNormalize Stage = "normalize"
	StageStore     Stage = "store"
	StageDone      Stage = "done"
)

// FileResult reports the import of one file
type FileResult struct {
	URI           string                `json:"uri"`
	Status        FileStatus            `json:"status"`
	Stage         Stage                 `json:"stage"`
	MeasurementID uuid.UUID             `json:"measurement_id,omitempty"`
	Reader        string                `json:"reader,omitempty"`
	Technique     measurement.Technique `json:"technique,omitempty"`
	Checksum      string                `json:"checksum,omitempty"`
	Points        int                   `json:"points,omitempty"`
	Warnings      int                   `json:"warnings,omitempty"`
	Replaced      bool                  `json:"replaced,omitempty"`
	Reason        string                `json:"reason,omitempty"`
	Attempts      int                   `json:"attempts"`
	Duration      time.Duration         `json:"duration"`
	Error         string                `json:"error,omitempty"`
	Err           error                 `json:"-"`
}

func (r *FileResult) skip(id uuid.UUID, reason string) {
	r.Status = StatusSkipped
	r.Stage = StageDone
	r.MeasurementID = id
	r.Reason = reason
}

func (r *FileResult) fail(err error) {
	r.Status = StatusFailed
	r.Err = err
	if err != nil {
		r.Error = err.Error()
	}
}

// BatchResult summarizes a batch import. Files keep the order of the
// expanded URIs.
type BatchResult struct {
	Total    int          `json:"total"`
	Imported int          `json:"imported"`
	Skipped  int          `json:"skipped"`
	Failed   int          `json:"failed"`
	Files    []FileResult `json:"files"`
}

func (b *BatchResult) add(r FileResult) {
	b.Total++
	switch r.Status {
	case StatusImported:
		b.Imported++
	case StatusSkipped:
		b.Skipped++
	default:
		b.Failed++
	}
	b.Files = append(b.Files, r)
}

// Errors returns the failed files
func (b *BatchResult) Errors() []FileResult {
	var out []FileResult
	for _, f := range b.Files {
		if f.Status == StatusFailed {
			out = append(out, f)
		}
	}
	return out
}

// MeasurementIDs returns the IDs of imported and skipped files in order
func (b *BatchResult) MeasurementIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, b.Imported+b.Skipped)
	for _, f := range b.Files {
		if f.Status != StatusFailed && f.MeasurementID != uuid.Nil {
			out = append(out, f.MeasurementID)
		}
	}
	return out
}
