// Package analysis computes technique-specific quantities from normalized
// measurements: impedance fits, cycling capacities, RDE kinetics and
// sweep/step summaries.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/logger"
)

// Analyzer computes derived quantities for one family of techniques
type Analyzer interface {
	// Name returns the unique analyzer name
	Name() string
	// Description returns a human-readable description
	Description() string
	// Supports reports whether the analyzer handles the technique
	Supports(t measurement.Technique) bool
	// Analyze runs the analysis
	Analyze(ctx context.Context, m *measurement.Measurement, p Params) (Result, error)
}

// Result is the outcome of an analysis. Results marshal to JSON as is and
// describe themselves as a flat list of fields for text output.
type Result interface {
	Fields() []Field
}

// Tabular is implemented by results that carry a per-row table, such as
// per-cycle capacities
type Tabular interface {
	Table() (columns []string, rows [][]float64)
}

// Field is one named scalar of a result
type Field struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// baseAnalyzer carries the name and description shared by all analyzers
type baseAnalyzer struct {
	name        string
	description string
	techniques  []measurement.Technique
}

func newBaseAnalyzer(name, description string, techniques ...measurement.Technique) baseAnalyzer {
	return baseAnalyzer{name: name, description: description, techniques: techniques}
}

// Name returns the analyzer name
func (b baseAnalyzer) Name() string {
	return b.name
}

// Description returns the analyzer description
func (b baseAnalyzer) Description() string {
	return b.description
}

// Supports reports whether the analyzer handles the technique
func (b baseAnalyzer) Supports(t measurement.Technique) bool {
	for _, s := range b.techniques {
		if s == t {
			return true
		}
	}
	return false
}

// Report wraps a result with the measurement it was computed from
type Report struct {
	MeasurementID uuid.UUID             `json:"measurement_id"`
	SampleName    string                `json:"sample_name,omitempty"`
	Analyzer      string                `json:"analyzer"`
	Technique     measurement.Technique `json:"technique"`
	Result        Result                `json:"result"`
	CreatedAt     time.Time             `json:"created_at"`
}

// Record converts the report into a catalog record
func (r *Report) Record() (*measurement.AnalysisRecord, error) {
	payload, err := json.Marshal(r.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s result: %w", r.Analyzer, err)
	}
	return &measurement.AnalysisRecord{
		ID:            uuid.New(),
		MeasurementID: r.MeasurementID,
		Analyzer:      r.Analyzer,
		Technique:     r.Technique,
		Result:        payload,
		CreatedAt:     r.CreatedAt,
	}, nil
}

// Registry holds analyzers in registration order
type Registry struct {
	mu        sync.RWMutex
	analyzers []Analyzer
	byName    map[string]Analyzer
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Analyzer)}
}

// DefaultRegistry returns a registry with every built-in analyzer
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range []Analyzer{
		NewEISAnalyzer(),
		NewCyclingAnalyzer(),
		NewRDEAnalyzer(),
		NewSweepAnalyzer(),
	} {
		_ = r.Register(a)
	}
	return r
}

// Register adds an analyzer. Names must be unique.
func (r *Registry) Register(a Analyzer) error {
	if a == nil || a.Name() == "" {
		return fmt.Errorf("%w: analyzer must have a name", shared.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[a.Name()]; exists {
		return fmt.Errorf("%w: analyzer %s", shared.ErrAlreadyExists, a.Name())
	}
	r.analyzers = append(r.analyzers, a)
	r.byName[a.Name()] = a
	return nil
}

// Get returns an analyzer by name
func (r *Registry) Get(name string) (Analyzer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	return a, ok
}

// Names lists registered analyzer names sorted alphabetically
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// For returns the first analyzer supporting the technique
func (r *Registry) For(t measurement.Technique) (Analyzer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.analyzers {
		if a.Supports(t) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: no analyzer for technique %s", shared.ErrUnsupportedAnalysis, t)
}

// Run analyzes a measurement with the named analyzer, or the first one
// supporting its technique when name is empty
func (r *Registry) Run(ctx context.Context, m *measurement.Measurement, name string, p Params) (*Report, error) {
	var a Analyzer
	if name != "" {
		var ok bool
		if a, ok = r.Get(name); !ok {
			return nil, fmt.Errorf("%w: analyzer %s", shared.ErrNotFound, name)
		}
	} else {
		var err error
		if a, err = r.For(m.Metadata.Technique); err != nil {
			return nil, err
		}
	}

	log := logger.L(ctx).With(zap.String("analyzer", a.Name()))
	start := time.Now()
	result, err := a.Analyze(ctx, m, p.withDefaults())
	if err != nil {
		log.Warn("analysis failed", zap.Error(err))
		return nil, fmt.Errorf("%s: %w", a.Name(), err)
	}
	log.Debug("analysis completed", zap.Duration("elapsed", time.Since(start)))

	return &Report{
		MeasurementID: m.ID,
		SampleName:    m.Metadata.SampleName,
		Analyzer:      a.Name(),
		Technique:     m.Metadata.Technique,
		Result:        result,
		CreatedAt:     time.Now(),
	}, nil
}
