// Package memstore keeps normalized measurements in memory with secondary
// indexes by technique, sample name, tag and checksum.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/measurement"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

// ErrDuplicate is returned when a measurement ID or file checksum is already stored
var ErrDuplicate = fmt.Errorf("%w: duplicate measurement", shared.ErrAlreadyExists)

type idSet map[uuid.UUID]struct{}

func (s idSet) add(id uuid.UUID) { s[id] = struct{}{} }

// Store is a thread-safe in-memory measurement collection
type Store struct {
	mu          sync.RWMutex
	items       map[uuid.UUID]*measurement.Measurement
	byTechnique map[measurement.Technique]idSet
	bySample    map[string]idSet
	byTag       map[string]idSet
	byChecksum  map[string]uuid.UUID
}

// New creates an empty store
func New() *Store {
	return &Store{
		items:       make(map[uuid.UUID]*measurement.Measurement),
		byTechnique: make(map[measurement.Technique]idSet),
		bySample:    make(map[string]idSet),
		byTag:       make(map[string]idSet),
		byChecksum:  make(map[string]uuid.UUID),
	}
}

func sampleKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func indexAdd[K comparable](index map[K]idSet, key K, id uuid.UUID) {
	set, ok := index[key]
	if !ok {
		set = make(idSet)
		index[key] = set
	}
	set.add(id)
}

func indexRemove[K comparable](index map[K]idSet, key K, id uuid.UUID) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

// Add stores a measurement. IDs and non-empty checksums must be unique.
func (s *Store) Add(ctx context.Context, m *measurement.Measurement) error {
	if m == nil {
		return fmt.Errorf("%w: nil measurement", shared.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[m.ID]; exists {
		return fmt.Errorf("%w: id %s", ErrDuplicate, m.ID)
	}
	checksum := m.Provenance.Checksum
	if checksum != "" {
		if other, exists := s.byChecksum[checksum]; exists {
			return fmt.Errorf("%w: checksum %s already stored as %s", ErrDuplicate, checksum, other)
		}
		s.byChecksum[checksum] = m.ID
	}

	s.items[m.ID] = m
	indexAdd(s.byTechnique, m.Metadata.Technique, m.ID)
	indexAdd(s.bySample, sampleKey(m.Metadata.SampleName), m.ID)
	for _, tag := range m.Tags {
		indexAdd(s.byTag, tag, m.ID)
	}
	return nil
}

// Get returns a measurement by ID
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*measurement.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: measurement %s", shared.ErrNotFound, id)
	}
	return m, nil
}

// FindByChecksum returns the measurement imported from a file with the given checksum
func (s *Store) FindByChecksum(ctx context.Context, checksum string) (*measurement.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byChecksum[checksum]
	if !ok {
		return nil, fmt.Errorf("%w: checksum %s", shared.ErrNotFound, checksum)
	}
	return s.items[id], nil
}

// Remove deletes a measurement and its index entries
func (s *Store) Remove(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.items[id]
	if !ok {
		return fmt.Errorf("%w: measurement %s", shared.ErrNotFound, id)
	}
	delete(s.items, id)
	if m.Provenance.Checksum != "" {
		delete(s.byChecksum, m.Provenance.Checksum)
	}
	indexRemove(s.byTechnique, m.Metadata.Technique, id)
	indexRemove(s.bySample, sampleKey(m.Metadata.SampleName), id)
	for _, tag := range m.Tags {
		indexRemove(s.byTag, tag, id)
	}
	return nil
}

// List returns the measurements matching the filter, ordered by start time
// then ID
func (s *Store) List(ctx context.Context, filter measurement.Filter) ([]*measurement.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.candidates(filter)
	out := make([]*measurement.Measurement, 0, len(candidates))
	for id := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m := s.items[id]
		if matches(m, filter) {
			out = append(out, m)
		}
	}
	sortMeasurements(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// candidates picks the smallest index set the filter allows
func (s *Store) candidates(filter measurement.Filter) idSet {
	var sets []idSet
	if filter.Technique != "" {
		sets = append(sets, s.byTechnique[filter.Technique])
	}
	if filter.SampleName != "" {
		sets = append(sets, s.bySample[sampleKey(filter.SampleName)])
	}
	if filter.Tag != "" {
		sets = append(sets, s.byTag[strings.ToLower(filter.Tag)])
	}
	if len(sets) == 0 {
		all := make(idSet, len(s.items))
		for id := range s.items {
			all.add(id)
		}
		return all
	}
	smallest := sets[0]
	for _, set := range sets[1:] {
		if len(set) < len(smallest) {
			smallest = set
		}
	}
	return smallest
}

func matches(m *measurement.Measurement, f measurement.Filter) bool {
	if f.Technique != "" && m.Metadata.Technique != f.Technique {
		return false
	}
	if f.SampleName != "" && sampleKey(m.Metadata.SampleName) != sampleKey(f.SampleName) {
		return false
	}
	if f.Tag != "" && !m.HasTag(f.Tag) {
		return false
	}
	if !f.Since.IsZero() && m.Metadata.StartTime.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && m.Metadata.StartTime.After(f.Until) {
		return false
	}
	return true
}

func sortMeasurements(ms []*measurement.Measurement) {
	sort.Slice(ms, func(i, j int) bool {
		a, b := ms[i].Metadata.StartTime, ms[j].Metadata.StartTime
		if !a.Equal(b) {
			return a.Before(b)
		}
		return ms[i].ID.String() < ms[j].ID.String()
	})
}

// Len returns the number of stored measurements
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// CountByTechnique returns how many measurements each technique has
func (s *Store) CountByTechnique() map[measurement.Technique]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[measurement.Technique]int, len(s.byTechnique))
	for t, set := range s.byTechnique {
		out[t] = len(set)
	}
	return out
}

// Snapshot returns every measurement in list order. The slice is a copy;
// the measurements are shared.
func (s *Store) Snapshot() []*measurement.Measurement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*measurement.Measurement, 0, len(s.items))
	for _, m := range s.items {
		out = append(out, m)
	}
	sortMeasurements(out)
	return out
}

// Ensure Store implements measurement.Repository
var _ measurement.Repository = (*Store)(nil)
