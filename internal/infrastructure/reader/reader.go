// Package reader parses instrument export files into raw tables.
package reader

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

// HeadSize is the number of leading bytes handed to Detect
const HeadSize = 4096

// ctxCheckInterval is how many rows are read between cancellation checks
const ctxCheckInterval = 1024

// Reader parses one instrument file format
type Reader interface {
	// Name returns the unique reader name
	Name() string
	// Detect reports whether the file looks like this format
	Detect(filename string, head []byte) bool
	// Read parses the whole file
	Read(ctx context.Context, r io.Reader) (*RawTable, error)
}

// Registry holds readers in detection order
type Registry struct {
	mu      sync.RWMutex
	readers []Reader
	byName  map[string]Reader
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Reader),
	}
}

// DefaultRegistry returns a registry with the BioLogic, Gamry and generic
// delimited readers. The delimited reader comes last as the fallback.
func DefaultRegistry(opts Options) *Registry {
	reg := NewRegistry()
	_ = reg.Register(NewBioLogicReader(opts))
	_ = reg.Register(NewGamryReader(opts))
	_ = reg.Register(NewDelimitedReader(opts))
	return reg
}

// Register appends a reader; earlier readers win detection
func (r *Registry) Register(rd Reader) error {
	if rd == nil {
		return fmt.Errorf("%w: reader cannot be nil", shared.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := rd.Name()
	if name == "" {
		return fmt.Errorf("%w: reader name cannot be empty", shared.ErrInvalidInput)
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: reader '%s' already registered", shared.ErrAlreadyExists, name)
	}

	r.readers = append(r.readers, rd)
	r.byName[name] = rd
	return nil
}

// Get returns a reader by name
func (r *Registry) Get(name string) (Reader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rd, ok := r.byName[name]
	return rd, ok
}

// Names returns the reader names in detection order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.readers))
	for i, rd := range r.readers {
		names[i] = rd.Name()
	}
	return names
}

// Detect returns the first reader that accepts the file
func (r *Registry) Detect(filename string, head []byte) (Reader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rd := range r.readers {
		if rd.Detect(filename, head) {
			return rd, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Base(filename))
}

// Resolve returns the named reader, or detects one when name is empty
func (r *Registry) Resolve(name, filename string, head []byte) (Reader, error) {
	if name == "" {
		return r.Detect(filename, head)
	}
	rd, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: reader '%s' not found", shared.ErrNotFound, name)
	}
	return rd, nil
}

func hasExtension(filename string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func checkContext(ctx context.Context, rows int) error {
	if rows%ctxCheckInterval != 0 {
		return nil
	}
	return ctx.Err()
}
