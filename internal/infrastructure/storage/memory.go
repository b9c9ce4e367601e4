package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

// Ensure MemorySource implements Source
var _ Source = (*MemorySource)(nil)

// MemorySource keeps raw files in memory. It serves piped input and tests,
// and can be told to fail the next reads of a key.
type MemorySource struct {
	mu       sync.RWMutex
	objects  map[string]memObject
	failures map[string]failure
}

type memObject struct {
	data    []byte
	modTime time.Time
}

type failure struct {
	remaining int
	err       error
}

// NewMemorySource creates an empty MemorySource
func NewMemorySource() *MemorySource {
	return &MemorySource{
		objects:  make(map[string]memObject),
		failures: make(map[string]failure),
	}
}

// Put stores data under key
func (s *MemorySource) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memObject{data: append([]byte(nil), data...), modTime: time.Now()}
}

// FailNext makes the next n opens of key return err
func (s *MemorySource) FailNext(key string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key] = failure{remaining: n, err: err}
}

// Open returns a reader over the stored bytes
func (s *MemorySource) Open(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, Object{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.failures[key]; ok && f.remaining > 0 {
		f.remaining--
		s.failures[key] = f
		return nil, Object{}, f.err
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, Object{}, fmt.Errorf("%w: %s", shared.ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), s.describe(key, obj), nil
}

func (s *MemorySource) describe(key string, obj memObject) Object {
	return Object{
		Key:     key,
		URI:     SchemeMem + "://" + key,
		Size:    int64(len(obj.data)),
		ModTime: obj.modTime,
	}
}

// List returns the objects whose key starts with prefix, sorted by key
func (s *MemorySource) List(ctx context.Context, prefix string) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Object, 0)
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, s.describe(key, obj))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
