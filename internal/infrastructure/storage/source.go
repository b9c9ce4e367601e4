// Package storage opens raw instrument files from the local filesystem or
// from an S3-compatible archive.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

// URI schemes understood by the resolver
const (
	SchemeFile = "file"
	SchemeS3   = "s3"
	SchemeMem  = "mem"
)

// ErrNoS3 is returned for s3:// URIs when no S3 source is configured
var ErrNoS3 = errors.New("s3 storage is not configured")

// Object describes a raw file in a source
type Object struct {
	Key     string
	URI     string
	Size    int64
	ModTime time.Time
}

// Source opens and lists raw files
type Source interface {
	// Open returns the content of key. The caller closes the reader.
	Open(ctx context.Context, key string) (io.ReadCloser, Object, error)
	// List returns the objects below prefix (or matching a glob for local sources)
	List(ctx context.Context, prefix string) ([]Object, error)
}

// Location is a parsed source URI
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

// ParseURI splits "s3://bucket/key", "file:///path", "mem://key" or a plain path
func ParseURI(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("%w: empty source URI", shared.ErrInvalidInput)
	}
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || len(scheme) == 1 {
		// plain path (a one-letter scheme is a Windows drive)
		return Location{Scheme: SchemeFile, Key: raw}, nil
	}
	switch strings.ToLower(scheme) {
	case SchemeS3:
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Location{}, fmt.Errorf("%w: %q has no bucket", shared.ErrInvalidInput, raw)
		}
		return Location{Scheme: SchemeS3, Bucket: bucket, Key: key}, nil
	case SchemeFile:
		u, err := url.Parse(raw)
		if err != nil {
			return Location{}, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}
		return Location{Scheme: SchemeFile, Key: filepath.FromSlash(u.Path)}, nil
	case SchemeMem:
		return Location{Scheme: SchemeMem, Key: rest}, nil
	default:
		return Location{}, fmt.Errorf("%w: unsupported scheme %q", shared.ErrInvalidInput, scheme)
	}
}

// Resolver maps URIs onto configured sources
type Resolver struct {
	local *LocalSource
	mem   *MemorySource
	s3    *S3Source

	mu      sync.Mutex
	buckets map[string]*S3Source
}

// NewResolver creates a resolver. s3 may be nil when no archive is configured.
func NewResolver(local *LocalSource, s3 *S3Source) *Resolver {
	return &Resolver{local: local, s3: s3, buckets: make(map[string]*S3Source)}
}

// WithMemory routes mem:// URIs to an in-memory source
func (r *Resolver) WithMemory(m *MemorySource) *Resolver {
	r.mem = m
	return r
}

// Resolve returns the source holding uri and the key within it
func (r *Resolver) Resolve(uri string) (Source, string, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, "", err
	}
	switch loc.Scheme {
	case SchemeS3:
		if r.s3 == nil {
			return nil, "", ErrNoS3
		}
		return r.bucket(loc.Bucket), loc.Key, nil
	case SchemeMem:
		if r.mem == nil {
			return nil, "", fmt.Errorf("%w: no in-memory source", shared.ErrInvalidInput)
		}
		return r.mem, loc.Key, nil
	default:
		if r.local == nil {
			return nil, "", fmt.Errorf("%w: no local source", shared.ErrInvalidInput)
		}
		return r.local, loc.Key, nil
	}
}

func (r *Resolver) bucket(name string) *S3Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.buckets[name]; ok {
		return s
	}
	s := r.s3.WithBucket(name)
	r.buckets[name] = s
	return s
}

// Open resolves and opens uri in one step
func (r *Resolver) Open(ctx context.Context, uri string) (io.ReadCloser, Object, error) {
	src, key, err := r.Resolve(uri)
	if err != nil {
		return nil, Object{}, err
	}
	return src.Open(ctx, key)
}

// Expand turns directory, prefix and glob URIs into object URIs. Object
// store keys name a prefix only when they end in "/"; other URIs that name a
// single object are returned unchanged.
func (r *Resolver) Expand(ctx context.Context, uris []string) ([]string, error) {
	out := make([]string, 0, len(uris))
	for _, uri := range uris {
		loc, err := ParseURI(uri)
		if err != nil {
			return nil, err
		}
		if loc.Scheme != SchemeFile && loc.Key != "" && !strings.HasSuffix(loc.Key, "/") {
			out = append(out, uri)
			continue
		}
		src, key, err := r.Resolve(uri)
		if err != nil {
			return nil, err
		}
		objs, err := src.List(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", uri, err)
		}
		if len(objs) == 0 {
			out = append(out, uri)
			continue
		}
		for _, o := range objs {
			out = append(out, o.URI)
		}
	}
	return out, nil
}
