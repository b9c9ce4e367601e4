package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/shared"
)

// Ensure LocalSource implements Source
var _ Source = (*LocalSource)(nil)

// LocalSource reads raw files from the filesystem. Relative keys are taken
// relative to the root directory.
type LocalSource struct {
	root string
}

// NewLocalSource creates a LocalSource rooted at root ("" means the working directory)
func NewLocalSource(root string) *LocalSource {
	if root == "" {
		root = "."
	}
	return &LocalSource{root: root}
}

func (s *LocalSource) path(key string) string {
	if filepath.IsAbs(key) {
		return filepath.Clean(key)
	}
	return filepath.Join(s.root, key)
}

// FileURI returns the file:// URI of a path. Reserved characters in the path
// are percent-encoded so ParseURI returns the same path.
func FileURI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	path = filepath.ToSlash(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return (&url.URL{Scheme: SchemeFile, Path: path}).String()
}

func (s *LocalSource) object(path string, info fs.FileInfo) Object {
	return Object{
		Key:     path,
		URI:     FileURI(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}

// Open opens a file
func (s *LocalSource) Open(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, Object{}, err
	}
	if key == "" {
		return nil, Object{}, fmt.Errorf("%w: file path is required", shared.ErrInvalidInput)
	}
	p := s.path(key)
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Object{}, fmt.Errorf("%w: %s", shared.ErrNotFound, p)
		}
		return nil, Object{}, fmt.Errorf("failed to open %s: %w", p, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Object{}, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, Object{}, fmt.Errorf("%w: %s is a directory", shared.ErrInvalidInput, p)
	}
	return f, s.object(p, info), nil
}

// List returns the regular files matching a glob, inside a directory (recursively)
// or the single file named by pattern. A path that does not exist yields nothing.
func (s *LocalSource) List(ctx context.Context, pattern string) ([]Object, error) {
	p := s.path(pattern)

	var paths []string
	if strings.ContainsAny(pattern, "*?[") {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}
		paths = matches
	} else {
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if !info.IsDir() {
			return []Object{s.object(p, info)}, nil
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if strings.HasPrefix(d.Name(), ".") && path != p {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	out := make([]Object, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		out = append(out, s.object(path, info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
