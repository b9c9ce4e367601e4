package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"
)

var migrationTemplate = template.Must(template.New("migration").Parse(`-- Migration: {{.Name}} ({{.Flavour}}{{if eq .Direction "DOWN"}}, rollback{{end}})
-- Created: {{.Timestamp}}
-- Description: {{.Description}}

-- Write your {{.Direction}} migration SQL here

`))

// Flavours lists the per-database subdirectories of a migrations tree
var Flavours = []string{"sqlite3", "postgres"}

// MigrationFile represents a migration file pair of one database flavour
type MigrationFile struct {
	Version     string
	Name        string
	Description string
	Timestamp   string
	Flavour     string
	UpPath      string
	DownPath    string
}

// CreateMigration writes an empty up/down pair for every flavour under root.
// The version is one above the highest version found in any flavour so the
// trees stay in lockstep.
func CreateMigration(root, name, description string) ([]*MigrationFile, error) {
	base := sanitizeName(name)
	if base == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", name)
	}

	next := 1
	for _, flavour := range Flavours {
		dir := filepath.Join(root, flavour)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create migrations directory: %w", err)
		}
		names, err := ListMigrations(os.DirFS(dir), ".")
		if err != nil {
			return nil, err
		}
		if v := highestVersion(names); v+1 > next {
			next = v + 1
		}
	}

	version := fmt.Sprintf("%06d", next)
	timestamp := time.Now().Format(time.RFC3339)

	created := make([]*MigrationFile, 0, len(Flavours))
	for _, flavour := range Flavours {
		dir := filepath.Join(root, flavour)
		baseName := version + "_" + base
		mf := &MigrationFile{
			Version:     version,
			Name:        name,
			Description: description,
			Timestamp:   timestamp,
			Flavour:     flavour,
			UpPath:      filepath.Join(dir, baseName+".up.sql"),
			DownPath:    filepath.Join(dir, baseName+".down.sql"),
		}

		if err := writeMigration(mf.UpPath, "UP", mf); err != nil {
			removeCreated(created)
			return nil, err
		}
		if err := writeMigration(mf.DownPath, "DOWN", mf); err != nil {
			_ = os.Remove(mf.UpPath)
			removeCreated(created)
			return nil, err
		}
		created = append(created, mf)
	}

	return created, nil
}

func removeCreated(files []*MigrationFile) {
	for _, mf := range files {
		_ = os.Remove(mf.UpPath)
		_ = os.Remove(mf.DownPath)
	}
}

// writeMigration renders one direction of mf to path. Existing files are
// never overwritten.
func writeMigration(path, direction string, mf *MigrationFile) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s migration: %w", strings.ToLower(direction), err)
	}
	defer f.Close()

	return migrationTemplate.Execute(f, struct {
		*MigrationFile
		Direction string
	}{mf, direction})
}

// sanitizeName lower-cases name and joins its words with underscores. Spaces,
// dashes and underscores separate words; other punctuation is dropped.
func sanitizeName(name string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	kept := words[:0]
	for _, w := range words {
		w = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, w)
		if w != "" {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, "_")
}

// highestVersion returns the largest numeric prefix among migration names
func highestVersion(names []string) int {
	highest := 0
	for _, n := range names {
		prefix, _, _ := strings.Cut(n, "_")
		if v, err := strconv.Atoi(prefix); err == nil && v > highest {
			highest = v
		}
	}
	return highest
}

// ListMigrations returns the sorted base names of the migrations in dir
func ListMigrations(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	migrations := make([]string, 0)
	seen := make(map[string]bool)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if baseName, ok := strings.CutSuffix(entry.Name(), ".up.sql"); ok && baseName != "" {
			if !seen[baseName] {
				seen[baseName] = true
				migrations = append(migrations, baseName)
			}
		}
	}

	sort.Strings(migrations)
	return migrations, nil
}

// Available lists the migrations embedded for a driver
func Available(driver string) ([]string, error) {
	dir, err := sourceDir(driver)
	if err != nil {
		return nil, err
	}
	return ListMigrations(migrationsFS, dir)
}
