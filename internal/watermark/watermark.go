// Package watermark persists the completion time of the last successful
// ingestion cycle.
package watermark

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store reads and writes the single watermark value. Read reports false when
// no watermark has been written yet.
type Store interface {
	Read() (time.Time, bool, error)
	Write(t time.Time) error
}

// File keeps the watermark as RFC 3339 text in a single file. It is only
// safe for a single process.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Read() (time.Time, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read watermark: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse watermark %q: %w", s, err)
	}
	return t.UTC(), true, nil
}

// Write replaces the file atomically via a temp file and rename.
func (f *File) Write(t time.Time) error {
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create watermark directory: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(t.UTC().Format(time.RFC3339Nano)+"\n"), 0644); err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// RowStore is the subset of the database store that holds the watermark row.
type RowStore interface {
	ReadLastFetchTime() (time.Time, error)
	WriteLastFetchTime(t time.Time) error
}

// Row adapts a database row to Store, for deployments that share a database
// between instances.
type Row struct {
	db RowStore
}

func NewRow(db RowStore) *Row {
	return &Row{db: db}
}

func (r *Row) Read() (time.Time, bool, error) {
	t, err := r.db.ReadLastFetchTime()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read watermark: %w", err)
	}
	return t, !t.IsZero(), nil
}

func (r *Row) Write(t time.Time) error {
	return r.db.WriteLastFetchTime(t)
}
