// Package file provides a storage.Store backed by a single JSON document.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
	"github.com/goodtune/shortmeter/internal/storage"
)

// Store persists values as one JSON object at path.
type Store struct {
	path string
	mu   sync.Mutex
}

var syncFile = (*os.File).Sync

// Open creates a file store, creating the parent directory if needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := storage.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the present subset of keys. A missing file reads as empty and
// an unparsable document reads as empty so every field falls back to its
// default.
func (s *Store) Get(_ context.Context, keys ...string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Set merges values into the document and replaces the file atomically.
func (s *Store) Set(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		doc = make(map[string]string, len(values))
	}
	for k, v := range values {
		doc[k] = v
	}

	data, err := json.Marshal(encode(doc))
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	// Flush before the rename so a crash never leaves an empty state file
	if err := syncFile(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

// Close is a no-op; every Set is durable on return.
func (s *Store) Close() error {
	return nil
}

// read loads the document as strings (must be called with lock held)
func (s *Store) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return map[string]string{}, nil
	}

	doc := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			doc[k] = val
		case float64:
			doc[k] = strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	return doc, nil
}

// encode writes integer-looking values as JSON numbers.
func encode(doc map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && k != storage.KeyDate {
			out[k] = n
			continue
		}
		out[k] = v
	}
	return out
}
