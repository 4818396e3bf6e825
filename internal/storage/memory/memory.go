// Package memory provides an in-process storage.Store.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/goodtune/shortmeter/internal/storage"
)

// Store keeps values in memory. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	values  map[string]string
	history map[string]int64

	// GetErr and SetErr, when set, are returned by Get and Set.
	GetErr error
	SetErr error

	sets int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		values:  make(map[string]string),
		history: make(map[string]int64),
	}
}

// Get returns the present subset of keys.
func (s *Store) Get(_ context.Context, keys ...string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.GetErr != nil {
		return nil, s.GetErr
	}

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Set stores values and records the day total in history.
func (s *Store) Set(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SetErr != nil {
		return s.SetErr
	}

	for k, v := range values {
		s.values[k] = v
	}
	s.sets++

	if date, ok := values[storage.KeyDate]; ok {
		if secs, err := strconv.ParseInt(values[storage.KeyTime], 10, 64); err == nil {
			s.history[date] = secs
		}
	}
	return nil
}

// Put writes a raw value without touching history. Tests use it to seed
// corrupt or partial state.
func (s *Store) Put(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Value returns the raw stored value for key.
func (s *Store) Value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// FailWrites makes subsequent Set calls return err; nil clears it. Unlike
// assigning SetErr it is safe while another goroutine is writing.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	s.SetErr = err
	s.mu.Unlock()
}

// Sets returns how many successful Set calls were made.
func (s *Store) Sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

// History returns up to days most recent day totals, newest first.
func (s *Store) History(_ context.Context, days int) ([]storage.DailyUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]storage.DailyUsage, 0, len(s.history))
	for date, secs := range s.history {
		out = append(out, storage.DailyUsage{Date: date, TotalSeconds: secs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })

	if days > 0 && len(out) > days {
		out = out[:days]
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
