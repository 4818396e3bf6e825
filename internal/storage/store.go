package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("storage: store unavailable")
)

// Persisted keys of the daily usage triple.
const (
	KeyTime  = "time"  // accumulated seconds today
	KeyDate  = "date"  // YYYY-MM-DD the counter applies to
	KeyLimit = "limit" // daily limit in seconds
)

// Keys lists every persisted key.
var Keys = []string{KeyTime, KeyDate, KeyLimit}

// Store is the durable key-value port used by the usage tracker.
//
// Get returns only the keys that are present; a missing key is not an error.
// Values are strings and are validated field by field by the caller, so a
// corrupt field never invalidates the others.
type Store interface {
	Get(ctx context.Context, keys ...string) (map[string]string, error)
	Set(ctx context.Context, values map[string]string) error
	Close() error
}

// HistoryStore is implemented by stores that retain per-day totals.
type HistoryStore interface {
	History(ctx context.Context, days int) ([]DailyUsage, error)
}
