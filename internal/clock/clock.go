package clock

import (
	"fmt"
	"sync"
	"time"
)

// DateLayout is the persisted form of a usage day.
const DateLayout = "2006-01-02"

// Clock provides time information for usage accounting.
// This interface allows time to be mocked in tests.
type Clock interface {
	Now() time.Time
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// TestClock provides a settable time for testing.
type TestClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
}

// Now returns the test time.
func (t *TestClock) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CurrentTime
}

// Set moves the test clock to ts.
func (t *TestClock) Set(ts time.Time) {
	t.mu.Lock()
	t.CurrentTime = ts
	t.mu.Unlock()
}

// Advance moves the test clock forward by d.
func (t *TestClock) Advance(d time.Duration) {
	t.mu.Lock()
	t.CurrentTime = t.CurrentTime.Add(d)
	t.mu.Unlock()
}

// ResetTime is the time of day at which a usage day ends.
type ResetTime struct {
	Hour   int
	Minute int
}

// Midnight is the default reset time.
var Midnight = ResetTime{}

// ParseResetTime parses an HH:MM reset time.
func ParseResetTime(s string) (ResetTime, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return ResetTime{}, fmt.Errorf("invalid reset time %q: %w", s, err)
	}
	return ResetTime{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// String formats the reset time as HH:MM.
func (r ResetTime) String() string {
	return fmt.Sprintf("%02d:%02d", r.Hour, r.Minute)
}

// DayStart returns the start of the usage day containing now.
func DayStart(now time.Time, reset ResetTime) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), reset.Hour, reset.Minute, 0, 0, now.Location())

	// Before today's reset, yesterday is still the current day
	if now.Before(today) {
		return today.AddDate(0, 0, -1)
	}

	return today
}

// NextReset returns the first reset strictly after now.
func NextReset(now time.Time, reset ResetTime) time.Time {
	return DayStart(now, reset).AddDate(0, 0, 1)
}

// Today returns the usage day containing now formatted as YYYY-MM-DD.
func Today(now time.Time, reset ResetTime) string {
	return DayStart(now, reset).Format(DateLayout)
}
