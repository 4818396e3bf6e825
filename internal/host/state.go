// Package host holds the browser-side signals the engine polls.
package host

import (
	"sync"

	"github.com/goodtune/shortmeter/internal/site"
)

// State is the latest location and visibility reported by the browser.
// It is written by the messaging reader and read by the engine loop.
type State struct {
	mu         sync.RWMutex
	location   site.Location
	foreground bool
	changes    chan bool
}

// NewState creates a host state with the given initial visibility
func NewState(foreground bool) *State {
	return &State{
		foreground: foreground,
		changes:    make(chan bool, 1),
	}
}

// SetLocation records the current page location
func (s *State) SetLocation(loc site.Location) {
	s.mu.Lock()
	s.location = loc
	s.mu.Unlock()
}

// SetForeground records page visibility and notifies on change. Only the
// latest unread value is kept.
func (s *State) SetForeground(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.foreground == visible {
		return
	}
	s.foreground = visible

	select {
	case <-s.changes:
	default:
	}
	s.changes <- visible
}

// CurrentLocation returns the last reported location
func (s *State) CurrentLocation() site.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.location
}

// IsForeground reports whether the page is visible
func (s *State) IsForeground() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.foreground
}

// ForegroundChanges delivers visibility changes
func (s *State) ForegroundChanges() <-chan bool {
	return s.changes
}
