package session

import (
	"github.com/goodtune/shortmeter/internal/site"
)

// Transition is the outcome of one classifier poll.
type Transition int

const (
	// None means nothing observable changed.
	None Transition = iota
	// Entered means a new short-form session began.
	Entered
	// Left means the page is no longer short-form.
	Left
	// Navigated means the URL changed inside a URL-change-based session.
	Navigated
)

func (t Transition) String() string {
	switch t {
	case Entered:
		return "entered"
	case Left:
		return "left"
	case Navigated:
		return "navigated"
	default:
		return "none"
	}
}

// Machine tracks whether the user is in a short-form session.
// The zero value is out of session.
type Machine struct {
	active     bool
	kind       site.Kind
	lastURL    string
	engagement int
}

// Observe feeds one poll result into the machine.
//
// A URL change counts as navigation only while the previous poll was already
// in session and only on URL-change-based sites. Every entry starts a fresh
// session with a zero engagement count.
func (m *Machine) Observe(result site.Result, href string) Transition {
	if !result.ShortForm {
		if !m.active {
			return None
		}
		m.active = false
		m.lastURL = ""
		return Left
	}

	kind := result.Kind()

	if !m.active {
		m.active = true
		m.kind = kind
		m.lastURL = href
		m.engagement = 0
		return Entered
	}

	navigated := kind == site.URLChangeBased && m.lastURL != "" && href != m.lastURL
	m.kind = kind
	m.lastURL = href

	if navigated {
		m.engagement++
		return Navigated
	}

	return None
}

// Active reports whether a session is in progress
func (m *Machine) Active() bool { return m.active }

// Kind returns the site kind of the current session
func (m *Machine) Kind() site.Kind { return m.kind }

// LastURL returns the last URL seen in session, or "" when out of session
func (m *Machine) LastURL() string { return m.lastURL }

// Engagement returns the navigation count of the current session
func (m *Machine) Engagement() int { return m.engagement }

// ResetEngagement clears the navigation count without ending the session.
func (m *Machine) ResetEngagement() { m.engagement = 0 }
