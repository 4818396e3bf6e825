package nativemsg

import (
	"strings"

	"github.com/goccy/go-json"
)

// Incoming message types.
const (
	TypeLocation   = "location"
	TypeVisibility = "visibility"
	TypeSetLimit   = "set_limit"
)

// Outgoing message types.
const (
	TypeSession     = "session"
	TypeState       = "state"
	TypePopup       = "popup"
	TypePopupExpire = "popup_expire"
	TypeLimitResult = "limit_result"
)

// Incoming is any message sent by the extension. Fields not used by Type
// are left zero.
type Incoming struct {
	Type     string          `json:"type"`
	Hostname string          `json:"hostname,omitempty"`
	Pathname string          `json:"pathname,omitempty"`
	Href     string          `json:"href,omitempty"`
	Visible  *bool           `json:"visible,omitempty"`
	Minutes  json.RawMessage `json:"minutes,omitempty"`
}

// MinutesText returns the set_limit payload as entered. Numbers are
// accepted as well as strings.
func (m Incoming) MinutesText() string {
	raw := strings.TrimSpace(string(m.Minutes))
	if raw == "" || raw == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(m.Minutes, &s); err == nil {
		return s
	}
	return raw
}

// SessionMessage announces session entry (a fresh meter) or exit.
type SessionMessage struct {
	Type       string `json:"type"`
	Active     bool   `json:"active"`
	TikTokLike bool   `json:"tiktok_like"`
}

// StateMessage carries the meter values.
type StateMessage struct {
	Type               string  `json:"type"`
	AccumulatedSeconds int64   `json:"accumulated_seconds"`
	LimitSeconds       int64   `json:"limit_seconds"`
	EngagementCount    int     `json:"engagement_count"`
	TikTokLike         bool    `json:"tiktok_like"`
	Exceeded           bool    `json:"exceeded"`
	Ratio              float64 `json:"ratio"`
}

// PopupMessage shows a dissuasion message.
type PopupMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PopupExpireMessage removes the current popup.
type PopupExpireMessage struct {
	Type string `json:"type"`
}

// LimitResultMessage answers a set_limit request.
type LimitResultMessage struct {
	Type         string `json:"type"`
	Accepted     bool   `json:"accepted"`
	LimitMinutes int64  `json:"limit_minutes"`
}
