package usage

import (
	"math"
)

// DefaultLimitSeconds is the daily limit used when none is stored.
const DefaultLimitSeconds int64 = 600

// State is a snapshot of the persisted daily usage triple
type State struct {
	AccumulatedSeconds int64  `json:"accumulated_seconds"`
	Date               string `json:"date"`
	LimitSeconds       int64  `json:"limit_seconds"`
}

// Exceeded reports whether today's usage has reached the limit
func (s State) Exceeded() bool {
	return s.AccumulatedSeconds >= s.LimitSeconds
}

// Ratio returns usage over limit clamped to [0, 1]
func (s State) Ratio() float64 {
	if s.LimitSeconds <= 0 {
		return 1
	}
	return math.Min(float64(s.AccumulatedSeconds)/float64(s.LimitSeconds), 1)
}

// Remaining returns the seconds left before the limit is reached
func (s State) Remaining() int64 {
	if s.AccumulatedSeconds >= s.LimitSeconds {
		return 0
	}
	return s.LimitSeconds - s.AccumulatedSeconds
}
