package popup

import (
	"time"

	"github.com/goodtune/shortmeter/internal/metrics"
	"github.com/goodtune/shortmeter/internal/site"
	"github.com/rs/zerolog"
)

// Defaults applied to a zero Config.
const (
	DefaultEngagementEvery = 10
	DefaultInterval        = 2 * time.Minute
	DefaultDuration        = 10 * time.Second
)

// Trigger labels what fired a popup.
type Trigger string

const (
	TriggerEngagement Trigger = "engagement"
	TriggerInterval   Trigger = "interval"
)

// Display receives popup show and expiry events.
type Display interface {
	PopupShown(message string)
	PopupExpired()
}

// Config holds popup scheduling settings
type Config struct {
	EngagementEvery int           // navigation events between popups
	Interval        time.Duration // counted foreground time between popups on TikTok-like sites
	Duration        time.Duration // how long a popup stays up
}

// Scheduler decides when to show popups. schedule must run fn on the same
// goroutine that owns the scheduler, after d has elapsed.
type Scheduler struct {
	cycle    *Cycle
	display  Display
	schedule func(d time.Duration, fn func())
	config   Config
	logger   zerolog.Logger

	secondsSincePopup int64
	generation        uint64
	visible           bool
}

// NewScheduler creates a popup scheduler
func NewScheduler(cycle *Cycle, display Display, schedule func(time.Duration, func()), config Config, logger zerolog.Logger) *Scheduler {
	if config.EngagementEvery <= 0 {
		config.EngagementEvery = DefaultEngagementEvery
	}
	if config.Interval < time.Second {
		config.Interval = DefaultInterval
	}
	if config.Duration <= 0 {
		config.Duration = DefaultDuration
	}
	if cycle == nil {
		cycle = NewCycle(nil)
	}

	return &Scheduler{
		cycle:    cycle,
		display:  display,
		schedule: schedule,
		config:   config,
		logger:   logger.With().Str("component", "popup").Logger(),
	}
}

// OnEngagement fires a popup when count is a positive multiple of the
// configured spacing. The count itself is never reset here.
func (s *Scheduler) OnEngagement(count int) bool {
	if count <= 0 || count%s.config.EngagementEvery != 0 {
		return false
	}
	s.fire(TriggerEngagement)
	return true
}

// OnTick accounts one counted second under kind. Only TikTok-like sites
// accumulate; any other kind clears the interval counter.
func (s *Scheduler) OnTick(kind site.Kind) bool {
	if kind != site.TikTokLike {
		s.secondsSincePopup = 0
		return false
	}

	s.secondsSincePopup++
	if s.secondsSincePopup < s.intervalSeconds() {
		return false
	}

	s.secondsSincePopup = 0
	s.fire(TriggerInterval)
	return true
}

// Reset clears the interval counter without firing.
func (s *Scheduler) Reset() {
	s.secondsSincePopup = 0
}

// Dismiss removes a visible popup immediately. Its pending expiry becomes a no-op.
func (s *Scheduler) Dismiss() {
	if !s.visible {
		return
	}
	s.generation++
	s.visible = false
	s.display.PopupExpired()
}

// SecondsSincePopup returns the interval counter
func (s *Scheduler) SecondsSincePopup() int64 {
	return s.secondsSincePopup
}

// Visible reports whether a popup is currently shown
func (s *Scheduler) Visible() bool {
	return s.visible
}

func (s *Scheduler) intervalSeconds() int64 {
	return int64(s.config.Interval / time.Second)
}

// fire shows the next message and schedules its removal. A newer popup
// supersedes an older one, whose expiry then does nothing.
func (s *Scheduler) fire(trigger Trigger) {
	msg := s.cycle.Next()

	s.generation++
	gen := s.generation
	s.visible = true

	metrics.PopupsTotal.WithLabelValues(string(trigger)).Inc()
	s.logger.Info().Str("trigger", string(trigger)).Str("message", msg).Msg("Showing popup")

	s.display.PopupShown(msg)
	s.schedule(s.config.Duration, func() { s.expire(gen) })
}

func (s *Scheduler) expire(gen uint64) {
	if gen != s.generation || !s.visible {
		return
	}
	s.visible = false
	s.display.PopupExpired()
}
