// Package engine runs the metering loop. All component state is owned by
// the goroutine running Run; other goroutines reach it through Submit.
package engine

import (
	"context"
	"time"

	"github.com/goodtune/shortmeter/internal/metrics"
	"github.com/goodtune/shortmeter/internal/popup"
	"github.com/goodtune/shortmeter/internal/session"
	"github.com/goodtune/shortmeter/internal/settings"
	"github.com/goodtune/shortmeter/internal/site"
	"github.com/goodtune/shortmeter/internal/usage"
	"github.com/rs/zerolog"
)

// Default timer intervals.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultTickInterval = time.Second
)

// State is what the presentation layer renders.
type State struct {
	AccumulatedSeconds int64   `json:"accumulated_seconds"`
	LimitSeconds       int64   `json:"limit_seconds"`
	EngagementCount    int     `json:"engagement_count"`
	TikTokLike         bool    `json:"tiktok_like"`
	Exceeded           bool    `json:"exceeded"`
	Ratio              float64 `json:"ratio"`
}

// Presenter renders engine output. Calls arrive on the engine goroutine.
type Presenter interface {
	SessionStarted(kind site.Kind)
	SessionEnded()
	StateChanged(state State)
	PopupShown(message string)
	PopupExpired()
}

// Host reports the browser page the engine observes.
type Host interface {
	CurrentLocation() site.Location
	IsForeground() bool
	ForegroundChanges() <-chan bool
}

// Config holds engine timing and popup settings
type Config struct {
	PollInterval time.Duration
	TickInterval time.Duration
	SyncInterval time.Duration // zero disables periodic store sync
	Popup        popup.Config
	Messages     []string
}

// Engine wires the classifier, tracker, session machine and popup scheduler
type Engine struct {
	host       Host
	presenter  Presenter
	classifier site.Classifier
	tracker    *usage.Tracker
	session    session.Machine
	popups     *popup.Scheduler
	settings   *settings.Controller
	config     Config
	logger     zerolog.Logger

	ticker *time.Ticker
	tickC  <-chan time.Time

	requests chan func()
	done     chan struct{}

	afterFunc func(d time.Duration, fn func())
}

// New creates an engine. The tracker must already be loaded.
func New(h Host, presenter Presenter, classifier site.Classifier, tracker *usage.Tracker, config Config, logger zerolog.Logger) *Engine {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}

	e := &Engine{
		host:       h,
		presenter:  presenter,
		classifier: classifier,
		tracker:    tracker,
		config:     config,
		logger:     logger.With().Str("component", "engine").Logger(),
		requests:   make(chan func(), 64),
		done:       make(chan struct{}),
		afterFunc: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}

	e.settings = settings.NewController(tracker, logger)
	cycle := popup.NewCycle(config.Messages)
	e.popups = popup.NewScheduler(cycle, presenter, e.schedule, config.Popup, logger)

	e.logger.Debug().
		Int("popup_messages", cycle.Len()).
		Bool("persistent", tracker.Persistent()).
		Msg("Engine configured")

	tracker.OnRollover(e.onRollover)

	return e
}

// Run drives the poll and tick timers until ctx is done
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	defer e.stopTicking()

	poll := time.NewTicker(e.config.PollInterval)
	defer poll.Stop()

	foreground := e.host.ForegroundChanges()

	var syncC <-chan time.Time
	if e.config.SyncInterval > 0 {
		syncTicker := time.NewTicker(e.config.SyncInterval)
		defer syncTicker.Stop()
		syncC = syncTicker.C
	}

	e.logger.Info().
		Dur("poll_interval", e.config.PollInterval).
		Dur("tick_interval", e.config.TickInterval).
		Dur("sync_interval", e.config.SyncInterval).
		Msg("Engine started")

	e.Poll()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Engine stopped")
			return nil

		case <-poll.C:
			e.Poll()

		case <-e.tickC:
			e.Tick()

		case <-syncC:
			e.SyncStore()

		case visible, ok := <-foreground:
			if !ok {
				foreground = nil
				continue
			}
			e.SetForeground(visible)

		case fn := <-e.requests:
			fn()
		}
	}
}

// Submit queues fn to run on the engine goroutine. It reports false once
// the engine has stopped.
func (e *Engine) Submit(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}

	select {
	case e.requests <- fn:
		return true
	case <-e.done:
		return false
	}
}

// Poll classifies the current location and applies the session transition
func (e *Engine) Poll() {
	// A pending rollover must clear counters before this poll touches them
	rolled := e.tracker.CheckRollover()

	loc := e.host.CurrentLocation()
	result := e.classifier.Classify(loc)

	prevKind := e.session.Kind()
	pushed := false

	switch e.session.Observe(result, loc.Href) {
	case session.Entered:
		e.enter()
		pushed = true
	case session.Left:
		e.leave()
	case session.Navigated:
		e.engage()
		pushed = true
	default:
		if e.session.Active() && e.session.Kind() != prevKind {
			e.push()
			pushed = true
		}
	}

	if rolled && !pushed {
		e.push()
	}
}

// Tick counts one second while in session and in the foreground
func (e *Engine) Tick() {
	if !e.session.Active() || !e.host.IsForeground() {
		return
	}

	kind := e.session.Kind()

	e.tracker.Tick()
	metrics.ShortFormSeconds.WithLabelValues(kind.String()).Inc()
	e.push()

	e.popups.OnTick(kind)
}

// SetForeground suspends or resumes ticking. Hidden time is never caught up.
func (e *Engine) SetForeground(visible bool) {
	e.logger.Debug().Bool("visible", visible).Msg("Foreground changed")

	if !e.session.Active() {
		return
	}
	if visible {
		e.startTicking()
	} else {
		e.stopTicking()
	}
}

// RequestSetLimit applies a user limit edit. The presenter always receives
// the resulting state so a rejected edit reverts on screen.
func (e *Engine) RequestSetLimit(minutes string) bool {
	accepted := e.settings.RequestSetLimit(minutes)
	e.push()
	return accepted
}

// CheckRollover applies a pending day rollover and pushes the reset meter
func (e *Engine) CheckRollover() {
	if e.tracker.CheckRollover() {
		e.push()
	}
}

// SyncStore adopts usage or limit edits made by another process and pushes
// the result when anything changed
func (e *Engine) SyncStore() {
	ctx, cancel := context.WithTimeout(context.Background(), usage.DefaultReadTimeout)
	defer cancel()

	if e.tracker.Sync(ctx) {
		e.push()
	}
}

// State returns the current presentation state
func (e *Engine) State() State {
	u := e.tracker.State()

	return State{
		AccumulatedSeconds: u.AccumulatedSeconds,
		LimitSeconds:       u.LimitSeconds,
		EngagementCount:    e.session.Engagement(),
		TikTokLike:         e.session.Active() && e.session.Kind() == site.TikTokLike,
		Exceeded:           u.Exceeded(),
		Ratio:              u.Ratio(),
	}
}

// Active reports whether a short-form session is in progress
func (e *Engine) Active() bool {
	return e.session.Active()
}

// Ticking reports whether the per-second timer is running
func (e *Engine) Ticking() bool {
	return e.ticker != nil
}

func (e *Engine) enter() {
	kind := e.session.Kind()

	e.popups.Reset()
	metrics.SessionsTotal.WithLabelValues(kind.String()).Inc()

	e.logger.Info().
		Str("site_kind", kind.String()).
		Str("url", e.session.LastURL()).
		Msg("Entered short-form session")

	// The presenter rebuilds its meter from scratch on every entry
	e.presenter.SessionStarted(kind)
	e.push()

	if e.host.IsForeground() {
		e.startTicking()
	}
}

func (e *Engine) leave() {
	e.stopTicking()
	e.popups.Reset()

	e.logger.Info().Msg("Left short-form session")

	e.presenter.SessionEnded()
}

func (e *Engine) engage() {
	count := e.session.Engagement()

	metrics.EngagementEvents.Inc()
	e.logger.Debug().Int("engagement_count", count).Msg("Engagement event")

	e.push()
	e.popups.OnEngagement(count)
}

func (e *Engine) onRollover() {
	e.session.ResetEngagement()
	e.popups.Reset()
	e.popups.Dismiss()
}

func (e *Engine) push() {
	e.presenter.StateChanged(e.State())
}

// startTicking starts the tick timer; it is a no-op when already running
func (e *Engine) startTicking() {
	if e.ticker != nil {
		return
	}
	e.ticker = time.NewTicker(e.config.TickInterval)
	e.tickC = e.ticker.C
}

// stopTicking stops the tick timer; it is a no-op when already stopped
func (e *Engine) stopTicking() {
	if e.ticker == nil {
		return
	}
	e.ticker.Stop()
	e.ticker = nil
	e.tickC = nil
}

// schedule runs fn on the engine goroutine after d
func (e *Engine) schedule(d time.Duration, fn func()) {
	e.afterFunc(d, func() {
		e.Submit(fn)
	})
}
