package usage

import (
	"sync"
	"time"

	"github.com/goodtune/shortmeter/internal/clock"
	"github.com/rs/zerolog"
)

// ResetScheduler fires a callback at every daily reset time so the meter
// rolls over even while nothing ticks.
type ResetScheduler struct {
	clock     clock.Clock
	resetTime clock.ResetTime
	fire      func()
	logger    zerolog.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once

	after func(time.Duration) <-chan time.Time
}

// NewResetScheduler creates a new reset scheduler
func NewResetScheduler(clk clock.Clock, resetTime clock.ResetTime, fire func(), logger zerolog.Logger) *ResetScheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &ResetScheduler{
		clock:     clk,
		resetTime: resetTime,
		fire:      fire,
		logger:    logger.With().Str("component", "reset-scheduler").Logger(),
		stopChan:  make(chan struct{}),
		after:     time.After,
	}
}

// Start begins the reset scheduler
func (rs *ResetScheduler) Start() {
	go rs.run()
	rs.logger.Info().
		Str("reset_time", rs.resetTime.String()).
		Msg("Daily usage reset scheduler started")
}

// Stop stops the reset scheduler. It is safe to call more than once.
func (rs *ResetScheduler) Stop() {
	rs.stopOnce.Do(func() {
		close(rs.stopChan)
		rs.logger.Info().Msg("Daily usage reset scheduler stopped")
	})
}

// run is the main scheduler loop
func (rs *ResetScheduler) run() {
	for {
		nextReset := rs.NextReset()
		waitDuration := nextReset.Sub(rs.clock.Now())

		rs.logger.Debug().
			Time("next_reset", nextReset).
			Dur("wait_duration", waitDuration).
			Msg("Scheduled next daily reset")

		select {
		case <-rs.after(waitDuration):
			rs.logger.Info().Msg("Daily reset time reached")
			rs.fire()
		case <-rs.stopChan:
			return
		}
	}
}

// NextReset returns the next time the scheduler will fire
func (rs *ResetScheduler) NextReset() time.Time {
	return clock.NextReset(rs.clock.Now(), rs.resetTime)
}
