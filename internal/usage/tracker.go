package usage

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/goodtune/shortmeter/internal/clock"
	"github.com/goodtune/shortmeter/internal/metrics"
	"github.com/goodtune/shortmeter/internal/storage"
	"github.com/rs/zerolog"
)

// Store I/O bounds for calls made from the engine loop.
const (
	DefaultWriteTimeout = 2 * time.Second
	DefaultReadTimeout  = time.Second
)

// Config holds tracker configuration
type Config struct {
	DefaultLimitSeconds int64
	ResetTime           clock.ResetTime
}

// Tracker owns the daily usage triple. It is not safe for concurrent use;
// the engine loop is its only caller.
//
// Other processes (the status, limit and reset commands) may write the same
// store. The tracker remembers what it last wrote, re-reads the store before
// every mutation and adopts any field that changed underneath it, so an
// external edit is never overwritten by stale in-memory state.
type Tracker struct {
	store     storage.Store
	clock     clock.Clock
	config    Config
	state     State
	saved     State
	persist   bool
	listeners []func()
	logger    zerolog.Logger
}

type fields uint8

const (
	fieldTime fields = 1 << iota
	fieldDate
	fieldLimit
)

// NewTracker creates a tracker holding in-memory defaults until Load is called
func NewTracker(store storage.Store, clk clock.Clock, config Config, logger zerolog.Logger) *Tracker {
	if config.DefaultLimitSeconds <= 0 {
		config.DefaultLimitSeconds = DefaultLimitSeconds
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	t := &Tracker{
		store:  store,
		clock:  clk,
		config: config,
		logger: logger.With().Str("component", "usage-tracker").Logger(),
	}
	t.state = t.defaults()

	return t
}

// Load reads the persisted triple, substituting defaults field by field.
// If the store cannot be read the tracker keeps in-memory defaults and never
// writes; the returned error describes why.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		t.state = t.defaults()
		t.persist = false
		return fmt.Errorf("failed to load usage state: %w", storage.ErrUnavailable)
	}

	values, err := t.store.Get(ctx, storage.Keys...)
	if err != nil {
		t.state = t.defaults()
		t.persist = false
		metrics.StoreErrors.WithLabelValues("get").Inc()
		t.logger.Warn().Err(err).Msg("Usage store unavailable, continuing without persistence")
		return fmt.Errorf("failed to load usage state: %w", err)
	}

	t.persist = true

	stored, valid := t.decode(values)
	for key, f := range map[string]fields{storage.KeyTime: fieldTime, storage.KeyDate: fieldDate, storage.KeyLimit: fieldLimit} {
		if raw, ok := values[key]; ok && valid&f == 0 {
			t.logger.Warn().Str("key", key).Str("value", raw).Msg("Ignoring corrupt stored value")
		}
	}

	t.state = t.withDefaults(stored, valid)
	t.saved = stored

	today := t.today()
	if t.state.Date != today {
		t.logger.Info().
			Str("stored_date", t.state.Date).
			Str("today", today).
			Int64("discarded_seconds", t.state.AccumulatedSeconds).
			Msg("Stored usage is from an earlier day")
		t.state.AccumulatedSeconds = 0
		t.state.Date = today
	}

	t.save()

	t.logger.Debug().
		Int64("accumulated_seconds", t.state.AccumulatedSeconds).
		Int64("limit_seconds", t.state.LimitSeconds).
		Str("date", t.state.Date).
		Msg("Usage state loaded")

	return nil
}

// decode parses stored values. Fields that are missing or corrupt are left
// at impossible values (-1, "", 0) and their bit is clear in the mask.
func (t *Tracker) decode(values map[string]string) (State, fields) {
	state := State{AccumulatedSeconds: -1}
	var valid fields

	if n, err := strconv.ParseInt(values[storage.KeyTime], 10, 64); err == nil && n >= 0 {
		state.AccumulatedSeconds = n
		valid |= fieldTime
	}

	if raw := values[storage.KeyDate]; raw != "" {
		if _, err := time.Parse(clock.DateLayout, raw); err == nil {
			state.Date = raw
			valid |= fieldDate
		}
	}

	if n, err := strconv.ParseInt(values[storage.KeyLimit], 10, 64); err == nil && n > 0 {
		state.LimitSeconds = n
		valid |= fieldLimit
	}

	return state, valid
}

// withDefaults replaces invalid fields with their defaults. A missing date
// stays empty so the caller treats the stored time as stale.
func (t *Tracker) withDefaults(stored State, valid fields) State {
	state := stored
	if valid&fieldTime == 0 {
		state.AccumulatedSeconds = 0
	}
	if valid&fieldLimit == 0 {
		state.LimitSeconds = t.config.DefaultLimitSeconds
	}
	return state
}

// Sync re-reads the store and adopts fields another writer changed since
// this tracker last wrote them. It reports whether the state changed,
// including a rollover of an adopted stale date. Read failures are logged
// and leave the state untouched.
func (t *Tracker) Sync(ctx context.Context) bool {
	if !t.persist {
		return false
	}

	values, err := t.store.Get(ctx, storage.Keys...)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("get").Inc()
		t.logger.Debug().Err(err).Msg("Failed to re-read usage state")
		return false
	}

	stored, valid := t.decode(values)
	changed := false

	if valid&fieldLimit != 0 && stored.LimitSeconds != t.saved.LimitSeconds {
		t.logger.Info().
			Int64("limit_seconds", stored.LimitSeconds).
			Int64("previous_limit_seconds", t.state.LimitSeconds).
			Msg("Adopted daily limit changed by another process")
		t.state.LimitSeconds = stored.LimitSeconds
		t.saved.LimitSeconds = stored.LimitSeconds
		changed = true
	}

	usagePair := fieldTime | fieldDate
	if valid&usagePair == usagePair &&
		(stored.AccumulatedSeconds != t.saved.AccumulatedSeconds || stored.Date != t.saved.Date) {
		t.logger.Info().
			Int64("accumulated_seconds", stored.AccumulatedSeconds).
			Int64("previous_seconds", t.state.AccumulatedSeconds).
			Str("date", stored.Date).
			Msg("Adopted usage changed by another process")
		t.state.AccumulatedSeconds = stored.AccumulatedSeconds
		t.state.Date = stored.Date
		t.saved.AccumulatedSeconds = stored.AccumulatedSeconds
		t.saved.Date = stored.Date
		changed = true
	}

	if changed {
		t.updateGauges()
	}

	return t.CheckRollover() || changed
}

// OnRollover registers fn to run after every day rollover
func (t *Tracker) OnRollover(fn func()) {
	t.listeners = append(t.listeners, fn)
}

// CheckRollover starts a new usage day if the stored date is stale.
// It reports whether a rollover happened; calling it again on the same day
// is a no-op.
func (t *Tracker) CheckRollover() bool {
	today := t.today()
	if t.state.Date == today {
		return false
	}

	t.logger.Info().
		Str("previous_date", t.state.Date).
		Str("today", today).
		Int64("previous_seconds", t.state.AccumulatedSeconds).
		Msg("Daily usage rollover")

	t.state.AccumulatedSeconds = 0
	t.state.Date = today
	t.save()
	metrics.Rollovers.Inc()

	for _, fn := range t.listeners {
		fn()
	}

	return true
}

// Tick counts one foreground short-form second
func (t *Tracker) Tick() {
	t.refresh()
	t.CheckRollover()
	t.state.AccumulatedSeconds++
	t.save()
}

// SetLimit stores a new daily limit given in whole minutes.
// Non-positive values are rejected and leave the prior limit in place.
func (t *Tracker) SetLimit(minutes int64) bool {
	t.refresh()
	t.CheckRollover()

	if minutes <= 0 || minutes > math.MaxInt64/60 {
		t.logger.Debug().Int64("minutes", minutes).Msg("Rejected daily limit")
		return false
	}

	t.state.LimitSeconds = minutes * 60
	t.save()

	t.logger.Info().Int64("limit_seconds", t.state.LimitSeconds).Msg("Daily limit updated")

	return true
}

// Reset clears today's accumulated seconds
func (t *Tracker) Reset() {
	t.refresh()
	t.state.AccumulatedSeconds = 0
	t.state.Date = t.today()
	t.save()

	t.logger.Info().Msg("Usage reset")
}

// IsExceeded reports whether today's usage has reached the limit
func (t *Tracker) IsExceeded() bool {
	return t.State().Exceeded()
}

// Ratio returns today's usage over the limit, never more than 1
func (t *Tracker) Ratio() float64 {
	return t.State().Ratio()
}

// State returns a snapshot after applying any pending rollover
func (t *Tracker) State() State {
	t.CheckRollover()
	return t.state
}

// Persistent reports whether mutations are written to the store
func (t *Tracker) Persistent() bool {
	return t.persist
}

func (t *Tracker) refresh() {
	if !t.persist {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultReadTimeout)
	defer cancel()
	t.Sync(ctx)
}

// save writes the fields that differ from what was last written. Time and
// date always travel together so stores can record the day total. Failures
// are logged and retried on the next mutation.
func (t *Tracker) save() {
	t.updateGauges()

	if !t.persist {
		return
	}

	values := make(map[string]string, len(storage.Keys))
	if t.state.AccumulatedSeconds != t.saved.AccumulatedSeconds || t.state.Date != t.saved.Date {
		values[storage.KeyTime] = strconv.FormatInt(t.state.AccumulatedSeconds, 10)
		values[storage.KeyDate] = t.state.Date
	}
	if t.state.LimitSeconds != t.saved.LimitSeconds {
		values[storage.KeyLimit] = strconv.FormatInt(t.state.LimitSeconds, 10)
	}
	if len(values) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultWriteTimeout)
	defer cancel()

	if err := t.store.Set(ctx, values); err != nil {
		metrics.StoreErrors.WithLabelValues("set").Inc()
		t.logger.Warn().Err(err).Msg("Failed to persist usage state")
		return
	}

	t.saved = t.state
}

func (t *Tracker) updateGauges() {
	metrics.AccumulatedSeconds.Set(float64(t.state.AccumulatedSeconds))
	metrics.LimitSeconds.Set(float64(t.state.LimitSeconds))
}

func (t *Tracker) defaults() State {
	return State{
		AccumulatedSeconds: 0,
		Date:               t.today(),
		LimitSeconds:       t.config.DefaultLimitSeconds,
	}
}

func (t *Tracker) today() string {
	return clock.Today(t.clock.Now(), t.config.ResetTime)
}
