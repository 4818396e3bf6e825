package usage

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/goodtune/shortmeter/internal/clock"
	"github.com/goodtune/shortmeter/internal/storage"
	"github.com/goodtune/shortmeter/internal/storage/memory"
	"github.com/rs/zerolog"
)

func newTestTracker(t *testing.T, store storage.Store, now time.Time) (*Tracker, *clock.TestClock) {
	t.Helper()
	clk := &clock.TestClock{CurrentTime: now}
	tracker := NewTracker(store, clk, Config{}, zerolog.Nop())
	return tracker, clk
}

func day(s string) time.Time {
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.Local)
	if err != nil {
		panic(err)
	}
	return ts
}

func TestLoad_EmptyStore(t *testing.T) {
	store := memory.New()
	tracker, _ := newTestTracker(t, store, day("2024-01-01 10:00:00"))

	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	state := tracker.State()
	if state.AccumulatedSeconds != 0 || state.Date != "2024-01-01" || state.LimitSeconds != DefaultLimitSeconds {
		t.Errorf("unexpected state: %+v", state)
	}

	// Defaults are written back
	if v, _ := store.Value(storage.KeyDate); v != "2024-01-01" {
		t.Errorf("stored date = %q, want 2024-01-01", v)
	}
	if v, _ := store.Value(storage.KeyLimit); v != "600" {
		t.Errorf("stored limit = %q, want 600", v)
	}
}

func TestLoad_SameDay(t *testing.T) {
	store := memory.New()
	store.Put(storage.KeyTime, "300")
	store.Put(storage.KeyDate, "2024-01-01")
	store.Put(storage.KeyLimit, "900")

	tracker, _ := newTestTracker(t, store, day("2024-01-01 23:00:00"))
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	state := tracker.State()
	if state.AccumulatedSeconds != 300 || state.LimitSeconds != 900 {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestLoad_StaleDay(t *testing.T) {
	store := memory.New()
	store.Put(storage.KeyTime, "300")
	store.Put(storage.KeyDate, "2023-12-31")
	store.Put(storage.KeyLimit, "900")

	tracker, _ := newTestTracker(t, store, day("2024-01-01 08:00:00"))
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	state := tracker.State()
	if state.AccumulatedSeconds != 0 || state.Date != "2024-01-01" {
		t.Errorf("stale day not reset: %+v", state)
	}
	if state.LimitSeconds != 900 {
		t.Errorf("limit lost on rollover: %d", state.LimitSeconds)
	}
	if v, _ := store.Value(storage.KeyTime); v != "0" {
		t.Errorf("stored time = %q, want 0", v)
	}
}

func TestLoad_PerFieldCorruption(t *testing.T) {
	tests := []struct {
		name      string
		values    map[string]string
		wantTime  int64
		wantLimit int64
	}{
		{
			name:      "corrupt time keeps limit",
			values:    map[string]string{"time": "lots", "date": "2024-01-01", "limit": "1200"},
			wantTime:  0,
			wantLimit: 1200,
		},
		{
			name:      "negative time",
			values:    map[string]string{"time": "-5", "date": "2024-01-01", "limit": "1200"},
			wantTime:  0,
			wantLimit: 1200,
		},
		{
			name:      "zero limit keeps time",
			values:    map[string]string{"time": "42", "date": "2024-01-01", "limit": "0"},
			wantTime:  42,
			wantLimit: DefaultLimitSeconds,
		},
		{
			name:      "non-numeric limit",
			values:    map[string]string{"time": "42", "date": "2024-01-01", "limit": "ten"},
			wantTime:  42,
			wantLimit: DefaultLimitSeconds,
		},
		{
			name:      "malformed date resets time",
			values:    map[string]string{"time": "42", "date": "01/01/2024", "limit": "1200"},
			wantTime:  0,
			wantLimit: 1200,
		},
		{
			name:      "missing keys",
			values:    map[string]string{"limit": "1200"},
			wantTime:  0,
			wantLimit: 1200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			for k, v := range tt.values {
				store.Put(k, v)
			}

			tracker, _ := newTestTracker(t, store, day("2024-01-01 12:00:00"))
			if err := tracker.Load(context.Background()); err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			state := tracker.State()
			if state.AccumulatedSeconds != tt.wantTime {
				t.Errorf("AccumulatedSeconds = %d, want %d", state.AccumulatedSeconds, tt.wantTime)
			}
			if state.LimitSeconds != tt.wantLimit {
				t.Errorf("LimitSeconds = %d, want %d", state.LimitSeconds, tt.wantLimit)
			}
			if state.Date != "2024-01-01" {
				t.Errorf("Date = %s, want 2024-01-01", state.Date)
			}
		})
	}
}

func TestLoad_StoreUnavailable(t *testing.T) {
	store := memory.New()
	store.GetErr = storage.ErrUnavailable

	tracker, _ := newTestTracker(t, store, day("2024-01-01 12:00:00"))
	err := tracker.Load(context.Background())
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("Load error = %v, want ErrUnavailable", err)
	}
	if tracker.Persistent() {
		t.Error("tracker should not persist after a failed load")
	}

	// Still functional in memory
	tracker.Tick()
	tracker.Tick()
	if got := tracker.State().AccumulatedSeconds; got != 2 {
		t.Errorf("AccumulatedSeconds = %d, want 2", got)
	}
	if store.Sets() != 0 {
		t.Errorf("store received %d writes, want 0", store.Sets())
	}
}

func TestLoad_NilStore(t *testing.T) {
	tracker, _ := newTestTracker(t, nil, day("2024-01-01 12:00:00"))
	if err := tracker.Load(context.Background()); err == nil {
		t.Error("expected error for nil store")
	}
	tracker.Tick()
	if got := tracker.State().AccumulatedSeconds; got != 1 {
		t.Errorf("AccumulatedSeconds = %d, want 1", got)
	}
}

func TestTick_IncrementsByOne(t *testing.T) {
	store := memory.New()
	tracker, _ := newTestTracker(t, store, day("2024-01-01 12:00:00"))
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for i := int64(1); i <= 50; i++ {
		tracker.Tick()
		if got := tracker.State().AccumulatedSeconds; got != i {
			t.Fatalf("after %d ticks AccumulatedSeconds = %d", i, got)
		}
	}

	if v, _ := store.Value(storage.KeyTime); v != "50" {
		t.Errorf("stored time = %q, want 50", v)
	}
}

func TestTick_WriteFailureRetried(t *testing.T) {
	store := memory.New()
	tracker, _ := newTestTracker(t, store, day("2024-01-01 12:00:00"))
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	store.SetErr = errors.New("disk full")
	tracker.Tick()
	tracker.Tick()
	if got := tracker.State().AccumulatedSeconds; got != 2 {
		t.Errorf("in-memory state lost on write failure: %d", got)
	}

	store.SetErr = nil
	tracker.Tick()
	if v, _ := store.Value(storage.KeyTime); v != "3" {
		t.Errorf("stored time after recovery = %q, want 3", v)
	}
}

func TestCheckRollover_Idempotent(t *testing.T) {
	store := memory.New()
	tracker, clk := newTestTracker(t, store, day("2024-01-01 23:59:00"))
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	tracker.Tick()

	rollovers := 0
	tracker.OnRollover(func() { rollovers++ })

	if tracker.CheckRollover() {
		t.Error("no rollover expected on the same day")
	}

	clk.Set(day("2024-01-02 00:00:01"))
	if !tracker.CheckRollover() {
		t.Error("expected rollover on the next day")
	}
	first := tracker.State()

	if tracker.CheckRollover() {
		t.Error("second rollover check on the same day should be a no-op")
	}
	if second := tracker.State(); second != first {
		t.Errorf("state changed on repeated check: %+v vs %+v", first, second)
	}
	if rollovers != 1 {
		t.Errorf("listeners fired %d times, want 1", rollovers)
	}
}

func TestTick_RolloverMidSession(t *testing.T) {
	store := memory.New()
	store.Put(storage.KeyTime, "580")
	store.Put(storage.KeyDate, "2024-01-01")

	tracker, clk := newTestTracker(t, store, day("2024-01-01 23:59:59"))
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var atRollover int64 = -1
	tracker.OnRollover(func() { atRollover = tracker.state.AccumulatedSeconds })

	clk.Set(day("2024-01-02 00:00:00"))
	tracker.Tick()

	if atRollover != 0 {
		t.Errorf("AccumulatedSeconds at rollover = %d, want 0", atRollover)
	}
	state := tracker.State()
	if state.AccumulatedSeconds != 1 || state.Date != "2024-01-02" {
		t.Errorf("state after tick = %+v, want 1 second on 2024-01-02", state)
	}
	if v, _ := store.Value(storage.KeyTime); v != "1" {
		t.Errorf("stored time = %q, want 1", v)
	}
}

func TestCheckRollover_ResetTime(t *testing.T) {
	clk := &clock.TestClock{CurrentTime: day("2024-01-02 03:00:00")}
	tracker := NewTracker(memory.New(), clk, Config{ResetTime: clock.ResetTime{Hour: 4}}, zerolog.Nop())
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Before 04:00 the usage day is still the 1st
	if got := tracker.State().Date; got != "2024-01-01" {
		t.Fatalf("Date = %s, want 2024-01-01", got)
	}

	clk.Set(day("2024-01-02 04:00:00"))
	if !tracker.CheckRollover() {
		t.Error("expected rollover at 04:00")
	}
}

func TestSetLimit(t *testing.T) {
	store := memory.New()
	tracker, _ := newTestTracker(t, store, day("2024-01-01 12:00:00"))
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !tracker.SetLimit(45) {
		t.Fatal("SetLimit(45) rejected")
	}
	if got := tracker.State().LimitSeconds; got != 2700 {
		t.Errorf("LimitSeconds = %d, want 2700", got)
	}
	if v, _ := store.Value(storage.KeyLimit); v != "2700" {
		t.Errorf("stored limit = %q, want 2700", v)
	}

	for _, minutes := range []int64{0, -1, -45} {
		if tracker.SetLimit(minutes) {
			t.Errorf("SetLimit(%d) accepted", minutes)
		}
		if got := tracker.State().LimitSeconds; got != 2700 {
			t.Errorf("LimitSeconds changed to %d after rejected SetLimit(%d)", got, minutes)
		}
	}
}

func TestRatioAndExceeded(t *testing.T) {
	tests := []struct {
		seconds  int64
		limit    int64
		ratio    float64
		exceeded bool
	}{
		{seconds: 0, limit: 600, ratio: 0, exceeded: false},
		{seconds: 300, limit: 600, ratio: 0.5, exceeded: false},
		{seconds: 600, limit: 600, ratio: 1, exceeded: true},
		{seconds: 900, limit: 600, ratio: 1, exceeded: true},
	}

	for _, tt := range tests {
		store := memory.New()
		store.Put(storage.KeyTime, strconv.FormatInt(tt.seconds, 10))
		store.Put(storage.KeyDate, "2024-01-01")
		store.Put(storage.KeyLimit, strconv.FormatInt(tt.limit, 10))

		tracker, _ := newTestTracker(t, store, day("2024-01-01 12:00:00"))
		if err := tracker.Load(context.Background()); err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if got := tracker.Ratio(); got != tt.ratio {
			t.Errorf("Ratio(%d/%d) = %v, want %v", tt.seconds, tt.limit, got, tt.ratio)
		}
		if got := tracker.IsExceeded(); got != tt.exceeded {
			t.Errorf("IsExceeded(%d/%d) = %v, want %v", tt.seconds, tt.limit, got, tt.exceeded)
		}
	}
}

func TestReset(t *testing.T) {
	store := memory.New()
	store.Put(storage.KeyTime, "120")
	store.Put(storage.KeyDate, "2024-01-01")

	tracker, _ := newTestTracker(t, store, day("2024-01-01 12:00:00"))
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tracker.Reset()
	if got := tracker.State().AccumulatedSeconds; got != 0 {
		t.Errorf("AccumulatedSeconds = %d, want 0", got)
	}
	if v, _ := store.Value(storage.KeyTime); v != "0" {
		t.Errorf("stored time = %q, want 0", v)
	}
}

func TestStateRemaining(t *testing.T) {
	if got := (State{AccumulatedSeconds: 100, LimitSeconds: 600}).Remaining(); got != 500 {
		t.Errorf("Remaining = %d, want 500", got)
	}
	if got := (State{AccumulatedSeconds: 700, LimitSeconds: 600}).Remaining(); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
}

func TestSharedStore_ExternalEditsSurviveHostTick(t *testing.T) {
	store := memory.New()
	store.Put(storage.KeyTime, "500")
	store.Put(storage.KeyDate, "2024-01-01")
	store.Put(storage.KeyLimit, "600")

	now := day("2024-01-01 12:00:00")
	host, _ := newTestTracker(t, store, now)
	if err := host.Load(context.Background()); err != nil {
		t.Fatalf("host Load failed: %v", err)
	}

	cli, _ := newTestTracker(t, store, now)
	if err := cli.Load(context.Background()); err != nil {
		t.Fatalf("cli Load failed: %v", err)
	}
	cli.Reset()
	if !cli.SetLimit(45) {
		t.Fatal("SetLimit(45) rejected")
	}

	host.Tick()

	if v, _ := store.Value(storage.KeyTime); v != "1" {
		t.Errorf("stored time = %q, want 1", v)
	}
	if v, _ := store.Value(storage.KeyLimit); v != "2700" {
		t.Errorf("stored limit = %q, want 2700", v)
	}
	state := host.State()
	if state.AccumulatedSeconds != 1 || state.LimitSeconds != 2700 {
		t.Errorf("host state = %+v, want 1s of 2700s", state)
	}
}

func TestSync(t *testing.T) {
	store := memory.New()
	store.Put(storage.KeyTime, "120")
	store.Put(storage.KeyDate, "2024-01-01")
	store.Put(storage.KeyLimit, "600")

	tracker, _ := newTestTracker(t, store, day("2024-01-01 12:00:00"))
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tracker.Tick()
	if tracker.Sync(context.Background()) {
		t.Error("Sync reported a change after only our own writes")
	}

	store.Put(storage.KeyLimit, "1800")
	if !tracker.Sync(context.Background()) {
		t.Fatal("Sync missed an external limit change")
	}
	if got := tracker.State().LimitSeconds; got != 1800 {
		t.Errorf("LimitSeconds = %d, want 1800", got)
	}
	if got := tracker.State().AccumulatedSeconds; got != 121 {
		t.Errorf("AccumulatedSeconds = %d, want 121 kept", got)
	}

	// Corrupt external values are ignored
	store.Put(storage.KeyLimit, "soon")
	if tracker.Sync(context.Background()) {
		t.Error("Sync adopted a corrupt limit")
	}

	store.GetErr = errors.New("gone")
	if tracker.Sync(context.Background()) {
		t.Error("Sync reported a change on read failure")
	}
}

func TestSync_AdoptedStaleDateRollsOver(t *testing.T) {
	store := memory.New()
	tracker, _ := newTestTracker(t, store, day("2024-01-02 09:00:00"))
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	tracker.Tick()

	store.Put(storage.KeyTime, "900")
	store.Put(storage.KeyDate, "2024-01-01")

	if !tracker.Sync(context.Background()) {
		t.Fatal("Sync missed the external write")
	}
	state := tracker.State()
	if state.AccumulatedSeconds != 0 || state.Date != "2024-01-02" {
		t.Errorf("state = %+v, want a fresh 2024-01-02", state)
	}
}

type recordingStore struct {
	*memory.Store
	writes []map[string]string
}

func (r *recordingStore) Set(ctx context.Context, values map[string]string) error {
	r.writes = append(r.writes, storage.Copy(values))
	return r.Store.Set(ctx, values)
}

func TestSave_WritesOnlyChangedFields(t *testing.T) {
	store := &recordingStore{Store: memory.New()}
	store.Put(storage.KeyTime, "10")
	store.Put(storage.KeyDate, "2024-01-01")
	store.Put(storage.KeyLimit, "600")

	tracker, _ := newTestTracker(t, store, day("2024-01-01 12:00:00"))
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(store.writes) != 0 {
		t.Fatalf("Load of a valid same-day triple wrote %v", store.writes)
	}

	tracker.SetLimit(20)
	tracker.Tick()

	if len(store.writes) != 2 {
		t.Fatalf("writes = %v, want 2", store.writes)
	}
	if w := store.writes[0]; len(w) != 1 || w[storage.KeyLimit] != "1200" {
		t.Errorf("limit write = %v, want only limit", w)
	}
	if w := store.writes[1]; len(w) != 2 || w[storage.KeyTime] != "11" || w[storage.KeyDate] != "2024-01-01" {
		t.Errorf("tick write = %v, want time and date", w)
	}
}

func TestSync_ThroughAsyncStore(t *testing.T) {
	inner := memory.New()
	async := storage.NewAsyncStore(inner, time.Second, zerolog.Nop())
	defer async.Close()

	tracker, _ := newTestTracker(t, async, day("2024-01-01 12:00:00"))
	if err := tracker.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Queued but unflushed writes are not mistaken for external edits
	for i := 0; i < 20; i++ {
		tracker.Tick()
		if tracker.Sync(context.Background()) {
			t.Fatalf("tick %d: Sync reported a change from our own write", i+1)
		}
	}
	if got := tracker.State().AccumulatedSeconds; got != 20 {
		t.Errorf("AccumulatedSeconds = %d, want 20", got)
	}
}
