package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/shortmeter/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultWriteTimeout bounds a single background write.
const DefaultWriteTimeout = 5 * time.Second

// AsyncStore is a write-behind decorator. Set merges values into the
// unflushed set and returns immediately; the writer goroutine persists the
// whole unflushed set, so a partial update is never lost to coalescing. Get
// overlays unflushed values on the inner store's answer, giving the caller
// its own writes back before they land. Close flushes before closing the
// inner store.
type AsyncStore struct {
	inner   Store
	timeout time.Duration
	logger  zerolog.Logger

	mu        sync.Mutex
	unflushed map[string]string
	seq       uint64

	pending chan queuedWrite
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	closed  atomic.Bool
}

type queuedWrite struct {
	values map[string]string
	seq    uint64
}

// NewAsyncStore wraps inner and starts the writer goroutine.
func NewAsyncStore(inner Store, timeout time.Duration, logger zerolog.Logger) *AsyncStore {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}

	a := &AsyncStore{
		inner:   inner,
		timeout: timeout,
		logger:  logger.With().Str("component", "store-writer").Logger(),
		pending: make(chan queuedWrite, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go a.run()

	return a
}

// Get reads through to the inner store, then applies unflushed values. The
// lock is held across the read so a write completing in between cannot clear
// the overlay while the inner answer is still stale.
func (a *AsyncStore) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	values, err := a.inner.Get(ctx, keys...)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string, len(keys))
	}

	for _, k := range keys {
		if v, ok := a.unflushed[k]; ok {
			values[k] = v
		}
	}
	return values, nil
}

// Set queues values for writing. It never blocks.
func (a *AsyncStore) Set(_ context.Context, values map[string]string) error {
	if a.closed.Load() {
		return ErrUnavailable
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.unflushed == nil {
		a.unflushed = make(map[string]string, len(values))
	}
	for k, v := range values {
		a.unflushed[k] = v
	}
	a.seq++
	w := queuedWrite{values: Copy(a.unflushed), seq: a.seq}

	for {
		select {
		case a.pending <- w:
			return nil
		default:
		}

		// The queued write is a subset of w; drop it
		select {
		case <-a.pending:
		default:
		}
	}
}

// Close flushes the pending write and closes the inner store.
func (a *AsyncStore) Close() error {
	a.once.Do(func() {
		a.closed.Store(true)
		close(a.stop)
		<-a.done
	})
	return a.inner.Close()
}

func (a *AsyncStore) run() {
	defer close(a.done)

	for {
		select {
		case w := <-a.pending:
			a.write(w)
		case <-a.stop:
			select {
			case w := <-a.pending:
				a.write(w)
			default:
			}
			return
		}
	}
}

func (a *AsyncStore) write(w queuedWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.inner.Set(ctx, w.values); err != nil {
		metrics.StoreErrors.WithLabelValues("set").Inc()
		a.logger.Warn().Err(err).Msg("Failed to persist usage state, will retry on next change")
		return
	}

	// Values queued after w are still unflushed
	a.mu.Lock()
	if a.seq == w.seq {
		a.unflushed = nil
	}
	a.mu.Unlock()

	a.logger.Debug().
		Str("date", w.values[KeyDate]).
		Str("time", w.values[KeyTime]).
		Msg("Usage state persisted")
}
