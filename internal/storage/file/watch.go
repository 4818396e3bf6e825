package file

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce collapses the create and rename events of one atomic save.
const DefaultDebounce = 250 * time.Millisecond

// Watch calls onChange after the state file is written or replaced by any
// process, until ctx is done. Events arriving within debounce of each other
// produce a single call. The directory is watched rather than the file, as
// every save replaces the file with a new inode.
func (s *Store) Watch(ctx context.Context, debounce time.Duration, onChange func(), logger zerolog.Logger) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	logger = logger.With().Str("component", "state-watcher").Str("path", s.path).Logger()
	target := filepath.Base(s.path)

	go func() {
		defer fsw.Close()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer == nil {
					timer = time.AfterFunc(debounce, onChange)
				} else {
					timer.Reset(debounce)
				}

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("State file watch error")
			}
		}
	}()

	logger.Debug().Msg("Watching state file for external changes")

	return nil
}
