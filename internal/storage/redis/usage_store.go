package redis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goodtune/shortmeter/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Get returns the present subset of keys from the state hash
func (s *Store) Get(ctx context.Context, keys ...string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	vals, err := s.client.HMGet(ctx, stateKey, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	return parseState(keys, vals), nil
}

// Set atomically writes the state hash and the day's history entry
func (s *Store) Set(ctx context.Context, values map[string]string) error {
	date := values[storage.KeyDate]
	historyKey := ""
	if date != "" {
		historyKey = historyPrefix + date
	}

	args := []interface{}{int64(s.historyTTL.Seconds())}
	for _, k := range storage.Keys {
		if v, ok := values[k]; ok {
			args = append(args, k, v)
		}
	}
	for k, v := range values {
		if !isStateKey(k) {
			args = append(args, k, v)
		}
	}

	if err := s.saveScript.Run(ctx, s.client, []string{stateKey, historyKey}, args...).Err(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// History returns up to days most recent day totals, newest first
func (s *Store) History(ctx context.Context, days int) ([]storage.DailyUsage, error) {
	var (
		cursor uint64
		keys   []string
	)

	for {
		batch, next, err := s.client.Scan(ctx, cursor, historyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return []storage.DailyUsage{}, nil
	}

	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if days > 0 && len(keys) > days {
		keys = keys[:days]
	}

	// Use pipeline for batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	usages := make([]storage.DailyUsage, 0, len(keys))
	for i, cmd := range cmds {
		secs, err := cmd.Int64()
		if err != nil {
			continue
		}
		usages = append(usages, storage.DailyUsage{
			Date:         strings.TrimPrefix(keys[i], historyPrefix),
			TotalSeconds: secs,
		})
	}

	return usages, nil
}

func isStateKey(k string) bool {
	for _, key := range storage.Keys {
		if k == key {
			return true
		}
	}
	return false
}
