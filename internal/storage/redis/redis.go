package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/shortmeter/internal/config"
	"github.com/goodtune/shortmeter/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	stateKey      = "shortmeter:state"
	historyPrefix = "shortmeter:history:"

	// DefaultHistoryDays is how long per-day totals are kept.
	DefaultHistoryDays = 90
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client     *redis.Client
	historyTTL time.Duration
	saveScript *redis.Script
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig, historyDays int) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: failed to connect to Redis: %v", storage.ErrUnavailable, err)
	}

	if historyDays <= 0 {
		historyDays = DefaultHistoryDays
	}

	return &Store{
		client:     client,
		historyTTL: time.Duration(historyDays) * 24 * time.Hour,
		saveScript: redis.NewScript(saveStateScript),
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}
