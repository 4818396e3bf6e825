package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Usage      UsageConfig      `mapstructure:"usage"`
	Session    SessionConfig    `mapstructure:"session"`
	Popup      PopupConfig      `mapstructure:"popup"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type        string      `mapstructure:"type"` // "file", "redis" or "memory"
	Path        string      `mapstructure:"path"`
	HistoryDays int         `mapstructure:"history_days"`
	Redis       RedisConfig `mapstructure:"redis"`

	// SyncInterval is how often the host re-reads the store for edits made
	// by other processes; "0s" disables it
	SyncInterval string `mapstructure:"sync_interval"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"` // stdout is reserved for native messaging
}

// UsageConfig defines daily quota settings
type UsageConfig struct {
	DefaultLimitSeconds int64  `mapstructure:"default_limit_seconds"`
	DailyResetTime      string `mapstructure:"daily_reset_time"`
}

// SessionConfig defines the poll and tick cadence
type SessionConfig struct {
	PollInterval string `mapstructure:"poll_interval"`
	TickInterval string `mapstructure:"tick_interval"`
}

// PopupConfig defines intervention settings
type PopupConfig struct {
	EngagementEvery int      `mapstructure:"engagement_every"`
	Interval        string   `mapstructure:"interval"`
	Duration        string   `mapstructure:"duration"`
	Messages        []string `mapstructure:"messages"`
}

// ClassifierConfig defines how pages are classified
type ClassifierConfig struct {
	Source    string `mapstructure:"source"` // "builtin" or "rego"
	PolicyDir string `mapstructure:"policy_dir"`
	CacheSize int    `mapstructure:"cache_size"`
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	v.SetEnvPrefix("SHORTMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found, use defaults and environment variables
		}
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration produced by defaults alone
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.path", defaultStatePath())
	v.SetDefault("storage.history_days", 90)
	v.SetDefault("storage.sync_interval", "5s")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 4)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "2s")
	v.SetDefault("storage.redis.read_timeout", "1s")
	v.SetDefault("storage.redis.write_timeout", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	// Usage defaults
	v.SetDefault("usage.default_limit_seconds", 600)
	v.SetDefault("usage.daily_reset_time", "00:00")

	// Session defaults
	v.SetDefault("session.poll_interval", "500ms")
	v.SetDefault("session.tick_interval", "1s")

	// Popup defaults
	v.SetDefault("popup.engagement_every", 10)
	v.SetDefault("popup.interval", "2m")
	v.SetDefault("popup.duration", "10s")
	v.SetDefault("popup.messages", []string{})

	// Classifier defaults
	v.SetDefault("classifier.source", "builtin")
	v.SetDefault("classifier.policy_dir", "")
	v.SetDefault("classifier.cache_size", 256)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.bind_address", "127.0.0.1")
	v.SetDefault("metrics.port", 9464)
}

// validate validates the configuration
func validate(cfg *Config) error {
	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "file"
	case "file", "redis", "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s (must be file, redis or memory)", cfg.Storage.Type)
	}

	if cfg.Storage.Type == "file" && cfg.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	if d, err := time.ParseDuration(cfg.Storage.SyncInterval); err != nil || d < 0 {
		return fmt.Errorf("invalid storage.sync_interval %q", cfg.Storage.SyncInterval)
	}

	if cfg.Usage.DefaultLimitSeconds <= 0 {
		return fmt.Errorf("invalid default limit: %d seconds", cfg.Usage.DefaultLimitSeconds)
	}

	if _, err := time.Parse("15:04", cfg.Usage.DailyResetTime); err != nil {
		return fmt.Errorf("invalid daily_reset_time %q (must be HH:MM)", cfg.Usage.DailyResetTime)
	}

	for name, value := range map[string]string{
		"session.poll_interval": cfg.Session.PollInterval,
		"session.tick_interval": cfg.Session.TickInterval,
		"popup.interval":        cfg.Popup.Interval,
		"popup.duration":        cfg.Popup.Duration,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", name)
		}
	}

	if cfg.Popup.EngagementEvery <= 0 {
		return fmt.Errorf("invalid popup.engagement_every: %d", cfg.Popup.EngagementEvery)
	}

	switch cfg.Classifier.Source {
	case "":
		cfg.Classifier.Source = "builtin"
	case "builtin", "rego":
	default:
		return fmt.Errorf("unsupported classifier source: %s (must be builtin or rego)", cfg.Classifier.Source)
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	return nil
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// defaultStatePath returns the per-user state file location
func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", "shortmeter-state.json")
	}
	return filepath.Join(dir, "shortmeter", "state.json")
}
