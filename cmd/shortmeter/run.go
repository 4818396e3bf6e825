package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/goodtune/shortmeter/internal/clock"
	"github.com/goodtune/shortmeter/internal/config"
	"github.com/goodtune/shortmeter/internal/engine"
	"github.com/goodtune/shortmeter/internal/host"
	"github.com/goodtune/shortmeter/internal/metrics"
	"github.com/goodtune/shortmeter/internal/nativemsg"
	"github.com/goodtune/shortmeter/internal/popup"
	"github.com/goodtune/shortmeter/internal/site"
	siterego "github.com/goodtune/shortmeter/internal/site/rego"
	"github.com/goodtune/shortmeter/internal/storage"
	"github.com/goodtune/shortmeter/internal/storage/file"
	"github.com/goodtune/shortmeter/internal/storage/memory"
	"github.com/goodtune/shortmeter/internal/storage/redis"
	"github.com/goodtune/shortmeter/internal/systemd"
	"github.com/goodtune/shortmeter/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [origin]",
	Short: "Run as a browser native messaging host",
	Long: `Run the metering engine, exchanging native messaging frames with the
browser extension over stdin and stdout. Logs go to stderr or logging.file.`,
	Args:               cobra.ArbitraryArgs,
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	RunE:               runHost,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runHost(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger; stdout belongs to the messaging protocol
	logger, closeLog, err := setupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closeLog()
	log.Logger = logger

	event := logger.Info().
		Str("version", version).
		Str("config", configPath)
	if len(args) > 0 {
		event = event.Str("origin", args[0])
	}
	event.Msg("Starting shortmeter")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}

	resetTime, err := clock.ParseResetTime(cfg.Usage.DailyResetTime)
	if err != nil {
		return err
	}

	// Initialize storage; an unreachable store degrades to memory only
	var usageStore storage.Store
	store, err := openStorage(cfg.Storage)
	if err != nil {
		logger.Warn().Err(err).Str("type", cfg.Storage.Type).Msg("Storage unavailable, usage will not persist")
	} else {
		async := storage.NewAsyncStore(store, storage.DefaultWriteTimeout, logger)
		defer func() {
			if err := async.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close storage")
			}
		}()
		usageStore = async

		logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")
	}

	// Other processes (the CLI, a second browser) may edit the stored state
	var syncInterval time.Duration
	if usageStore != nil && cfg.Storage.Type != "memory" {
		syncInterval = config.ParseDuration(cfg.Storage.SyncInterval, 0)
	}

	tracker := usage.NewTracker(usageStore, clock.RealClock{}, usage.Config{
		DefaultLimitSeconds: cfg.Usage.DefaultLimitSeconds,
		ResetTime:           resetTime,
	}, logger)

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 5*time.Second)
	if err := tracker.Load(loadCtx); err != nil {
		logger.Warn().Err(err).Msg("Continuing with in-memory usage state")
	}
	cancelLoad()
	logger.Debug().Bool("persistent", tracker.Persistent()).Msg("Usage state loaded")

	classifier, err := buildClassifier(cfg.Classifier, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize classifier: %w", err)
	}

	// Wire the engine to the browser
	hostState := host.NewState(true)
	bridge := nativemsg.NewBridge(os.Stdin, os.Stdout, hostState, logger)

	eng := engine.New(hostState, bridge, classifier, tracker, engine.Config{
		PollInterval: config.ParseDuration(cfg.Session.PollInterval, engine.DefaultPollInterval),
		TickInterval: config.ParseDuration(cfg.Session.TickInterval, engine.DefaultTickInterval),
		Popup: popup.Config{
			EngagementEvery: cfg.Popup.EngagementEvery,
			Interval:        config.ParseDuration(cfg.Popup.Interval, popup.DefaultInterval),
			Duration:        config.ParseDuration(cfg.Popup.Duration, popup.DefaultDuration),
		},
		Messages:     cfg.Popup.Messages,
		SyncInterval: syncInterval,
	}, logger)

	bridge.OnSetLimit(func(minutes string) {
		eng.Submit(func() {
			accepted := eng.RequestSetLimit(minutes)
			bridge.LimitResult(accepted, eng.State().LimitSeconds)
		})
	})

	// Roll the meter over at the reset time even when idle
	resetScheduler := usage.NewResetScheduler(clock.RealClock{}, resetTime, func() {
		eng.Submit(eng.CheckRollover)
	}, logger)
	resetScheduler.Start()
	defer resetScheduler.Stop()

	// Start metrics server
	if cfg.Metrics.Enabled {
		metricsAddr := net.JoinHostPort(cfg.Metrics.BindAddress, strconv.Itoa(cfg.Metrics.Port))
		metricsServer := metrics.NewServer(metricsAddr, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				logger.Error().Err(err).Msg("Error stopping Metrics Server")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Push edits made by other processes without waiting for the next sync
	if fs, ok := store.(*file.Store); ok && usageStore != nil {
		if err := fs.Watch(ctx, file.DefaultDebounce, func() {
			eng.Submit(eng.SyncStore)
		}, logger); err != nil {
			logger.Warn().Err(err).Str("path", fs.Path()).Msg("Falling back to periodic state sync")
		} else {
			logger.Info().Str("path", fs.Path()).Msg("Watching state file")
		}
	}

	// The browser closing stdin ends the process
	go func() {
		if err := bridge.Serve(); err != nil {
			logger.Error().Err(err).Msg("Native messaging connection failed")
		}
		stop()
	}()

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	if err := eng.Run(ctx); err != nil {
		return err
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	logger.Info().Msg("shortmeter stopped")

	return nil
}

// buildClassifier returns the configured site classifier
func buildClassifier(cfg config.ClassifierConfig, logger zerolog.Logger) (site.Classifier, error) {
	switch cfg.Source {
	case "rego":
		return siterego.New(siterego.Config{
			PolicyDir: cfg.PolicyDir,
			CacheSize: cfg.CacheSize,
		}, logger)
	default:
		return site.Builtin{}, nil
	}
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "file":
		return file.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis, cfg.HistoryDays)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration. Output goes to
// stderr unless a log file is configured.
func setupLogger(cfg config.LoggingConfig) (zerolog.Logger, func(), error) {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.File != "" {
		if err := storage.EnsureParentDir(cfg.File); err != nil {
			return zerolog.Nop(), closeFn, err
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out, NoColor: cfg.File != ""}).With().Timestamp().Logger(), closeFn, nil
	}

	// Default to JSON
	return zerolog.New(out).With().Timestamp().Logger(), closeFn, nil
}
