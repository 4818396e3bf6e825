package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/goodtune/shortmeter/internal/clock"
	"github.com/goodtune/shortmeter/internal/config"
	"github.com/goodtune/shortmeter/internal/storage"
	"github.com/goodtune/shortmeter/internal/usage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const barWidth = 30

var (
	statusJSON    bool
	statusHistory int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's short-form usage",
	Long: `Show today's accumulated short-form time, the daily limit and the
remaining allowance. Stores that keep per-day totals also print recent history.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")
	statusCmd.Flags().IntVar(&statusHistory, "history", 7, "Number of past days to show when the store keeps history")
}

type statusReport struct {
	usage.State
	RemainingSeconds int64                `json:"remaining_seconds"`
	Exceeded         bool                 `json:"exceeded"`
	History          []storage.DailyUsage `json:"history,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracker, store, err := openTracker(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	state := tracker.State()
	report := statusReport{
		State:            state,
		RemainingSeconds: state.Remaining(),
		Exceeded:         state.Exceeded(),
	}

	if hs, ok := store.(storage.HistoryStore); ok && statusHistory > 0 {
		history, err := hs.History(ctx, statusHistory)
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}
		report.History = history
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printStatus(report)
	return nil
}

func printStatus(r statusReport) {
	bold := color.New(color.Bold)
	bold.Printf("Short-form usage for %s\n", r.Date)
	fmt.Printf("  Used:      %s of %s\n", formatSeconds(r.AccumulatedSeconds), formatSeconds(r.LimitSeconds))
	fmt.Printf("  %s %3.0f%%\n", renderBar(r.Ratio(), barWidth), r.Ratio()*100)
	if r.Exceeded {
		color.New(color.FgRed, color.Bold).Println("  Daily limit reached")
	} else {
		fmt.Printf("  Remaining: %s\n", formatSeconds(r.RemainingSeconds))
	}

	if len(r.History) > 0 {
		fmt.Println()
		bold.Println("History")
		for _, day := range r.History {
			fmt.Printf("  %s  %s\n", day.Date, formatSeconds(day.TotalSeconds))
		}
	}
}

// meterColor matches the extension's bar: green, then yellow, then red.
func meterColor(ratio float64) *color.Color {
	switch {
	case ratio < 0.5:
		return color.New(color.FgGreen)
	case ratio < 0.85:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func renderBar(ratio float64, width int) string {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio*float64(width) + 0.5)
	bar := strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
	return "[" + meterColor(ratio).Sprint(bar) + "]"
}

func formatSeconds(seconds int64) string {
	return (time.Duration(seconds) * time.Second).String()
}

// openTracker loads configuration and the persisted triple for the offline
// commands. Unlike the messaging host these commands fail when the store is
// unreachable, since nothing they do would be kept.
func openTracker(ctx context.Context) (*usage.Tracker, storage.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	resetTime, err := clock.ParseResetTime(cfg.Usage.DailyResetTime)
	if err != nil {
		return nil, nil, err
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	tracker := usage.NewTracker(store, clock.RealClock{}, usage.Config{
		DefaultLimitSeconds: cfg.Usage.DefaultLimitSeconds,
		ResetTime:           resetTime,
	}, logger)

	if err := tracker.Load(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	return tracker, store, nil
}
