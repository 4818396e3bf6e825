package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/shortmeter/internal/settings"
	"github.com/spf13/cobra"
)

var limitCmd = &cobra.Command{
	Use:   "limit MINUTES",
	Short: "Set the daily limit in minutes",
	Long: `Set the shared daily limit. Fractional input is rounded to the nearest
minute; values below one minute are rejected. Accumulated time is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runLimit,
}

func init() {
	rootCmd.AddCommand(limitCmd)
}

func runLimit(cmd *cobra.Command, args []string) error {
	minutes, err := settings.ParseMinutes(args[0])
	if err != nil {
		return fmt.Errorf("%q: %w", args[0], err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracker, store, err := openTracker(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if !tracker.SetLimit(minutes) {
		return fmt.Errorf("%q: %w", args[0], settings.ErrInvalidLimit)
	}

	color.Green("Daily limit set to %d minutes", minutes)
	state := tracker.State()
	if state.Exceeded() {
		color.Yellow("Today's usage (%s) already exceeds the new limit", formatSeconds(state.AccumulatedSeconds))
	}

	return nil
}
