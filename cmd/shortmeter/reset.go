package main

import (
	"context"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear today's accumulated usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tracker, store, err := openTracker(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		tracker.Reset()
		color.Green("Usage for %s cleared", tracker.State().Date)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
