package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands.
// Browsers launch native messaging hosts with their own arguments (the
// caller origin, a manifest path, a parent window flag), so unknown
// arguments and flags are tolerated here.
var rootCmd = &cobra.Command{
	Use:   "shortmeter",
	Short: "shortmeter - daily short-form video usage meter",
	Long: `shortmeter meters time spent on short-form video sites (TikTok, YouTube
Shorts, Instagram Reels) against one shared daily limit. It runs as a browser
native messaging host and shows dissuasion popups as usage builds up.`,
	Version:            version,
	Args:               cobra.ArbitraryArgs,
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	SilenceUsage:       true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to the messaging host when no subcommand is provided
		return runHost(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "shortmeter.yaml"
	}
	return filepath.Join(dir, "shortmeter", "config.yaml")
}
