package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/goodtune/shortmeter/internal/config"
	"github.com/goodtune/shortmeter/internal/site"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify URL...",
	Short: "Show how URLs are classified",
	Long: `Classify each URL with the configured classifier and report whether it
counts as short-form video, and whether it is TikTok-like (counted per tick)
or URL-change based (counted per navigation).`,
	Example: `  shortmeter classify https://www.youtube.com/shorts/abc123
  shortmeter -c config.yaml classify www.tiktok.com/foryou instagram.com/reels/xyz`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	classifier, err := buildClassifier(cfg.Classifier, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize classifier: %w", err)
	}

	bold := color.New(color.Bold)
	for _, raw := range args {
		loc, err := site.ParseURL(raw)
		if err != nil {
			color.Red("%s: %v", raw, err)
			continue
		}

		result := classifier.Classify(loc)
		bold.Printf("%s\n", loc.Href)
		if !result.ShortForm {
			fmt.Printf("  %s\n", color.New(color.Faint).Sprint("not short-form"))
			continue
		}
		fmt.Printf("  %s (%s)\n", color.YellowString("short-form"), result.Kind())
	}

	return nil
}
