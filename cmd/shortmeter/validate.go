package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/shortmeter/internal/config"
	siterego "github.com/goodtune/shortmeter/internal/site/rego"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the shortmeter configuration file for syntax and semantic errors.
When the rego classifier is configured its policies are compiled as well.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return err
	}

	// Compile classifier policies
	if cfg.Classifier.Source == "rego" {
		classifier, err := siterego.New(siterego.Config{
			PolicyDir: cfg.Classifier.PolicyDir,
			CacheSize: cfg.Classifier.CacheSize,
		}, zerolog.Nop())
		if err != nil {
			color.New(color.FgRed).Fprintf(os.Stderr, "Classifier policy failed to compile: %v\n", err)
			return err
		}
		fmt.Fprintf(os.Stdout, "Classifier policies: %s\n", strings.Join(classifier.Modules(), ", "))
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		color.New(color.FgYellow).Fprintf(os.Stderr, "Warning: could not check for unknown keys: %v\n", err)
	}

	color.New(color.FgGreen).Fprintf(os.Stdout, "Configuration is valid: %s\n", configPath)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		red.Fprintf(os.Stdout, "WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Default())
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	v := viper.New()
	config.SetDefaults(v)

	keys := map[string]bool{
		// Not defaulted
		"storage.redis.password": true,
	}
	for _, key := range v.AllKeys() {
		keys[key] = true
	}

	return keys
}

type dumpSection struct {
	name   string
	fields []dumpEntry
}

type dumpEntry struct {
	name         string
	value, deflt interface{}
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, def *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	sections := []dumpSection{
		{"storage", []dumpEntry{
			{"type", cfg.Storage.Type, def.Storage.Type},
			{"path", cfg.Storage.Path, def.Storage.Path},
			{"history_days", cfg.Storage.HistoryDays, def.Storage.HistoryDays},
			{"sync_interval", cfg.Storage.SyncInterval, def.Storage.SyncInterval},
		}},
		{"storage.redis", []dumpEntry{
			{"host", cfg.Storage.Redis.Host, def.Storage.Redis.Host},
			{"port", cfg.Storage.Redis.Port, def.Storage.Redis.Port},
			{"password", redactPassword(cfg.Storage.Redis.Password), redactPassword(def.Storage.Redis.Password)},
			{"db", cfg.Storage.Redis.DB, def.Storage.Redis.DB},
			{"pool_size", cfg.Storage.Redis.PoolSize, def.Storage.Redis.PoolSize},
			{"min_idle_conns", cfg.Storage.Redis.MinIdleConns, def.Storage.Redis.MinIdleConns},
			{"dial_timeout", cfg.Storage.Redis.DialTimeout, def.Storage.Redis.DialTimeout},
			{"read_timeout", cfg.Storage.Redis.ReadTimeout, def.Storage.Redis.ReadTimeout},
			{"write_timeout", cfg.Storage.Redis.WriteTimeout, def.Storage.Redis.WriteTimeout},
		}},
		{"logging", []dumpEntry{
			{"level", cfg.Logging.Level, def.Logging.Level},
			{"format", cfg.Logging.Format, def.Logging.Format},
			{"file", cfg.Logging.File, def.Logging.File},
		}},
		{"usage", []dumpEntry{
			{"default_limit_seconds", cfg.Usage.DefaultLimitSeconds, def.Usage.DefaultLimitSeconds},
			{"daily_reset_time", cfg.Usage.DailyResetTime, def.Usage.DailyResetTime},
		}},
		{"session", []dumpEntry{
			{"poll_interval", cfg.Session.PollInterval, def.Session.PollInterval},
			{"tick_interval", cfg.Session.TickInterval, def.Session.TickInterval},
		}},
		{"popup", []dumpEntry{
			{"engagement_every", cfg.Popup.EngagementEvery, def.Popup.EngagementEvery},
			{"interval", cfg.Popup.Interval, def.Popup.Interval},
			{"duration", cfg.Popup.Duration, def.Popup.Duration},
			{"messages", len(cfg.Popup.Messages), len(def.Popup.Messages)},
		}},
		{"classifier", []dumpEntry{
			{"source", cfg.Classifier.Source, def.Classifier.Source},
			{"policy_dir", cfg.Classifier.PolicyDir, def.Classifier.PolicyDir},
			{"cache_size", cfg.Classifier.CacheSize, def.Classifier.CacheSize},
		}},
		{"metrics", []dumpEntry{
			{"enabled", cfg.Metrics.Enabled, def.Metrics.Enabled},
			{"bind_address", cfg.Metrics.BindAddress, def.Metrics.BindAddress},
			{"port", cfg.Metrics.Port, def.Metrics.Port},
		}},
	}

	for _, section := range sections {
		_, _ = cyan.Printf("\n[%s]\n", section.name)
		for _, f := range section.fields {
			dumpField("  "+f.name, f.value, f.deflt, yellow, green)
		}
	}

	fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
