package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/goodtune/shortmeter/internal/config"
	"github.com/goodtune/shortmeter/internal/site"
	siterego "github.com/goodtune/shortmeter/internal/site/rego"
	"github.com/goodtune/shortmeter/internal/storage/file"
	"github.com/goodtune/shortmeter/internal/storage/memory"
	"github.com/rs/zerolog"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestRenderBar(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "[----------]"},
		{0.5, "[#####-----]"},
		{1, "[##########]"},
		{1.7, "[##########]"},
		{-1, "[----------]"},
	}

	for _, tt := range tests {
		if got := renderBar(tt.ratio, 10); got != tt.want {
			t.Errorf("renderBar(%v) = %q, want %q", tt.ratio, got, tt.want)
		}
	}
}

func TestMeterColor(t *testing.T) {
	tests := []struct {
		ratio float64
		want  color.Attribute
	}{
		{0, color.FgGreen},
		{0.49, color.FgGreen},
		{0.5, color.FgYellow},
		{0.84, color.FgYellow},
		{0.85, color.FgRed},
		{1, color.FgRed},
	}

	for _, tt := range tests {
		if !meterColor(tt.ratio).Equals(color.New(tt.want)) {
			t.Errorf("meterColor(%v) did not match attribute %v", tt.ratio, tt.want)
		}
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := formatSeconds(320); got != "5m20s" {
		t.Errorf("formatSeconds(320) = %q", got)
	}
	if got := formatSeconds(0); got != "0s" {
		t.Errorf("formatSeconds(0) = %q", got)
	}
}

func TestOpenStorage(t *testing.T) {
	dir := t.TempDir()

	store, err := openStorage(config.StorageConfig{Type: "file", Path: filepath.Join(dir, "state.json")})
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	if _, ok := store.(*file.Store); !ok {
		t.Errorf("expected *file.Store, got %T", store)
	}
	store.Close()

	store, err = openStorage(config.StorageConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Errorf("expected *memory.Store, got %T", store)
	}

	if _, err := openStorage(config.StorageConfig{Type: "bolt"}); err == nil {
		t.Error("expected error for unsupported storage type")
	}
}

func TestBuildClassifier(t *testing.T) {
	c, err := buildClassifier(config.ClassifierConfig{Source: "builtin"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	if _, ok := c.(site.Builtin); !ok {
		t.Errorf("expected site.Builtin, got %T", c)
	}

	c, err = buildClassifier(config.ClassifierConfig{Source: "rego", CacheSize: 8}, zerolog.Nop())
	if err != nil {
		t.Fatalf("rego: %v", err)
	}
	if _, ok := c.(*siterego.Classifier); !ok {
		t.Errorf("expected *rego.Classifier, got %T", c)
	}
}

func TestSetupLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "shortmeter.log")

	logger, closeLog, err := setupLogger(config.LoggingConfig{Level: "info", Format: "json", File: path})
	if err != nil {
		t.Fatalf("setupLogger: %v", err)
	}
	logger.Info().Msg("hello")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"message":"hello"`) {
		t.Errorf("log file missing message: %s", data)
	}
}

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
usage:
  default_limit_seconds: 900
popup:
  engagment_every: 5
storage:
  redis:
    password: secret
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	unknown, err := findUnknownKeys(path)
	if err != nil {
		t.Fatalf("findUnknownKeys: %v", err)
	}
	if len(unknown) != 1 || unknown[0] != "popup.engagment_every" {
		t.Errorf("unknown keys = %v, want [popup.engagment_every]", unknown)
	}
}
