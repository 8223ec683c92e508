package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hanig/hani-replica/internal/security"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ".env"), []byte("REPLICA_TEST_KEY=sk-from-dotenv\n"), 0600)
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(`
anthropic:
  api_key: ${REPLICA_TEST_KEY}
timezone: UTC
bot:
  mode: agent
heartbeat:
  interval: 2m
routing:
  connectives: [and]
`), 0600)
	t.Cleanup(func() { os.Unsetenv("REPLICA_TEST_KEY") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-from-dotenv" {
		t.Errorf("api key = %q", cfg.Anthropic.APIKey)
	}
	if cfg.Bot.Mode != ModeAgent || cfg.Listen.Port != 8080 {
		t.Errorf("bot mode %q, port %d", cfg.Bot.Mode, cfg.Listen.Port)
	}
	if cfg.Heartbeat.Interval != 2*time.Minute {
		t.Errorf("heartbeat interval = %v", cfg.Heartbeat.Interval)
	}
	if cfg.Security.Level != security.LevelModerate || cfg.Security.RateLimitRequests != 30 {
		t.Errorf("security defaults not applied: %+v", cfg.Security)
	}
	if len(cfg.Routing.Connectives) != 1 || len(cfg.Routing.EmailKeywords) == 0 || cfg.Routing.QuestionBonus != 0.25 {
		t.Errorf("routing = %+v", cfg.Routing)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("location = %v", cfg.Location())
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("bot:\n  mode: chaos\nlog_format: xml\ntimezone: Mars/Olympus\n"), 0600)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"bot.mode", "log_format", "timezone"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{" TRACE ", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewLogger_TraceName(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "trace", "json")
	if err != nil {
		t.Fatal(err)
	}
	logger.Log(t.Context(), LevelTrace, "payload")
	if !strings.Contains(buf.String(), `"level":"TRACE"`) {
		t.Errorf("output = %s", buf.String())
	}
	if _, err := NewLogger(&buf, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
