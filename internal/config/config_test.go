package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doorman.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram_token: abc123
workers: 8
window: 5m
rate_limit:
  algorithm: leaky_bucket
  interval: 30s
`)
	cfg := Default()
	if err := Load(path, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TelegramToken != "abc123" {
		t.Errorf("TelegramToken = %q", cfg.TelegramToken)
	}
	if cfg.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Workers)
	}
	if cfg.Window != 5*time.Minute {
		t.Errorf("Window = %v, want 5m", cfg.Window)
	}
	if cfg.RateLimit.Algorithm != "leaky_bucket" || cfg.RateLimit.Interval != 30*time.Second {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	// Untouched fields keep their defaults.
	if cfg.Bind != ":8080" {
		t.Errorf("Bind = %q, want default :8080", cfg.Bind)
	}
	if cfg.RateLimit.Capacity != 5 {
		t.Errorf("Capacity = %v, want default 5", cfg.RateLimit.Capacity)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg := Default()
	if err := Load(filepath.Join(t.TempDir(), "absent.yaml"), &cfg); err == nil {
		t.Error("missing file accepted")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "workers: [not an int")
	cfg := Default()
	if err := Load(path, &cfg); err == nil {
		t.Error("malformed YAML accepted")
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.TelegramToken = "tok"
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing token", func(c *Config) { c.TelegramToken = "" }, "telegram_token"},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"zero window", func(c *Config) { c.Window = 0 }, "window"},
		{"bad algorithm", func(c *Config) { c.RateLimit.Algorithm = "sliding_log" }, "algorithm"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.TelegramToken = "tok"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
