// Package config binds the process configuration: defaults, then an optional
// YAML file, then command-line flags on top.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full doorman configuration.
type Config struct {
	TelegramToken string `yaml:"telegram_token"`
	QuizFile      string `yaml:"quiz_file"`
	DataDir       string `yaml:"data_dir"`
	Bind          string `yaml:"bind"`
	LogLevel      string `yaml:"log_level"`

	Workers int `yaml:"workers"`

	Window       time.Duration `yaml:"window"`
	Margin       time.Duration `yaml:"margin"`
	Cooldown     time.Duration `yaml:"cooldown"`
	CleanupDelay time.Duration `yaml:"cleanup_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`

	RateLimit RateLimit `yaml:"rate_limit"`

	OtelEnabled  bool   `yaml:"otel_enabled"`
	OtelEndpoint string `yaml:"otel_endpoint"`
}

// RateLimit selects and tunes the admission-control algorithm.
type RateLimit struct {
	Algorithm  string        `yaml:"algorithm"`
	Limit      int64         `yaml:"limit"`
	Window     time.Duration `yaml:"window"`
	Capacity   float64       `yaml:"capacity"`
	RefillRate float64       `yaml:"refill_rate"`
	Interval   time.Duration `yaml:"interval"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		QuizFile:     "quizzes.json",
		DataDir:      "data",
		Bind:         ":8080",
		LogLevel:     "info",
		Workers:      4,
		Window:       3 * time.Minute,
		Margin:       5 * time.Minute,
		Cooldown:     time.Minute,
		CleanupDelay: 30 * time.Second,
		PollInterval: time.Second,
		RateLimit: RateLimit{
			Algorithm:  "token_bucket",
			Limit:      3,
			Window:     time.Minute,
			Capacity:   5,
			RefillRate: 0.1,
			Interval:   20 * time.Second,
		},
	}
}

// Load overlays the YAML file at path onto cfg. A missing path is not an
// error when it was never explicitly set.
func Load(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("telegram_token is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1")
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	switch c.RateLimit.Algorithm {
	case "fixed_window", "token_bucket", "leaky_bucket":
	default:
		return fmt.Errorf("unknown rate_limit.algorithm %q", c.RateLimit.Algorithm)
	}
	return nil
}
