// Package config loads service configuration from defaults, an optional YAML
// file, and environment variables, in that order of precedence (env wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type QueueConfig struct {
	Workers            int `yaml:"workers"`
	MaxAttempts        int `yaml:"max_attempts"`
	InitialBackoffSecs int `yaml:"initial_backoff_seconds"`
	DrainGraceSeconds  int `yaml:"drain_grace_seconds"`
	PollIntervalMillis int `yaml:"poll_interval_millis"`
	// Sync disables the worker pool and runs jobs inline on Enqueue.
	Sync bool `yaml:"sync"`
}

type SLAConfig struct {
	// Hours until due, per action priority. long-term is expressed in hours
	// too (720 = 30 days).
	DueHours      map[string]int `yaml:"due_hours"`
	ReminderHours map[string]int `yaml:"reminder_hours"`
	DefaultDue    int            `yaml:"default_due_hours"`
}

type AlertConfig struct {
	WindowHours int `yaml:"window_hours"`
	Threshold   int `yaml:"threshold"`
}

type Config struct {
	Addr              string      `yaml:"addr"`
	SQLitePath        string      `yaml:"sqlite_path"`
	JWTSecret         string      `yaml:"jwt_secret"`
	LLM               LLMConfig   `yaml:"llm"`
	Queue             QueueConfig `yaml:"queue"`
	SLA               SLAConfig   `yaml:"sla"`
	Alerts            AlertConfig `yaml:"alerts"`
	EscalatorMinutes  int         `yaml:"escalator_minutes"`
	NotifyWebhookURL  string      `yaml:"notify_webhook_url"`
	RuleOverridesPath string      `yaml:"rule_overrides_path"`
}

// Default returns the built-in configuration matching the documented SLA and
// queue contract.
func Default() *Config {
	return &Config{
		Addr:       ":8080",
		SQLitePath: "cadence.db",
		JWTSecret:  "cadence-dev-secret",
		LLM: LLMConfig{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 30,
		},
		Queue: QueueConfig{
			Workers:            5,
			MaxAttempts:        3,
			InitialBackoffSecs: 5,
			DrainGraceSeconds:  30,
			PollIntervalMillis: 500,
		},
		SLA: SLAConfig{
			DueHours:      map[string]int{"high": 4, "medium": 24, "low": 72, "long-term": 720},
			ReminderHours: map[string]int{"high": 4, "medium": 24, "low": 48},
			DefaultDue:    48,
		},
		Alerts: AlertConfig{
			WindowHours: 24,
			Threshold:   3,
		},
		EscalatorMinutes: 5,
	}
}

// Load builds the config: defaults <- YAML file (CADENCE_CONFIG or path
// argument) <- environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	// .env is optional; useful in development.
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv("CADENCE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Addr, "CADENCE_ADDR")
	setString(&cfg.SQLitePath, "CADENCE_SQLITE_PATH")
	setString(&cfg.JWTSecret, "CADENCE_JWT_SECRET")
	setString(&cfg.LLM.BaseURL, "CADENCE_LLM_BASE_URL")
	setString(&cfg.LLM.APIKey, "CADENCE_LLM_API_KEY")
	setString(&cfg.LLM.Model, "CADENCE_LLM_MODEL")
	setInt(&cfg.LLM.TimeoutSeconds, "CADENCE_LLM_TIMEOUT_SECONDS")
	setInt(&cfg.Queue.Workers, "CADENCE_QUEUE_WORKERS")
	setInt(&cfg.Queue.MaxAttempts, "CADENCE_QUEUE_MAX_ATTEMPTS")
	setInt(&cfg.Queue.InitialBackoffSecs, "CADENCE_QUEUE_INITIAL_BACKOFF_SECONDS")
	setInt(&cfg.Queue.DrainGraceSeconds, "CADENCE_QUEUE_DRAIN_GRACE_SECONDS")
	setBool(&cfg.Queue.Sync, "CADENCE_QUEUE_SYNC")
	setInt(&cfg.Alerts.WindowHours, "CADENCE_ALERT_WINDOW_HOURS")
	setInt(&cfg.Alerts.Threshold, "CADENCE_ALERT_THRESHOLD")
	setInt(&cfg.EscalatorMinutes, "CADENCE_ESCALATOR_MINUTES")
	setString(&cfg.NotifyWebhookURL, "CADENCE_NOTIFY_WEBHOOK_URL")
	setString(&cfg.RuleOverridesPath, "CADENCE_RULE_OVERRIDES")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// LLMTimeout returns the configured LLM timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}
