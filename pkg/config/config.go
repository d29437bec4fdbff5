// Package config loads the Protect service configuration from a YAML file
// with environment overrides. Collaborator selection (live vs memory ledger)
// is an explicit value handed to constructors, not a process-wide flag.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type LedgerConfig struct {
	Mode           string `yaml:"mode"` // "memory" | "live"
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type AdjudicationConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type Config struct {
	ListenPort  string `yaml:"listen_port"`
	DatabaseURL string `yaml:"database_url"`

	ServiceToken  string `yaml:"service_token"`
	CronSecret    string `yaml:"cron_secret"`
	WebhookSecret string `yaml:"webhook_secret"`

	QuoteTTLHours         int `yaml:"quote_ttl_hours"`
	SilenceThresholdHours int `yaml:"silence_threshold_hours"`

	Ledger       LedgerConfig       `yaml:"ledger"`
	Adjudication AdjudicationConfig `yaml:"adjudication"`
}

func Default() Config {
	return Config{
		ListenPort:            "8090",
		CronSecret:            "dev-cron-secret",
		QuoteTTLHours:         24,
		SilenceThresholdHours: 24,
		Ledger:                LedgerConfig{Mode: "memory"},
		Adjudication:          AdjudicationConfig{BaseURL: "http://claimsiq:3000"},
	}
}

// Load reads path (optional, "" skips the file) over the defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.ListenPort, "SERVICE_PORT")
	overrideString(&c.DatabaseURL, "DATABASE_URL")
	overrideString(&c.ServiceToken, "SERVICE_TOKEN")
	overrideString(&c.CronSecret, "CRON_SECRET")
	overrideString(&c.WebhookSecret, "ANCHOR_WEBHOOK_SECRET")
	overrideString(&c.Ledger.Mode, "LEDGER_MODE")
	overrideString(&c.Ledger.BaseURL, "LEDGER_BASE_URL")
	overrideString(&c.Ledger.Token, "LEDGER_TOKEN")
	overrideString(&c.Adjudication.BaseURL, "CLAIMSIQ_BASE_URL")
	overrideString(&c.Adjudication.Token, "CLAIMSIQ_TOKEN")
	overrideInt(&c.SilenceThresholdHours, "SILENCE_THRESHOLD_HOURS")
	overrideInt(&c.QuoteTTLHours, "QUOTE_TTL_HOURS")
}

func (c Config) QuoteTTL() time.Duration {
	return time.Duration(c.QuoteTTLHours) * time.Hour
}

func (c Config) SilenceThreshold() time.Duration {
	return time.Duration(c.SilenceThresholdHours) * time.Hour
}

func (c LedgerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c AdjudicationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func overrideString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
