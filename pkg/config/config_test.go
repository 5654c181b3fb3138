package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Database.Driver != "memory" || cfg.Classifier.Provider != "none" {
		t.Fatalf("unexpected defaults %+v %+v", cfg.Database, cfg.Classifier)
	}
	if cfg.Business.Timezone != "America/New_York" || cfg.Classifier.MinAIConfidence != 0.2 {
		t.Fatalf("unexpected business defaults %+v %+v", cfg.Business, cfg.Classifier)
	}
	if cfg.Validation.Window != 48*time.Hour || cfg.Validation.LookbackDays != 7 {
		t.Fatalf("unexpected validation defaults %+v", cfg.Validation)
	}
	if cfg.Reclassify.BatchSize != 50 || cfg.Reclassify.LookbackDays != 30 {
		t.Fatalf("unexpected reclassify defaults %+v", cfg.Reclassify)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  sqlite_path: /tmp/calls.db
classifier:
  provider: anthropic
  timeout: 5s
business:
  timezone: America/Chicago
validation:
  window: 24h
  concurrency: 2
crm:
  source: http
  base_url: https://crm.example.com/api
slack:
  channel: C123
`)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("CRON_SECRET", "topsecret")
	t.Setenv("SLACK_TOKEN", "xoxb-1")
	t.Setenv("RECLASSIFY_BATCH_SIZE", "10")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.SQLitePath != "/tmp/calls.db" {
		t.Fatalf("unexpected database %+v", cfg.Database)
	}
	if cfg.Classifier.Provider != "anthropic" || cfg.Classifier.Timeout != 5*time.Second {
		t.Fatalf("unexpected classifier %+v", cfg.Classifier)
	}
	if cfg.Anthropic.APIKey != "sk-ant-test" || cfg.Server.CronSecret != "topsecret" || cfg.Slack.Token != "xoxb-1" {
		t.Fatalf("env overrides not applied: anthropic=%q cron=%q slack=%q",
			cfg.Anthropic.APIKey, cfg.Server.CronSecret, cfg.Slack.Token)
	}
	if cfg.Validation.Window != 24*time.Hour || cfg.Validation.Concurrency != 2 {
		t.Fatalf("unexpected validation %+v", cfg.Validation)
	}
	if cfg.Reclassify.BatchSize != 10 {
		t.Fatalf("expected nested env override, got batch size %d", cfg.Reclassify.BatchSize)
	}
}

func TestLoadConfigDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://calls:pw@db.internal:6543/callscope?sslmode=require")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	db := cfg.Database
	if db.Driver != "postgres" || db.Host != "db.internal" || db.Port != 6543 ||
		db.User != "calls" || db.Password != "pw" || db.DBName != "callscope" || db.SSLMode != "require" {
		t.Fatalf("unexpected database config %+v", db)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"provider", func(c *Config) { c.Classifier.Provider = "gemini" }, "classifier.provider"},
		{"timezone", func(c *Config) { c.Business.Timezone = "Mars/Olympus" }, "business.timezone"},
		{"confidence", func(c *Config) { c.Classifier.MinAIConfidence = 1.5 }, "min_ai_confidence"},
		{"concurrency", func(c *Config) { c.Validation.Concurrency = 0 }, "validation.concurrency"},
		{"crm http", func(c *Config) { c.CRM.Source = "http" }, "crm.base_url"},
		{"crm postgres", func(c *Config) { c.CRM.Source = "postgres" }, "crm.dsn"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := *base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
