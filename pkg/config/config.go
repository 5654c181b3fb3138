package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Business   BusinessConfig   `mapstructure:"business"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	OpenAI     LLMConfig        `mapstructure:"openai"`
	Anthropic  LLMConfig        `mapstructure:"anthropic"`
	Validation ValidationConfig `mapstructure:"validation"`
	Reclassify ReclassifyConfig `mapstructure:"reclassify"`
	CRM        CRMConfig        `mapstructure:"crm"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Slack      SlackConfig      `mapstructure:"slack"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	CronSecret   string        `mapstructure:"cron_secret"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig selects the classification store. Driver is memory, postgres or sqlite.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	DBName     string `mapstructure:"dbname"`
	SSLMode    string `mapstructure:"sslmode"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type BusinessConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// ClassifierConfig picks the text-generation provider: openai, anthropic or none.
type ClassifierConfig struct {
	Provider        string        `mapstructure:"provider"`
	Version         string        `mapstructure:"version"`
	MinAIConfidence float64       `mapstructure:"min_ai_confidence"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type ValidationConfig struct {
	Window       time.Duration `mapstructure:"window"`
	Concurrency  int           `mapstructure:"concurrency"`
	LookbackDays int           `mapstructure:"lookback_days"`
	Schedule     string        `mapstructure:"schedule"`
}

type ReclassifyConfig struct {
	BatchSize    int    `mapstructure:"batch_size"`
	Concurrency  int    `mapstructure:"concurrency"`
	LookbackDays int    `mapstructure:"lookback_days"`
	Schedule     string `mapstructure:"schedule"`
}

// CRMConfig selects the system of record: http, postgres or none.
type CRMConfig struct {
	Source       string        `mapstructure:"source"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetryTime time.Duration `mapstructure:"max_retry_time"`
	DSN          string        `mapstructure:"dsn"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type SlackConfig struct {
	Token   string `mapstructure:"token"`
	Channel string `mapstructure:"channel"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Driver:   "postgres",
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.development", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cron_secret", "")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "callscope")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlite_path", "callscope.db")

	v.SetDefault("business.timezone", "America/New_York")

	v.SetDefault("classifier.provider", "none")
	v.SetDefault("classifier.version", "v1.0")
	v.SetDefault("classifier.min_ai_confidence", 0.2)
	v.SetDefault("classifier.timeout", 20*time.Second)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.max_tokens", 500)
	v.SetDefault("openai.temperature", 0.2)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.max_tokens", 500)
	v.SetDefault("anthropic.temperature", 0.2)

	v.SetDefault("validation.window", 48*time.Hour)
	v.SetDefault("validation.concurrency", 4)
	v.SetDefault("validation.lookback_days", 7)
	v.SetDefault("validation.schedule", "0 2 * * *")

	v.SetDefault("reclassify.batch_size", 50)
	v.SetDefault("reclassify.concurrency", 4)
	v.SetDefault("reclassify.lookback_days", 30)
	v.SetDefault("reclassify.schedule", "30 2 * * *")

	v.SetDefault("crm.source", "none")
	v.SetDefault("crm.base_url", "")
	v.SetDefault("crm.api_key", "")
	v.SetDefault("crm.timeout", 15*time.Second)
	v.SetDefault("crm.max_retry_time", 30*time.Second)
	v.SetDefault("crm.dsn", "")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("slack.token", "")
	v.SetDefault("slack.channel", "")

}

// LoadConfig reads the YAML file at path (skipped when path is empty), applies
// defaults and environment overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Enable environment variable support: server.addr -> SERVER_ADDR
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		dbConfig.SQLitePath = config.Database.SQLitePath
		config.Database = dbConfig
	}

	// Well-known provider variables win over nested keys
	overrides := []struct {
		env    string
		target *string
	}{
		{"OPENAI_API_KEY", &config.OpenAI.APIKey},
		{"ANTHROPIC_API_KEY", &config.Anthropic.APIKey},
		{"TELEGRAM_TOKEN", &config.Telegram.Token},
		{"SLACK_TOKEN", &config.Slack.Token},
		{"CRM_API_KEY", &config.CRM.APIKey},
		{"CRON_SECRET", &config.Server.CronSecret},
	}
	for _, o := range overrides {
		if val := v.GetString(o.env); val != "" {
			*o.target = val
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "memory", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be memory, postgres or sqlite", c.Database.Driver))
	}
	switch c.Classifier.Provider {
	case "none", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("classifier.provider %q must be none, openai or anthropic", c.Classifier.Provider))
	}
	switch c.CRM.Source {
	case "none":
	case "http":
		if c.CRM.BaseURL == "" {
			errs = append(errs, errors.New("crm.base_url is required for the http source"))
		}
	case "postgres":
		if c.CRM.DSN == "" {
			errs = append(errs, errors.New("crm.dsn is required for the postgres source"))
		}
	default:
		errs = append(errs, fmt.Errorf("crm.source %q must be none, http or postgres", c.CRM.Source))
	}

	if _, err := time.LoadLocation(c.Business.Timezone); err != nil || c.Business.Timezone == "" {
		errs = append(errs, fmt.Errorf("business.timezone %q is not a valid IANA zone", c.Business.Timezone))
	}
	if c.Classifier.MinAIConfidence < 0 || c.Classifier.MinAIConfidence > 1 {
		errs = append(errs, fmt.Errorf("classifier.min_ai_confidence %v must be in [0,1]", c.Classifier.MinAIConfidence))
	}
	if c.Validation.Concurrency < 1 {
		errs = append(errs, errors.New("validation.concurrency must be >= 1"))
	}
	if c.Validation.Window <= 0 {
		errs = append(errs, errors.New("validation.window must be positive"))
	}
	if c.Reclassify.Concurrency < 1 {
		errs = append(errs, errors.New("reclassify.concurrency must be >= 1"))
	}
	if c.Reclassify.BatchSize < 1 {
		errs = append(errs, errors.New("reclassify.batch_size must be >= 1"))
	}
	if c.Validation.LookbackDays < 1 || c.Reclassify.LookbackDays < 1 {
		errs = append(errs, errors.New("lookback_days must be >= 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
