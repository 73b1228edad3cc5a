// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/seo-automation/internal/storage/local"
)

// EnvPrefix prefixes every environment override, e.g. SEO_DATABASE_DSN.
const EnvPrefix = "SEO"

// Storage backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the website fetch.
type CrawlerConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Timeout returns the fetch bound as a duration.
func (c CrawlerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AnalysisConfig selects the text-generation provider.
type AnalysisConfig struct {
	Provider       string `mapstructure:"provider"`
	Model          string `mapstructure:"model"`
	MaxTokens      int    `mapstructure:"max_tokens"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	APIKey         string `mapstructure:"api_key"`
}

// Timeout returns the provider call bound as a duration.
func (c AnalysisConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DatabaseConfig controls access to Postgres. An empty DSN selects the in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// StorageConfig selects where crawl snapshots go.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	Bucket  string       `mapstructure:"bucket"`
	Prefix  string       `mapstructure:"prefix"`
	Local   local.Config `mapstructure:"local"`
}

// PubSubConfig names the pipeline event topic. An empty topic selects the in-memory publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	Ordered   bool   `mapstructure:"ordered"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig names the service in traces.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from a .env file, the optional config file at path, and
// SEO_-prefixed environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadDotEnv exports the variables in the named files without overriding ones already
// set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (compatible; SEOBot/1.0)")
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.rate_limit_rps", 1.0)
	v.SetDefault("crawler.rate_limit_burst", 2)
	v.SetDefault("analysis.provider", "anthropic")
	v.SetDefault("analysis.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("analysis.max_tokens", 4000)
	v.SetDefault("analysis.timeout_seconds", 60)
	v.SetDefault("analysis.api_key", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.local.base_dir", "data/snapshots")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("pubsub.ordered", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.service_name", "seo-automation")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.RateLimitRPS < 0 {
		return fmt.Errorf("crawler.rate_limit_rps must not be negative")
	}
	switch strings.ToLower(c.Analysis.Provider) {
	case "anthropic", "openai":
		if c.Analysis.Model == "" {
			return fmt.Errorf("analysis.model must be set for provider %s", c.Analysis.Provider)
		}
	case "none", "":
	default:
		return fmt.Errorf("analysis.provider %q is not one of anthropic, openai, none", c.Analysis.Provider)
	}
	if c.Analysis.MaxTokens <= 0 {
		return fmt.Errorf("analysis.max_tokens must be > 0")
	}
	if c.Analysis.TimeoutSeconds <= 0 {
		return fmt.Errorf("analysis.timeout_seconds must be > 0")
	}
	if c.Database.MinConns < 0 || (c.Database.MaxConns > 0 && c.Database.MinConns > c.Database.MaxConns) {
		return fmt.Errorf("database.min_conns must be between 0 and database.max_conns")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}
