// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Sentiment SentimentConfig `mapstructure:"sentiment"`
	DB        DBConfig        `mapstructure:"db"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ScraperConfig controls the scraper service and pipeline.
type ScraperConfig struct {
	Port                   int    `mapstructure:"port"`
	Concurrency            int    `mapstructure:"concurrency"`
	FollowLinks            bool   `mapstructure:"follow_links"`
	PluginTimeoutSeconds   int    `mapstructure:"plugin_timeout_seconds"`
	MarketplaceBaseURL     string `mapstructure:"marketplace_base_url"`
	MarketplaceUserAgent   string `mapstructure:"marketplace_user_agent"`
	MarketplaceMaxItems    int    `mapstructure:"marketplace_max_items"`
	MarketplaceTimeoutSecs int    `mapstructure:"marketplace_timeout_seconds"`
}

// SentimentConfig controls the sentiment service and runner.
type SentimentConfig struct {
	Port      int `mapstructure:"port"`
	BatchSize int `mapstructure:"batch_size"`
}

// DBConfig locates the embedded database.
type DBConfig struct {
	Path string `mapstructure:"path"`
}

// ProviderConfig configures the external scoring API client.
type ProviderConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
}

// RuntimeConfig holds orchestrator paths and deadlines.
type RuntimeConfig struct {
	RunDir                 string `mapstructure:"run_dir"`
	CredentialsPath        string `mapstructure:"credentials_path"`
	StartupDeadlineSeconds int    `mapstructure:"startup_deadline_seconds"`
	StopGraceSeconds       int    `mapstructure:"stop_grace_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPQT")
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("scraper.port", 8090)
	v.SetDefault("scraper.concurrency", 4)
	v.SetDefault("scraper.follow_links", true)
	v.SetDefault("scraper.plugin_timeout_seconds", 30)
	v.SetDefault("scraper.marketplace_base_url", "https://www.tokopedia.com")
	v.SetDefault("scraper.marketplace_user_agent", "scrapqt/0.1")
	v.SetDefault("scraper.marketplace_max_items", 40)
	v.SetDefault("scraper.marketplace_timeout_seconds", 20)
	v.SetDefault("sentiment.port", 8091)
	v.SetDefault("sentiment.batch_size", 50)
	v.SetDefault("db.path", "data/scrapqt.db")
	v.SetDefault("provider.timeout_seconds", 15)
	v.SetDefault("provider.rps", 5)
	v.SetDefault("provider.burst", 1)
	v.SetDefault("runtime.run_dir", "run")
	v.SetDefault("runtime.credentials_path", "run/credentials.json")
	v.SetDefault("runtime.startup_deadline_seconds", 10)
	v.SetDefault("runtime.stop_grace_seconds", 5)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scraper.Port <= 0 {
		return fmt.Errorf("scraper.port must be > 0")
	}
	if c.Sentiment.Port <= 0 {
		return fmt.Errorf("sentiment.port must be > 0")
	}
	if c.Scraper.Port == c.Sentiment.Port {
		return fmt.Errorf("scraper.port and sentiment.port must differ")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Sentiment.BatchSize <= 0 {
		return fmt.Errorf("sentiment.batch_size must be > 0")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db.path must be set")
	}
	if c.Runtime.RunDir == "" {
		return fmt.Errorf("runtime.run_dir must be set")
	}
	if c.Provider.TimeoutSeconds <= 0 {
		return fmt.Errorf("provider.timeout_seconds must be > 0")
	}
	return nil
}

// ScraperAddr is the scraper service listen address.
func (c Config) ScraperAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Scraper.Port)
}

// SentimentAddr is the sentiment service listen address.
func (c Config) SentimentAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Sentiment.Port)
}

// PluginTimeout converts the scraper plugin budget into a duration.
func (c Config) PluginTimeout() time.Duration {
	return time.Duration(c.Scraper.PluginTimeoutSeconds) * time.Second
}

// ProviderTimeout converts the provider HTTP budget into a duration.
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

// StartupDeadline converts the orchestrator readiness budget into a duration.
func (c Config) StartupDeadline() time.Duration {
	return time.Duration(c.Runtime.StartupDeadlineSeconds) * time.Second
}

// StopGrace converts the orchestrator SIGTERM grace into a duration.
func (c Config) StopGrace() time.Duration {
	return time.Duration(c.Runtime.StopGraceSeconds) * time.Second
}
