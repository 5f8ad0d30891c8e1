// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Harvest HarvestConfig `mapstructure:"harvest"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	Images  ImagesConfig  `mapstructure:"images"`
	API     APIConfig     `mapstructure:"api"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StoreConfig locates the record store.
type StoreConfig struct {
	OutputDir        string `mapstructure:"output_dir"`
	Filename         string `mapstructure:"filename"`
	LockWaitSeconds  int    `mapstructure:"lock_wait_seconds"`
	ListingURLMarker string `mapstructure:"listing_url_marker"`
}

// HarvestConfig governs URL processing and the run strategy.
type HarvestConfig struct {
	TargetURLs        []string `mapstructure:"target_urls"`
	SearchURLMarkers  []string `mapstructure:"search_url_markers"`
	MaxConcurrent     int      `mapstructure:"max_concurrent"`
	UseSharedAgent    bool     `mapstructure:"use_shared_agent"`
	MaxRetries        int      `mapstructure:"max_retries"`
	RetryDelaySeconds int      `mapstructure:"retry_delay_seconds"`
	RetryBackoff      float64  `mapstructure:"retry_backoff"`
	MaxPages          int      `mapstructure:"max_pages"`
}

// AgentConfig configures the fetch session.
type AgentConfig struct {
	// Kind selects the agent implementation: "browser" or "static".
	Kind              string   `mapstructure:"kind"`
	Headless          bool     `mapstructure:"headless"`
	NavTimeoutSeconds int      `mapstructure:"nav_timeout_seconds"`
	UserAgent         string   `mapstructure:"user_agent"`
	Proxies           []string `mapstructure:"proxies"`
}

// PolicyConfig controls the compliance gate.
type PolicyConfig struct {
	RespectRobots     bool    `mapstructure:"respect_robots"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ImagesConfig toggles image localization.
type ImagesConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
}

// APIConfig controls the ops HTTP endpoint.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and the base level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("store.output_dir", "data")
	v.SetDefault("store.filename", "listings.csv")
	v.SetDefault("store.lock_wait_seconds", 10)
	v.SetDefault("store.listing_url_marker", "zapimoveis.com.br")
	v.SetDefault("harvest.search_url_markers", []string{"/venda/", "/aluguel/"})
	v.SetDefault("harvest.max_concurrent", 3)
	v.SetDefault("harvest.use_shared_agent", false)
	v.SetDefault("harvest.max_retries", 3)
	v.SetDefault("harvest.retry_delay_seconds", 2)
	v.SetDefault("harvest.retry_backoff", 2.0)
	v.SetDefault("harvest.max_pages", 1)
	v.SetDefault("agent.kind", "browser")
	v.SetDefault("agent.headless", true)
	v.SetDefault("agent.nav_timeout_seconds", 25)
	v.SetDefault("agent.user_agent", "listing-harvester/0.1")
	v.SetDefault("policy.respect_robots", true)
	v.SetDefault("policy.requests_per_second", 0.5)
	v.SetDefault("policy.burst", 1)
	v.SetDefault("images.enabled", false)
	v.SetDefault("images.timeout_seconds", 20)
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Store.OutputDir == "" {
		return fmt.Errorf("store.output_dir must be set")
	}
	if c.Store.Filename == "" {
		return fmt.Errorf("store.filename must be set")
	}
	if c.Harvest.MaxConcurrent <= 0 {
		return fmt.Errorf("harvest.max_concurrent must be > 0")
	}
	if c.Harvest.RetryBackoff < 1 {
		return fmt.Errorf("harvest.retry_backoff must be >= 1")
	}
	if c.Agent.Kind != "browser" && c.Agent.Kind != "static" {
		return fmt.Errorf("agent.kind must be \"browser\" or \"static\", got %q", c.Agent.Kind)
	}
	if c.API.Enabled && c.API.Port <= 0 {
		return fmt.Errorf("api.port must be > 0 when the api is enabled")
	}
	return nil
}

// LockWait converts the configured lock wait into a duration.
func (c Config) LockWait() time.Duration {
	return time.Duration(c.Store.LockWaitSeconds) * time.Second
}

// RetryBaseDelay converts the configured retry delay into a duration.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Harvest.RetryDelaySeconds) * time.Second
}

// NavTimeout converts the configured navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Agent.NavTimeoutSeconds) * time.Second
}

// ImageTimeout converts the configured image timeout into a duration.
func (c Config) ImageTimeout() time.Duration {
	return time.Duration(c.Images.TimeoutSeconds) * time.Second
}
