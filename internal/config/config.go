// Package config loads application configuration from a YAML file with
// environment variable overrides (prefix STOCKPIT_).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MarketData MarketDataConfig `mapstructure:"marketdata"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Orders     OrdersConfig     `mapstructure:"orders"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds the PostgreSQL connection configuration. An empty
// URL runs the server on the in-memory store.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig holds the read-through cache configuration.
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Enabled  bool          `mapstructure:"enabled"`
}

// MarketDataConfig holds the quote provider configuration.
type MarketDataConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// ExchangeConfig holds the trading calendar configuration.
type ExchangeConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// OrdersConfig holds standing-order behavior configuration.
type OrdersConfig struct {
	// StopLossTrigger is "below" (sell when the price falls to the
	// target) or "above".
	StopLossTrigger string `mapstructure:"stop_loss_trigger"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file and the environment.
// Environment variables override file values: server.port becomes
// STOCKPIT_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STOCKPIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.url", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cache_ttl", "60s")
	v.SetDefault("redis.enabled", false)

	v.SetDefault("marketdata.base_url", "http://localhost:9200")
	v.SetDefault("marketdata.timeout", "10s")
	v.SetDefault("marketdata.requests_per_minute", 120)

	v.SetDefault("exchange.timezone", "America/New_York")

	v.SetDefault("orders.stop_loss_trigger", "below")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required when redis is enabled")
	}
	if c.Redis.Enabled && c.Redis.CacheTTL < time.Second {
		return fmt.Errorf("redis.cache_ttl must be at least 1 second")
	}

	if c.MarketData.BaseURL == "" {
		return fmt.Errorf("marketdata.base_url is required")
	}
	if c.MarketData.RequestsPerMinute < 0 {
		return fmt.Errorf("marketdata.requests_per_minute must not be negative")
	}

	if _, err := time.LoadLocation(c.Exchange.Timezone); err != nil {
		return fmt.Errorf("exchange.timezone %q is not a valid IANA zone", c.Exchange.Timezone)
	}

	if c.Orders.StopLossTrigger != "below" && c.Orders.StopLossTrigger != "above" {
		return fmt.Errorf("orders.stop_loss_trigger must be \"below\" or \"above\"")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	return nil
}
