// Package config loads storefront configuration. Values come from three
// layers, later layers winning: built-in defaults, an optional YAML file, and
// environment variables (with .env support for local development).
package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full storefront configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Cache    CacheConfig    `yaml:"cache"`
	Shop     ShopConfig     `yaml:"shop"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host              string `yaml:"host" env:"SERVER_HOST"`
	Port              int    `yaml:"port" env:"SERVER_PORT"`
	RequestsPerMinute int    `yaml:"requests_per_minute" env:"SERVER_REQUESTS_PER_MINUTE"`
	RateBurst         int    `yaml:"rate_burst" env:"SERVER_RATE_BURST"`
}

// DatabaseConfig controls the PostgreSQL connection pool. An empty DSN keeps
// the storefront on its in-memory store.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// RedisConfig controls the cache invalidation fanout. Disabled means a
// single-instance deployment with purely local invalidation.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"REDIS_ENABLED"`
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Channel  string `yaml:"channel" env:"REDIS_CHANNEL"`
}

// CacheConfig sizes the in-process cache. Category policy is code-level.
type CacheConfig struct {
	MaxSize       int     `yaml:"max_size" env:"CACHE_MAX_SIZE"`
	HighWater     float64 `yaml:"high_water" env:"CACHE_HIGH_WATER"`
	LowWater      float64 `yaml:"low_water" env:"CACHE_LOW_WATER"`
	MaxTTLSeconds int     `yaml:"max_ttl_seconds" env:"CACHE_MAX_TTL_SECONDS"`
}

// ShopConfig tunes storefront behavior.
type ShopConfig struct {
	LockTimeoutSeconds int    `yaml:"lock_timeout_seconds" env:"SHOP_LOCK_TIMEOUT_SECONDS"`
	MaxPurchaseQty     int    `yaml:"max_purchase_qty" env:"SHOP_MAX_PURCHASE_QTY"`
	HistoryLimit       int    `yaml:"history_limit" env:"SHOP_HISTORY_LIMIT"`
	DisplayRefreshSpec string `yaml:"display_refresh_spec" env:"SHOP_DISPLAY_REFRESH_SPEC"`
}

// LoggingConfig mirrors pkg/logger's options.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			RequestsPerMinute: 120,
			RateBurst:         20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "storefront:cache:invalidate",
		},
		Cache: CacheConfig{
			MaxSize:       1000,
			HighWater:     0.9,
			LowWater:      0.7,
			MaxTTLSeconds: 3600,
		},
		Shop: ShopConfig{
			LockTimeoutSeconds: 10,
			MaxPurchaseQty:     100,
			HistoryLimit:       50,
			DisplayRefreshSpec: "@every 55s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if any), and environment variables.
func Load() (*Config, error) {
	return LoadFromPath(os.Getenv("CONFIG_FILE"))
}

// LoadFromPath is Load with an explicit YAML path. An empty path skips the
// file layer.
func LoadFromPath(path string) (*Config, error) {
	// Best effort: a missing .env file is the normal production case.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	return &cfg, nil
}
