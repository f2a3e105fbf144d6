// Package config provides configuration management for the market engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "market-engine/internal/errors"
	"market-engine/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Feeds    FeedsConfig       `mapstructure:"feeds"`
	Currency CurrencyConfig    `mapstructure:"currency"`
	Backend  BackendConfig     `mapstructure:"backend"`
	Exposure ExposureConfig    `mapstructure:"exposure"`
	Redis    RedisConfig       `mapstructure:"redis"`
	Store    StoreConfig       `mapstructure:"store"`
	Candles  CandlesConfig     `mapstructure:"candles"`
	Logging  logging.LogConfig `mapstructure:"logging"`
}

// FeedsConfig holds upstream feed endpoints.
type FeedsConfig struct {
	DomesticURL      string        `mapstructure:"domestic_url"`
	InternationalURL string        `mapstructure:"international_url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
}

// CurrencyConfig holds exchange-rate refresh configuration.
type CurrencyConfig struct {
	RateURL         string        `mapstructure:"rate_url"`
	Currency        string        `mapstructure:"currency"` // Key under "rates", e.g. INR
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	DefaultRate     float64       `mapstructure:"default_rate"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// BackendConfig holds the balance, pre-trade and persistence service settings.
type BackendConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	UserID           string        `mapstructure:"user_id"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// ExposureConfig selects and describes the exposure parameter store.
type ExposureConfig struct {
	Source    string                   `mapstructure:"source"` // static, redis
	KeyPrefix string                   `mapstructure:"key_prefix"`
	Classes   map[string]ClassExposure `mapstructure:"classes"`
}

// ClassExposure holds the exposure parameters of one exchange class.
type ClassExposure struct {
	Mode          string                   `mapstructure:"mode"` // flat_ratio, per_lot
	IntradayRatio float64                  `mapstructure:"intraday_ratio"`
	HoldingRatio  float64                  `mapstructure:"holding_ratio"`
	PerLot        map[string]PerLotAmounts `mapstructure:"per_lot"` // keyed by root symbol
}

// PerLotAmounts holds fixed per-lot margins of one root symbol.
type PerLotAmounts struct {
	Intraday float64 `mapstructure:"intraday"`
	Holding  float64 `mapstructure:"holding"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StoreConfig holds SQLite persistence configuration.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// CandlesConfig holds candle aggregation settings.
type CandlesConfig struct {
	HistorySize int `mapstructure:"history_size"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/market-engine"
	}
	return filepath.Join(home, ".config", "market-engine")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		// First run: write the template and continue on defaults.
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("creating config template: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("feeds.handshake_timeout", 15*time.Second)

	v.SetDefault("currency.rate_url", "https://open.er-api.com/v6/latest/USD")
	v.SetDefault("currency.currency", "INR")
	v.SetDefault("currency.refresh_interval", 5*time.Minute)
	v.SetDefault("currency.default_rate", 83.0)
	v.SetDefault("currency.timeout", 10*time.Second)

	v.SetDefault("backend.timeout", 10*time.Second)
	v.SetDefault("backend.failure_threshold", 5)
	v.SetDefault("backend.reset_timeout", 30*time.Second)

	v.SetDefault("exposure.source", "static")
	v.SetDefault("exposure.key_prefix", "exposure:")

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", filepath.Join(configDir, "engine.db"))

	v.SetDefault("candles.history_size", 500)

	def := logging.DefaultLogConfig()
	v.SetDefault("logging.level", def.Level)
	v.SetDefault("logging.console", def.Console)
	v.SetDefault("logging.file", def.File)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "engine.log"))
	v.SetDefault("logging.max_size", def.MaxSize)
	v.SetDefault("logging.max_backups", def.MaxBackups)
	v.SetDefault("logging.max_age", def.MaxAge)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENGINE_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("ENGINE_USER_ID"); v != "" {
		cfg.Backend.UserID = v
	}
	if v := os.Getenv("ENGINE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ENGINE_RATE_URL"); v != "" {
		cfg.Currency.RateURL = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Currency.RefreshInterval <= 0 {
		return fmt.Errorf("%w: currency.refresh_interval must be positive", apperrors.ErrConfigInvalid)
	}
	if c.Currency.DefaultRate <= 0 {
		return fmt.Errorf("%w: currency.default_rate must be positive", apperrors.ErrConfigInvalid)
	}

	switch c.Exposure.Source {
	case "static", "redis":
	default:
		return fmt.Errorf("%w: exposure.source %q (must be 'static' or 'redis')", apperrors.ErrConfigInvalid, c.Exposure.Source)
	}

	for class, ce := range c.Exposure.Classes {
		switch ce.Mode {
		case "", "flat_ratio", "per_lot":
		default:
			return fmt.Errorf("%w: exposure.classes.%s.mode %q", apperrors.ErrConfigInvalid, class, ce.Mode)
		}
		if ce.IntradayRatio < 0 || ce.HoldingRatio < 0 {
			return fmt.Errorf("%w: exposure.classes.%s ratios must be non-negative", apperrors.ErrConfigInvalid, class)
		}
	}

	return nil
}

// ClassExposureFor returns the exposure entry for an exchange class.
// Viper lower-cases map keys, so lookups are case-insensitive.
func (c ExposureConfig) ClassExposureFor(class string) (ClassExposure, bool) {
	for k, v := range c.Classes {
		if strings.EqualFold(k, class) {
			return v, true
		}
	}
	return ClassExposure{}, false
}
