// Package config provides configuration management for the simulator client.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"simtrader/internal/logging"
)

// EnvPrefix is the prefix of environment overrides, e.g. SIMTRADER_BACKEND_BASE_URL.
const EnvPrefix = "SIMTRADER"

// Config holds all application configuration.
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Push     PushConfig     `mapstructure:"push"`
	Search   SearchConfig   `mapstructure:"search"`
	Trading  TradingConfig  `mapstructure:"trading"`
	History  HistoryConfig  `mapstructure:"history"`
	Insights InsightsConfig `mapstructure:"insights"`
	UI       UIConfig       `mapstructure:"ui"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BackendConfig holds REST backend settings.
type BackendConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// PushConfig holds push channel settings.
type PushConfig struct {
	URL        string        `mapstructure:"url"`
	Reconnect  bool          `mapstructure:"reconnect"`
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
}

// SearchConfig holds search settings.
type SearchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// TradingConfig holds trade ticket settings.
type TradingConfig struct {
	DefaultShares string `mapstructure:"default_shares"`
}

// HistoryConfig holds transaction history settings.
type HistoryConfig struct {
	Limit int `mapstructure:"limit"`
}

// InsightsConfig holds AI insight settings.
type InsightsConfig struct {
	PredictionDays int `mapstructure:"prediction_days"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	ColorEnabled bool `mapstructure:"color_enabled"`
	Bell         bool `mapstructure:"bell"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// LogConfig converts the logging section for the logging package.
func (l LoggingConfig) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      l.Level,
		Console:    l.Console,
		File:       l.File,
		FilePath:   l.FilePath,
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAge,
	}
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/simtrader"
	}
	return filepath.Join(home, ".config", "simtrader")
}

// Default returns the configuration used when no file or env override is present.
func Default() *Config {
	cfg := &Config{}
	v := newViper()
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config.toml is replaced by a commented template and defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", "http://localhost:5000/api")
	v.SetDefault("backend.timeout", 15*time.Second)
	v.SetDefault("backend.breaker_threshold", 5)
	v.SetDefault("backend.breaker_cooldown", 10*time.Second)

	v.SetDefault("push.url", "ws://localhost:5000/ws")
	v.SetDefault("push.reconnect", true)
	v.SetDefault("push.max_retries", 5)
	v.SetDefault("push.base_delay", time.Second)

	v.SetDefault("search.debounce", 300*time.Millisecond)
	v.SetDefault("trading.default_shares", "1")
	v.SetDefault("history.limit", 50)
	v.SetDefault("insights.prediction_days", 5)
	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.bell", false)

	defaults := logging.DefaultLogConfig()
	v.SetDefault("logging.level", defaults.Level)
	v.SetDefault("logging.console", defaults.Console)
	v.SetDefault("logging.file", defaults.File)
	v.SetDefault("logging.file_path", defaults.FilePath)
	v.SetDefault("logging.max_size", defaults.MaxSize)
	v.SetDefault("logging.max_backups", defaults.MaxBackups)
	v.SetDefault("logging.max_age", defaults.MaxAge)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validateURL("backend.base_url", c.Backend.BaseURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("push.url", c.Push.URL, "ws", "wss"); err != nil {
		return err
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if c.Backend.BreakerThreshold < 0 {
		return fmt.Errorf("backend.breaker_threshold must be non-negative")
	}
	if c.Search.Debounce < 0 {
		return fmt.Errorf("search.debounce must be non-negative")
	}
	if c.Push.MaxRetries < 0 {
		return fmt.Errorf("push.max_retries must be non-negative")
	}
	if c.History.Limit <= 0 {
		return fmt.Errorf("history.limit must be positive")
	}
	if c.Insights.PredictionDays < 1 || c.Insights.PredictionDays > 30 {
		return fmt.Errorf("insights.prediction_days must be between 1 and 30")
	}
	return nil
}

func validateURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %s URL, got %q", key, strings.Join(schemes, "/"), raw)
}
