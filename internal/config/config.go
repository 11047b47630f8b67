// Package config loads the server configuration from environment
// variables and an optional config file.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cudi-org/safepay"
)

// Config is the fully resolved server configuration.
type Config struct {
	// BindAddr is the HTTP listen address.
	BindAddr string

	// Chain is the target chain name ("arc" or "arc-testnet").
	Chain string

	// DBPath is the SQLite database file. Empty selects the in-memory
	// store.
	DBPath string

	// Circle API credentials. When all four are set the Circle rail is
	// used; otherwise the simulated rail.
	CircleAPIKey   string
	CircleBaseURL  string
	CircleEntityID string
	CircleWalletID string

	// ParserURL is the external intent-parser base URL. Empty selects the
	// local pattern parser.
	ParserURL string

	// AllowedOrigins is the CORS allowlist.
	AllowedOrigins []string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// LogFormat is "json" or "text".
	LogFormat string

	// Timeouts bounds rail and parser calls.
	Timeouts safepay.TimeoutConfig
}

// Load reads configuration with precedence environment > config file >
// defaults. Environment variables use the SAFEPAY_ prefix, e.g.
// SAFEPAY_BIND_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SAFEPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("bind_addr", "0.0.0.0:8000")
	v.SetDefault("chain", "arc-testnet")
	v.SetDefault("db_path", "")
	v.SetDefault("circle_api_key", "")
	v.SetDefault("circle_base_url", "https://api.circle.com/v1/w3s")
	v.SetDefault("circle_entity_id", "")
	v.SetDefault("circle_wallet_id", "")
	v.SetDefault("parser_url", "")
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("rail_timeout", safepay.DefaultTimeouts.RailTimeout)
	v.SetDefault("parser_timeout", safepay.DefaultTimeouts.ParserTimeout)
	v.SetDefault("request_timeout", safepay.DefaultTimeouts.RequestTimeout)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		BindAddr:       v.GetString("bind_addr"),
		Chain:          v.GetString("chain"),
		DBPath:         v.GetString("db_path"),
		CircleAPIKey:   v.GetString("circle_api_key"),
		CircleBaseURL:  v.GetString("circle_base_url"),
		CircleEntityID: v.GetString("circle_entity_id"),
		CircleWalletID: v.GetString("circle_wallet_id"),
		ParserURL:      v.GetString("parser_url"),
		AllowedOrigins: v.GetStringSlice("allowed_origins"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
		Timeouts: safepay.TimeoutConfig{
			RailTimeout:    v.GetDuration("rail_timeout"),
			ParserTimeout:  v.GetDuration("parser_timeout"),
			RequestTimeout: v.GetDuration("request_timeout"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("bind_addr must not be empty")
	}
	if _, err := safepay.ChainByName(c.Chain); err != nil {
		return err
	}
	if err := c.Timeouts.Validate(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log_format must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// CircleConfigured reports whether all Circle credentials are present.
func (c *Config) CircleConfigured() bool {
	return c.CircleAPIKey != "" && c.CircleEntityID != "" && c.CircleWalletID != "" && c.CircleBaseURL != ""
}

// SlogLevel maps the configured level name to a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
}

// RequestTimeout returns the per-request deadline, guaranteed positive.
func (c *Config) RequestTimeout() time.Duration {
	if c.Timeouts.RequestTimeout > 0 {
		return c.Timeouts.RequestTimeout
	}
	return safepay.DefaultTimeouts.RequestTimeout
}
