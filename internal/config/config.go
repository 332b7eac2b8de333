// Package config defines the top-level configuration for the polymirror
// server and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POLYMIRROR_* environment
// variables (plus the DATABASE_PATH and PORT compatibility variables).
type Config struct {
	Database    DatabaseConfig    `toml:"database"`
	Polymarket  PolymarketConfig  `toml:"polymarket"`
	Wallet      WalletConfig      `toml:"wallet"`
	CopyTrading CopyTradingConfig `toml:"copy_trading"`
	Server      ServerConfig      `toml:"server"`
	Archive     ArchiveConfig     `toml:"archive"`
	Notify      NotifyConfig      `toml:"notify"`
	LogLevel    string            `toml:"log_level"`
}

// DatabaseConfig holds the embedded store location.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// PolymarketConfig holds venue endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost   string `toml:"clob_host"`
	DataHost   string `toml:"data_host"`
	GammaHost  string `toml:"gamma_host"`
	SearchHost string `toml:"search_host"`
	WsURL      string `toml:"ws_url"`
	ChainID    int    `toml:"chain_id"`
}

// WalletConfig holds optional key material supplied outside the credentials
// store. When EncryptedKeyPath is set the private key is decrypted at boot
// and overrides the stored one.
type WalletConfig struct {
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// CopyTradingConfig holds watcher tuning knobs.
type CopyTradingConfig struct {
	// MaxActivityPages bounds how many activity pages one poll may fetch.
	MaxActivityPages int `toml:"max_activity_pages"`
	// ActivityPageSize is the page size for activity requests.
	ActivityPageSize int `toml:"activity_page_size"`
}

// ServerConfig holds the HTTP API configuration.
type ServerConfig struct {
	Port        int      `toml:"port"`
	Host        string   `toml:"host"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per second per client IP. Zero disables it.
	RateLimit int `toml:"rate_limit"`
}

// ArchiveConfig holds the optional S3 export of aged copy trades and
// strategy events. The archiver is disabled unless Bucket is set.
type ArchiveConfig struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
	IntervalHours  int    `toml:"interval_hours"`
}

// Enabled reports whether the archiver should run.
func (a ArchiveConfig) Enabled() bool { return a.Bucket != "" }

// NotifyConfig holds outbound notification channels.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	DiscordWebhook string   `toml:"discord_webhook"`
	Events         []string `toml:"events"`
}

// Defaults returns the built-in configuration. Every field can be overridden
// by the TOML file or environment.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Path: "polymirror.db",
		},
		Polymarket: PolymarketConfig{
			ClobHost:   "https://clob.polymarket.com",
			DataHost:   "https://data-api.polymarket.com",
			GammaHost:  "https://gamma-api.polymarket.com",
			SearchHost: "https://search-api.polymarket.com",
			WsURL:      "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:    137,
		},
		CopyTrading: CopyTradingConfig{
			MaxActivityPages: 10,
			ActivityPageSize: 100,
		},
		Server: ServerConfig{
			Port: 4000,
			Host: "localhost",
		},
		Archive: ArchiveConfig{
			Region:        "us-east-1",
			RetentionDays: 30,
			IntervalHours: 24,
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("config: database path must not be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}
	for _, host := range []struct {
		name, value string
	}{
		{"clob_host", c.Polymarket.ClobHost},
		{"data_host", c.Polymarket.DataHost},
		{"gamma_host", c.Polymarket.GammaHost},
		{"search_host", c.Polymarket.SearchHost},
	} {
		if !strings.HasPrefix(host.value, "http://") && !strings.HasPrefix(host.value, "https://") {
			return fmt.Errorf("config: %s must be an http(s) URL, got %q", host.name, host.value)
		}
	}
	if !strings.HasPrefix(c.Polymarket.WsURL, "ws://") && !strings.HasPrefix(c.Polymarket.WsURL, "wss://") {
		return fmt.Errorf("config: ws_url must be a ws(s) URL, got %q", c.Polymarket.WsURL)
	}
	if c.Polymarket.ChainID <= 0 {
		return fmt.Errorf("config: chain_id must be positive")
	}
	if c.CopyTrading.MaxActivityPages <= 0 {
		return fmt.Errorf("config: max_activity_pages must be positive")
	}
	if c.CopyTrading.ActivityPageSize <= 0 {
		return fmt.Errorf("config: activity_page_size must be positive")
	}
	if c.Archive.Enabled() {
		if c.Archive.RetentionDays <= 0 {
			return fmt.Errorf("config: archive retention_days must be positive")
		}
		if c.Archive.IntervalHours <= 0 {
			return fmt.Errorf("config: archive interval_hours must be positive")
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}
