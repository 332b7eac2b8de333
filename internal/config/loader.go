package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path (missing file is not an
// error; defaults apply), merges it on top of the built-in defaults, applies
// environment overrides, and returns the final Config. The caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env if present (silently ignore when missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYMIRROR_* environment variables and
// overwrites the corresponding Config fields when a variable is set. The
// bare DATABASE_PATH and PORT variables are honoured for deployments that
// predate the prefixed names.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Database.Path, "DATABASE_PATH")
	setStr(&cfg.Database.Path, "POLYMIRROR_DATABASE_PATH")

	setStr(&cfg.Polymarket.ClobHost, "POLYMIRROR_CLOB_HOST")
	setStr(&cfg.Polymarket.DataHost, "POLYMIRROR_DATA_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYMIRROR_GAMMA_HOST")
	setStr(&cfg.Polymarket.SearchHost, "POLYMIRROR_SEARCH_HOST")
	setStr(&cfg.Polymarket.WsURL, "POLYMIRROR_WS_URL")
	setInt(&cfg.Polymarket.ChainID, "POLYMIRROR_CHAIN_ID")

	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYMIRROR_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYMIRROR_WALLET_KEY_PASSWORD")

	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "POLYMIRROR_PORT")
	setStr(&cfg.Server.Host, "PHX_HOST")
	setStr(&cfg.Server.Host, "POLYMIRROR_HOST")
	setStr(&cfg.Server.APIKey, "SECRET_KEY_BASE")
	setStr(&cfg.Server.APIKey, "POLYMIRROR_API_KEY")
	setInt(&cfg.Server.RateLimit, "POLYMIRROR_RATE_LIMIT")

	setStr(&cfg.Archive.Endpoint, "POLYMIRROR_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "POLYMIRROR_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "POLYMIRROR_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "POLYMIRROR_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "POLYMIRROR_ARCHIVE_SECRET_KEY")

	setStr(&cfg.Notify.TelegramToken, "POLYMIRROR_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYMIRROR_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "POLYMIRROR_DISCORD_WEBHOOK")

	setStr(&cfg.LogLevel, "POLYMIRROR_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
