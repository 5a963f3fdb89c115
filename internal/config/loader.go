package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SIGNALDECK_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load. A missing file is
// not an error: defaults plus environment overrides still apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SIGNALDECK_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Datastore ──
	setStr(&cfg.Datastore.DSN, "SIGNALDECK_DATASTORE_DSN")
	setStr(&cfg.Datastore.Host, "SIGNALDECK_DATASTORE_HOST")
	setInt(&cfg.Datastore.Port, "SIGNALDECK_DATASTORE_PORT")
	setStr(&cfg.Datastore.Database, "SIGNALDECK_DATASTORE_DATABASE")
	setStr(&cfg.Datastore.User, "SIGNALDECK_DATASTORE_USER")
	setStr(&cfg.Datastore.Password, "SIGNALDECK_DATASTORE_PASSWORD")
	setStr(&cfg.Datastore.SSLMode, "SIGNALDECK_DATASTORE_SSLMODE")
	setInt(&cfg.Datastore.PoolMaxConns, "SIGNALDECK_DATASTORE_POOL_MAX_CONNS")
	setInt(&cfg.Datastore.PoolMinConns, "SIGNALDECK_DATASTORE_POOL_MIN_CONNS")
	setBool(&cfg.Datastore.RunMigrations, "SIGNALDECK_DATASTORE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SIGNALDECK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIGNALDECK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIGNALDECK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SIGNALDECK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SIGNALDECK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SIGNALDECK_REDIS_TLS_ENABLED")

	// ── Stream ──
	setStr(&cfg.Stream.Endpoint, "SIGNALDECK_STREAM_ENDPOINT")
	setStringSlice(&cfg.Stream.Channels, "SIGNALDECK_STREAM_CHANNELS")
	setDuration(&cfg.Stream.ReconnectDelay, "SIGNALDECK_STREAM_RECONNECT_DELAY")

	// ── Sync ──
	setDuration(&cfg.Sync.SnapshotInterval, "SIGNALDECK_SYNC_SNAPSHOT_INTERVAL")
	setDuration(&cfg.Sync.FetchTimeout, "SIGNALDECK_SYNC_FETCH_TIMEOUT")

	// ── Auth ──
	setStr(&cfg.Auth.SessionSecret, "SIGNALDECK_AUTH_SESSION_SECRET")
	setStr(&cfg.Auth.ChannelSecret, "SIGNALDECK_AUTH_CHANNEL_SECRET")
	setStr(&cfg.Auth.Token, "SIGNALDECK_AUTH_TOKEN")

	// ── Market ──
	setStr(&cfg.Market.PrimaryURL, "SIGNALDECK_MARKET_PRIMARY_URL")
	setStr(&cfg.Market.SecondaryURL, "SIGNALDECK_MARKET_SECONDARY_URL")
	setStringSlice(&cfg.Market.Symbols, "SIGNALDECK_MARKET_SYMBOLS")
	setDuration(&cfg.Market.FetchInterval, "SIGNALDECK_MARKET_FETCH_INTERVAL")
	setDuration(&cfg.Market.CacheTTL, "SIGNALDECK_MARKET_CACHE_TTL")
	setFloat64(&cfg.Market.RatePerSec, "SIGNALDECK_MARKET_RATE_PER_SEC")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SIGNALDECK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SIGNALDECK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SIGNALDECK_SERVER_CORS_ORIGINS")
	setFloat64(&cfg.Server.RateLimit, "SIGNALDECK_SERVER_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "SIGNALDECK_SERVER_RATE_BURST")

	// ── Journal ──
	setStr(&cfg.Journal.Endpoint, "SIGNALDECK_JOURNAL_ENDPOINT")
	setStr(&cfg.Journal.Region, "SIGNALDECK_JOURNAL_REGION")
	setStr(&cfg.Journal.Bucket, "SIGNALDECK_JOURNAL_BUCKET")
	setStr(&cfg.Journal.AccessKey, "SIGNALDECK_JOURNAL_ACCESS_KEY")
	setStr(&cfg.Journal.SecretKey, "SIGNALDECK_JOURNAL_SECRET_KEY")
	setBool(&cfg.Journal.ForcePathStyle, "SIGNALDECK_JOURNAL_FORCE_PATH_STYLE")
	setDuration(&cfg.Journal.ExportInterval, "SIGNALDECK_JOURNAL_EXPORT_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SIGNALDECK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIGNALDECK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIGNALDECK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SIGNALDECK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SIGNALDECK_MODE")
	setStr(&cfg.LogLevel, "SIGNALDECK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
