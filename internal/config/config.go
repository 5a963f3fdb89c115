// Package config defines the top-level configuration for signaldeck and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SIGNALDECK_* environment
// variables.
type Config struct {
	Datastore Datastore `toml:"datastore"`
	Redis     Redis     `toml:"redis"`
	Stream    Stream    `toml:"stream"`
	Sync      Sync      `toml:"sync"`
	Auth      Auth      `toml:"auth"`
	Market    Market    `toml:"market"`
	Server    Server    `toml:"server"`
	Journal   Journal   `toml:"journal"`
	Notify    Notify    `toml:"notify"`
	Mode      string    `toml:"mode"`
	LogLevel  string    `toml:"log_level"`
}

// Datastore holds PostgreSQL connection parameters. When both DSN and Host
// are empty the service runs against a non-throwing in-memory store instead
// of failing; see Config.MockDatastore.
type Datastore struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Redis holds connection parameters for the push-messaging bus.
type Redis struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// Stream holds parameters for the live-update WebSocket connection.
type Stream struct {
	// Endpoint is the live-update WebSocket URL, e.g.
	// "wss://deck.example.com/ws/live". Used by follow mode.
	Endpoint string `toml:"endpoint"`
	// Channels limits which envelope channels are delivered to listeners.
	Channels []string `toml:"channels"`
	// ReconnectDelay is the fixed delay between reconnect attempts.
	ReconnectDelay duration `toml:"reconnect_delay"`
}

// Sync holds reconciler timing parameters.
type Sync struct {
	// SnapshotInterval is the period of the authoritative full resync.
	SnapshotInterval duration `toml:"snapshot_interval"`
	// FetchTimeout bounds each snapshot/profile fetch.
	FetchTimeout duration `toml:"fetch_timeout"`
}

// Auth holds session-token verification parameters for the entitlement gate
// and the channel-authorization endpoint.
type Auth struct {
	// SessionSecret is the HMAC secret shared with the auth service that
	// issues session JWTs.
	SessionSecret string `toml:"session_secret"`
	// ChannelSecret signs channel-authorization grants.
	ChannelSecret string `toml:"channel_secret"`
	// Token is the session JWT presented by follow mode when resolving
	// entitlement. Empty means no session (free tier).
	Token string `toml:"token"`
}

// Market holds the market-data REST fallback chain parameters. Symbols are
// bare asset codes ("BTC"); each source client adds its own quote suffix.
type Market struct {
	PrimaryURL    string   `toml:"primary_url"`
	SecondaryURL  string   `toml:"secondary_url"`
	Symbols       []string `toml:"symbols"`
	FetchInterval duration `toml:"fetch_interval"`
	CacheTTL      duration `toml:"cache_ttl"`
	// RatePerSec caps outbound requests per upstream per second.
	RatePerSec float64 `toml:"rate_per_sec"`
}

// Server holds HTTP server parameters.
type Server struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit caps requests per second per client IP; 0 disables.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

// Journal holds S3-compatible storage parameters for closed-position
// journal exports. Disabled when Bucket is empty.
type Journal struct {
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	ForcePathStyle bool     `toml:"force_path_style"`
	ExportInterval duration `toml:"export_interval"`
}

// Notify holds outbound notification channel parameters for gated
// new-signal alerts.
type Notify struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "3s", "60s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "3s" or "1m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration, matching the intervals the
// dashboard frontend uses: 3s stream reconnect, 60s snapshot resync.
func Defaults() Config {
	return Config{
		Datastore: Datastore{
			Port:          5432,
			Database:      "signaldeck",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: Redis{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Stream: Stream{
			Channels: []string{
				"public-paper-positions",
				"public-price-feed",
				"public-signals",
			},
			ReconnectDelay: duration{3 * time.Second},
		},
		Sync: Sync{
			SnapshotInterval: duration{60 * time.Second},
			FetchTimeout:     duration{10 * time.Second},
		},
		Market: Market{
			PrimaryURL:    "https://api.binance.com",
			SecondaryURL:  "https://min-api.cryptocompare.com",
			Symbols:       []string{"BTC", "ETH", "SOL"},
			FetchInterval: duration{15 * time.Second},
			CacheTTL:      duration{90 * time.Second},
			RatePerSec:    2,
		},
		Server: Server{
			Enabled:   true,
			Port:      8090,
			RateLimit: 20,
			RateBurst: 40,
		},
		Journal: Journal{
			Region:         "us-east-1",
			ForcePathStyle: true,
			ExportInterval: duration{time.Hour},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// MockDatastore reports whether datastore credentials are absent and the
// in-memory stand-in should be used instead of PostgreSQL.
func (c *Config) MockDatastore() bool {
	return strings.TrimSpace(c.Datastore.DSN) == "" &&
		strings.TrimSpace(c.Datastore.Host) == ""
}

// Validate checks the configuration for structural problems that would only
// surface later at runtime.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "serve", "follow":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if strings.ToLower(c.Mode) == "follow" && strings.TrimSpace(c.Stream.Endpoint) == "" {
		return fmt.Errorf("config: follow mode requires stream.endpoint")
	}

	if c.Stream.ReconnectDelay.Duration <= 0 {
		return fmt.Errorf("config: stream.reconnect_delay must be positive")
	}
	if c.Sync.SnapshotInterval.Duration <= 0 {
		return fmt.Errorf("config: sync.snapshot_interval must be positive")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}

	if c.Journal.Bucket != "" {
		if c.Journal.Region == "" {
			return fmt.Errorf("config: journal.region required when journal.bucket is set")
		}
		if c.Journal.ExportInterval.Duration <= 0 {
			return fmt.Errorf("config: journal.export_interval must be positive")
		}
	}

	return nil
}
