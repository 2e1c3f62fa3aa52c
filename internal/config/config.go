// Package config defines the top-level configuration for the last-value
// price store and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LASTVALUE_* environment variables.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LogConfig controls where logs go. Stdout always receives them; File adds a
// rotated copy.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// StoreConfig tunes the in-memory store.
type StoreConfig struct {
	MaxChunkSize  int  `toml:"max_chunk_size"`
	ClosedHistory int  `toml:"closed_history"`
	RestoreOnBoot bool `toml:"restore_on_boot"`
}

// PostgresConfig holds PostgreSQL connection parameters for the audit journal.
type PostgresConfig struct {
	Enabled        bool     `toml:"enabled"`
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
	// Mirror writes committed prices to {key_prefix}:price:{instrument} hashes.
	Mirror bool `toml:"mirror"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SnapshotConfig controls the periodic snapshot archiver (full mode only).
// Keep bounds how many snapshots stay under Prefix; 0 keeps all of them.
type SnapshotConfig struct {
	Interval duration `toml:"interval"`
	Prefix   string   `toml:"prefix"`
	Keep     int      `toml:"keep"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port   int    `toml:"port"`
	APIKey string `toml:"api_key"`
	// APIKeyFile is an encrypted key file used when APIKey is empty.
	APIKeyFile     string   `toml:"api_key_file"`
	APIKeyPassword string   `toml:"api_key_password"`
	CORSOrigins    []string `toml:"cors_origins"`
	WSChannels     []string `toml:"ws_channels"`
	// RateLimit caps write requests per client IP per RateWindow. It needs
	// Redis and is off when zero.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Store: StoreConfig{
			MaxChunkSize:  1000,
			ClosedHistory: 128,
			RestoreOnBoot: true,
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "postgres",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "lastvalue",
			Mirror:     true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "lastvalue-snapshots",
			ForcePathStyle: true,
		},
		Snapshot: SnapshotConfig{
			Interval: duration{5 * time.Minute},
			Prefix:   "snapshots",
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			WSChannels:  []string{"lastvalue:batches", "lastvalue:prices"},
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"batch_completed", "batch_cancelled"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validNotifyEvents enumerates the batch events operators can subscribe to.
var validNotifyEvents = map[string]bool{
	"batch_started":   true,
	"batch_completed": true,
	"batch_cancelled": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Log
	if c.Log.File != "" && c.Log.MaxSizeMB < 1 {
		errs = append(errs, "log: max_size_mb must be >= 1 when file is set")
	}

	// Store
	if c.Store.MaxChunkSize < 1 {
		errs = append(errs, "store: max_chunk_size must be >= 1")
	}
	if c.Store.ClosedHistory < 1 {
		errs = append(errs, "store: closed_history must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Snapshot
	if strings.EqualFold(c.Mode, "full") {
		if !c.S3.Enabled {
			errs = append(errs, "snapshot: mode full requires s3.enabled")
		}
		if c.Snapshot.Interval.Duration <= 0 {
			errs = append(errs, "snapshot: interval must be > 0")
		}
	}
	if strings.Trim(c.Snapshot.Prefix, "/") == "" {
		errs = append(errs, "snapshot: prefix must not be empty")
	}
	if c.Snapshot.Keep < 0 {
		errs = append(errs, "snapshot: keep must be >= 0")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.APIKey == "" && c.Server.APIKeyFile != "" && c.Server.APIKeyPassword == "" {
		errs = append(errs, "server: api_key_password is required when api_key_file is set")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 {
		if !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis.enabled")
		}
		if c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, ev := range c.Notify.Events {
		if !validNotifyEvents[ev] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", ev))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// SnapshotInterval returns the archiver interval.
func (c *Config) SnapshotInterval() time.Duration { return c.Snapshot.Interval.Duration }

// RateWindow returns the rate-limit window.
func (c *Config) RateWindow() time.Duration { return c.Server.RateWindow.Duration }

// ConnectTimeout returns the Postgres connect timeout.
func (c *Config) ConnectTimeout() time.Duration { return c.Postgres.ConnectTimeout.Duration }
