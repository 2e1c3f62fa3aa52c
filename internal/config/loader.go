package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LASTVALUE_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus the environment. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LASTVALUE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Log ──
	setStr(&cfg.Log.File, "LASTVALUE_LOG_FILE")
	setInt(&cfg.Log.MaxSizeMB, "LASTVALUE_LOG_MAX_SIZE_MB")
	setInt(&cfg.Log.MaxBackups, "LASTVALUE_LOG_MAX_BACKUPS")
	setInt(&cfg.Log.MaxAgeDays, "LASTVALUE_LOG_MAX_AGE_DAYS")
	setBool(&cfg.Log.Compress, "LASTVALUE_LOG_COMPRESS")

	// ── Store ──
	setInt(&cfg.Store.MaxChunkSize, "LASTVALUE_STORE_MAX_CHUNK_SIZE")
	setInt(&cfg.Store.ClosedHistory, "LASTVALUE_STORE_CLOSED_HISTORY")
	setBool(&cfg.Store.RestoreOnBoot, "LASTVALUE_STORE_RESTORE_ON_BOOT")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "LASTVALUE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "LASTVALUE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "LASTVALUE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LASTVALUE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LASTVALUE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LASTVALUE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LASTVALUE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LASTVALUE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LASTVALUE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LASTVALUE_POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.ConnectTimeout, "LASTVALUE_POSTGRES_CONNECT_TIMEOUT")
	setBool(&cfg.Postgres.RunMigrations, "LASTVALUE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "LASTVALUE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "LASTVALUE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LASTVALUE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LASTVALUE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LASTVALUE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LASTVALUE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LASTVALUE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "LASTVALUE_REDIS_KEY_PREFIX")
	setBool(&cfg.Redis.Mirror, "LASTVALUE_REDIS_MIRROR")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LASTVALUE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LASTVALUE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LASTVALUE_S3_REGION")
	setStr(&cfg.S3.Bucket, "LASTVALUE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LASTVALUE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LASTVALUE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LASTVALUE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LASTVALUE_S3_FORCE_PATH_STYLE")

	// ── Snapshot ──
	setDuration(&cfg.Snapshot.Interval, "LASTVALUE_SNAPSHOT_INTERVAL")
	setStr(&cfg.Snapshot.Prefix, "LASTVALUE_SNAPSHOT_PREFIX")
	setInt(&cfg.Snapshot.Keep, "LASTVALUE_SNAPSHOT_KEEP")

	// ── Server ──
	setInt(&cfg.Server.Port, "LASTVALUE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "LASTVALUE_SERVER_API_KEY")
	setStr(&cfg.Server.APIKeyFile, "LASTVALUE_SERVER_API_KEY_FILE")
	setStr(&cfg.Server.APIKeyPassword, "LASTVALUE_SERVER_API_KEY_PASSWORD")
	setStringSlice(&cfg.Server.CORSOrigins, "LASTVALUE_SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.WSChannels, "LASTVALUE_SERVER_WS_CHANNELS")
	setInt(&cfg.Server.RateLimit, "LASTVALUE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "LASTVALUE_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LASTVALUE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LASTVALUE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LASTVALUE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LASTVALUE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LASTVALUE_MODE")
	setStr(&cfg.LogLevel, "LASTVALUE_LOG_LEVEL")
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
