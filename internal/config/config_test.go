package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Store.MaxChunkSize != 1000 {
		t.Fatalf("MaxChunkSize = %d, want 1000", cfg.Store.MaxChunkSize)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "full"
log_level = "debug"

[store]
max_chunk_size = 250

[s3]
enabled = true
bucket = "prices"

[snapshot]
interval = "30s"
prefix = "eod"

[server]
port = 9100
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "full" || cfg.LogLevel != "debug" {
		t.Fatalf("mode/log_level = %s/%s", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Store.MaxChunkSize != 250 {
		t.Fatalf("MaxChunkSize = %d", cfg.Store.MaxChunkSize)
	}
	if cfg.Store.ClosedHistory != 128 {
		t.Fatalf("ClosedHistory should keep its default, got %d", cfg.Store.ClosedHistory)
	}
	if cfg.SnapshotInterval() != 30*time.Second || cfg.Snapshot.Prefix != "eod" {
		t.Fatalf("snapshot = %v %q", cfg.SnapshotInterval(), cfg.Snapshot.Prefix)
	}
	if cfg.S3.Region != "us-east-1" {
		t.Fatalf("S3 region default lost: %q", cfg.S3.Region)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[store]
max_chunk = 10
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "store.max_chunk") {
		t.Fatalf("err = %v, want unknown key store.max_chunk", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LASTVALUE_MODE", "full")
	t.Setenv("LASTVALUE_STORE_MAX_CHUNK_SIZE", "10")
	t.Setenv("LASTVALUE_REDIS_ENABLED", "true")
	t.Setenv("LASTVALUE_SERVER_API_KEY", "secret")
	t.Setenv("LASTVALUE_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("LASTVALUE_SERVER_RATE_WINDOW", "10s")
	t.Setenv("LASTVALUE_STORE_CLOSED_HISTORY", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "full" || cfg.Store.MaxChunkSize != 10 || !cfg.Redis.Enabled {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Server.APIKey != "secret" {
		t.Fatalf("APIKey = %q", cfg.Server.APIKey)
	}
	if got := strings.Join(cfg.Server.CORSOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Fatalf("CORSOrigins = %q", got)
	}
	if cfg.RateWindow() != 10*time.Second {
		t.Fatalf("RateWindow = %v", cfg.RateWindow())
	}
	if cfg.Store.ClosedHistory != 128 {
		t.Fatalf("malformed value should be ignored, got %d", cfg.Store.ClosedHistory)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"zero chunk", func(c *Config) { c.Store.MaxChunkSize = 0 }, "max_chunk_size"},
		{"zero history", func(c *Config) { c.Store.ClosedHistory = 0 }, "closed_history"},
		{"full without s3", func(c *Config) { c.Mode = "full" }, "requires s3.enabled"},
		{"postgres pool", func(c *Config) {
			c.Postgres.Enabled = true
			c.Postgres.PoolMinConns = 20
		}, "pool_min_conns must not exceed"},
		{"rate limit without redis", func(c *Config) { c.Server.RateLimit = 10 }, "requires redis.enabled"},
		{"key file without password", func(c *Config) { c.Server.APIKeyFile = "/etc/lastvalue/key.json" }, "api_key_password"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server: port"},
		{"telegram half set", func(c *Config) { c.Notify.TelegramToken = "t" }, "set together"},
		{"unknown notify event", func(c *Config) { c.Notify.Events = []string{"order_filled"} }, "unknown event"},
		{"empty prefix", func(c *Config) { c.Snapshot.Prefix = "/" }, "prefix"},
		{"negative keep", func(c *Config) { c.Snapshot.Keep = -1 }, "keep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "nope"
	cfg.Store.MaxChunkSize = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "unknown mode") || !strings.Contains(err.Error(), "max_chunk_size") {
		t.Fatalf("err = %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.S3.SecretKey = "s3"

	out := RedactedConfig(&cfg)
	if out.Postgres.Password != redacted || out.Server.APIKey != redacted || out.S3.SecretKey != redacted {
		t.Fatalf("secrets not redacted: %+v", out)
	}
	if out.Redis.Password != "" {
		t.Fatalf("empty secret should stay empty, got %q", out.Redis.Password)
	}
	if cfg.Server.APIKey != "key" {
		t.Fatal("original mutated")
	}

	out.Server.CORSOrigins[0] = "changed"
	if cfg.Server.CORSOrigins[0] == "changed" {
		t.Fatal("slices shared with the original")
	}
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		raw      string
		maskPath bool
		want     string
	}{
		{"", false, ""},
		{"postgres://lv:secret@db:5432/lastvalue?sslmode=disable", false, "postgres://lv:xxxxx@db:5432/lastvalue"},
		{"postgres://lv@db/lastvalue", false, "postgres://lv@db/lastvalue"},
		{"https://discord.com/api/webhooks/1/abc", true, "https://discord.com/***"},
		{"host=db password=secret", false, redacted},
	}
	for _, tt := range tests {
		if got := redactURL(tt.raw, tt.maskPath); got != tt.want {
			t.Errorf("redactURL(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
