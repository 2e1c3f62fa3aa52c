package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alanyoungcy/lastvalue/internal/bus"
	"github.com/alanyoungcy/lastvalue/internal/config"
	"github.com/alanyoungcy/lastvalue/internal/crypto"
	"github.com/alanyoungcy/lastvalue/internal/domain"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestJSONLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", slog.String("component", "test"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "shown" || line["component"] != "test" {
		t.Fatalf("line = %v", line)
	}
}

func TestNewLoggerWithFile(t *testing.T) {
	cfg := config.Defaults()
	cfg.Log.File = filepath.Join(t.TempDir(), "lastvalue.log")

	logger, closeFn := NewLogger(&cfg)
	defer closeFn()
	if logger == nil {
		t.Fatal("nil logger")
	}
}

func TestWireWithoutBackingServices(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.MaxChunkSize = 50

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if _, ok := deps.SignalBus.(*bus.Local); !ok {
		t.Fatalf("SignalBus = %T, want *bus.Local", deps.SignalBus)
	}
	if deps.AuditStore != nil || deps.RateLimiter != nil || deps.Snapshots != nil {
		t.Fatal("disabled services should stay nil")
	}
	if len(deps.HealthChecks) != 0 {
		t.Fatalf("HealthChecks = %v", deps.HealthChecks)
	}
	if deps.Prices.MaxChunkSize() != 50 {
		t.Fatalf("MaxChunkSize = %d", deps.Prices.MaxChunkSize())
	}

	// The wired service publishes batch events on the local bus.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	events, err := deps.SignalBus.Subscribe(ctx, domain.BatchEventsChannel)
	if err != nil {
		t.Fatal(err)
	}
	id, err := deps.Prices.StartBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case raw := <-events:
		var ev domain.BatchEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.BatchID != id || ev.Event != domain.AuditBatchStarted {
			t.Fatalf("event = %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("no batch event received")
	}
}

func TestFullModeRequiresBlobStorage(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "full"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	a := New(&cfg, logger)
	if err := a.FullMode(context.Background(), deps); err == nil {
		t.Fatal("expected an error without s3")
	}
}

func TestDrainCancelsOpenBatch(t *testing.T) {
	cfg := config.Defaults()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()

	ctx := context.Background()
	id, err := deps.Prices.StartBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	New(&cfg, logger).drain(ctx, deps)

	if _, ok := deps.Prices.ActiveBatch(ctx); ok {
		t.Fatal("batch still active after drain")
	}
	if _, err := deps.Prices.CompleteBatch(ctx, id); !errors.Is(err, domain.ErrState) {
		t.Errorf("complete after drain: err = %v, want ErrState", err)
	}
}

func TestResolveAPIKeyFromFile(t *testing.T) {
	blob, err := crypto.EncryptSecret("file-key", "pw")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Defaults()
	cfg.Server.APIKeyFile = path
	cfg.Server.APIKeyPassword = "pw"
	if err := resolveAPIKey(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.APIKey != "file-key" {
		t.Fatalf("APIKey = %q", cfg.Server.APIKey)
	}

	cfg = config.Defaults()
	if err := resolveAPIKey(&cfg); err != nil || cfg.Server.APIKey != "" {
		t.Fatalf("no key configured: err=%v key=%q", err, cfg.Server.APIKey)
	}

	cfg.Server.APIKeyFile = path
	cfg.Server.APIKeyPassword = "wrong"
	if err := resolveAPIKey(&cfg); err == nil {
		t.Fatal("expected an error for a wrong password")
	}
}
