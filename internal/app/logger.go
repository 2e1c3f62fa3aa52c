package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alanyoungcy/lastvalue/internal/config"
)

// ParseLevel maps a config log level to a slog level. Unknown values map to
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger: JSON to stdout, plus a rotated file
// when log.file is set. The returned func closes the file.
func NewLogger(cfg *config.Config) (*slog.Logger, func()) {
	var (
		out     io.Writer = os.Stdout
		closeFn           = func() {}
	)
	if cfg.Log.File != "" {
		rot := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
		out = io.MultiWriter(os.Stdout, rot)
		closeFn = func() { _ = rot.Close() }
	}
	return newJSONLogger(out, cfg.LogLevel), closeFn
}

func newJSONLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}
