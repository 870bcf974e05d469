package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SetupLogger instala el logger por defecto según cfg, escribiendo en stdout.
func SetupLogger(cfg LogConfig) {
	slog.SetDefault(NewLogger(cfg, os.Stdout))
}

// NewLogger construye un slog.Logger con el nivel y formato de cfg.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
