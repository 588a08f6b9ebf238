// Package logger provides structured logging setup for the gateway.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/portero-gateway/portero/internal/config"
)

// New creates a *slog.Logger from the given Logging config. Output is JSON
// to stdout with a "service" attribute on every record.
func New(cfg config.Logging) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	return slog.New(handler).With("service", cfg.Service)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
