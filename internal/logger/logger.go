package logger

import (
	"log/slog"
	"os"
)

// New creates the service-wide JSON logger.
func New() *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler).With(slog.String("service", "nelo-api"))
}
