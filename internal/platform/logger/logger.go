package logger

import (
	"log/slog"
	"os"
)

// New returns the structured logger used across handlers and services.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
