package config

import (
	"log/slog"
	"os"
)

// DefaultLogger returns the service's JSON logger. Debug enables the
// debug level, which includes per-request read logging.
func DefaultLogger(debug bool) *slog.Logger {
	handlerOptions := slog.HandlerOptions{}
	if debug {
		handlerOptions.Level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &handlerOptions)
	logger := slog.New(handler)
	return logger
}
