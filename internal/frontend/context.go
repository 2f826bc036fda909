package frontend

import (
	"context"
	"fmt"
	"log/slog"
)

// ContextError occurs when a request-scoped value is missing or of the
// wrong type.
type ContextError struct {
	got any
}

func (c *ContextError) Error() string {
	return fmt.Sprintf(
		"error retrieving value from context, value obtained was '%v' and type obtained was '%T'",
		c.got,
		c.got)
}

type contextKey int

const (
	// Keys for request-scoped data in http.Request contexts
	contextKeyLogger contextKey = iota
)

// ContextWithLogger stores a logger in the context.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKeyLogger, logger)
}

// LoggerFromContext retrieves the request logger from the context.
func LoggerFromContext(ctx context.Context) (*slog.Logger, error) {
	logger, ok := ctx.Value(contextKeyLogger).(*slog.Logger)
	if !ok {
		return logger, &ContextError{got: logger}
	}
	return logger, nil
}
