package types

import (
	"context"
	"log/slog"
)

// Context Keys
type contextKey string

const (
	runIDKey  contextKey = "run_id"
	unitIDKey contextKey = "unit_id"
	loggerKey contextKey = "logger"
)

// WithRunID stores the run ID in the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// GetRunID retrieves the run ID from the context.
func GetRunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// WithUnitID stores the current unit of work (dataset, cluster or tile) in the context.
func WithUnitID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, unitIDKey, id)
}

// GetUnitID retrieves the unit ID from the context.
func GetUnitID(ctx context.Context) string {
	id, _ := ctx.Value(unitIDKey).(string)
	return id
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the logger from the context, enriched with the
// run and unit IDs when present. Falls back to fallback (or slog.Default).
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	logger, ok := ctx.Value(loggerKey).(*slog.Logger)
	if !ok || logger == nil {
		logger = fallback
	}
	if logger == nil {
		logger = slog.Default()
	}
	if id := GetRunID(ctx); id != "" {
		logger = logger.With("run_id", id)
	}
	if id := GetUnitID(ctx); id != "" {
		logger = logger.With("unit_id", id)
	}
	return logger
}
