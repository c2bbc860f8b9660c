// Package logging constructs the structured logger every service starts
// with: JSON output, level driven by LOG_LEVEL, service name attached to
// every record.
package logging

import (
	"log/slog"
	"os"
)

// New creates a structured logger with JSON output for serviceName.
func New(serviceName string) *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("service", serviceName))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithCorrelation returns a logger attribute pair for the two fields that
// tie a log line back to a saga: correlationId and aggregateId.
func WithCorrelation(correlationID, aggregateID string) []any {
	return []any{slog.String("correlation_id", correlationID), slog.String("aggregate_id", aggregateID)}
}
