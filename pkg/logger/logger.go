// Package logger wraps log/slog with the structured-logging conventions
// used throughout the reload/reconcile/stats pipeline.
package logger

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with convenience methods for the error
// taxonomy in spec.md §7.
type Logger struct {
	*slog.Logger
}

// New creates a new structured logger. JSON output is used when
// LQOS_ENV=production, human-readable text otherwise.
func New(level string) *Logger {
	var logLevel slog.Level
	switch level {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN", "warning", "WARNING":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if os.Getenv("LQOS_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithComponent creates a logger scoped to one pipeline component
// ("loader", "planner", "compiler", "reconciler", "stats", ...).
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", component))}
}

// WithError creates a logger with an error attached.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("error", err.Error()))}
}

// CapClamped logs the §4.2 step-5 "subscriber max clamped to parent cap"
// warning.
func (l *Logger) CapClamped(ctx context.Context, circuitID, nodeID string, requested, clamped int) {
	l.Logger.WarnContext(ctx, "circuit max bandwidth clamped to parent capacity",
		slog.String("circuit_id", circuitID),
		slog.String("parent_node_id", nodeID),
		slog.Int("requested_mbps", requested),
		slog.Int("clamped_mbps", clamped),
	)
}

// KernelRejected logs a tc/xdp command that returned a kernel-error
// sentinel (spec.md §4.4, §7 KernelRejected).
func (l *Logger) KernelRejected(ctx context.Context, command, output string, fatal bool) {
	l.Logger.ErrorContext(ctx, "kernel rejected command",
		slog.String("command", command),
		slog.String("output", output),
		slog.Bool("fatal", fatal),
	)
}

// StatsParseFailure logs a per-circuit or per-tin arithmetic failure
// during stats collection (spec.md §7 StatsParseFailure).
func (l *Logger) StatsParseFailure(ctx context.Context, circuitID, field, reason string) {
	l.Logger.WarnContext(ctx, "stats delta zeroed on parse failure",
		slog.String("circuit_id", circuitID),
		slog.String("field", field),
		slog.String("reason", reason),
	)
}
