// Package events provides structured logging for the engine's own
// lifecycle events, distinct from per-request application logs.
package events

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// EventLogger emits structured JSON events for this engine's notable
// occurrences: completed checks, circuit transitions, scheduler drops,
// and metrics-ring overwrites.
type EventLogger struct {
	logger     *slog.Logger
	instanceID string
}

// NewEventLogger creates an EventLogger with JSON output to stdout.
func NewEventLogger(instanceID string) *EventLogger {
	return newWithWriter(instanceID, os.Stdout)
}

// NewEventLoggerWithWriter creates an EventLogger with JSON output to a
// custom writer. Useful for tests.
func NewEventLoggerWithWriter(instanceID string, w io.Writer) *EventLogger {
	return newWithWriter(instanceID, w)
}

func newWithWriter(instanceID string, w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(handler).With("instance_id", instanceID)
	return &EventLogger{logger: logger, instanceID: instanceID}
}

// LogCheckCompleted logs one completed dual-path check.
// event: "check_completed"
func (el *EventLogger) LogCheckCompleted(server, overallStatus string, combinedDurationMs int64, healthScore float64) {
	el.logger.Info("check_completed",
		"server", server,
		"overall_status", overallStatus,
		"combined_duration_ms", combinedDurationMs,
		"health_score", healthScore,
	)
}

// LogCircuitTransition logs a sub-state or overall-state circuit change.
// event: "circuit_transition"
func (el *EventLogger) LogCircuitTransition(server, path, fromState, toState, reason string) {
	el.logger.Warn("circuit_transition",
		"server", server,
		"path", path,
		"from_state", fromState,
		"to_state", toState,
		"reason", reason,
	)
}

// LogSchedulerDrop logs a scheduled check that did not run: either the
// scheduler's work queue was full, or the Health Check Service skipped it
// because the server already had a check in flight or the service-wide
// concurrency budget was exhausted. queueDepth is the scheduler's queue
// length, or the number of checks in flight when the service skipped it.
// event: "scheduler_drop"
func (el *EventLogger) LogSchedulerDrop(server string, queueDepth int) {
	el.logger.Warn("scheduler_drop",
		"server", server,
		"queue_depth", queueDepth,
	)
}

// LogMetricsOverwrite logs a ring-buffer overwrite event, useful for
// auditing retention windows that are too small for the traffic observed.
// event: "metrics_overwrite"
func (el *EventLogger) LogMetricsOverwrite(server, series string, totalOverwrites int64) {
	el.logger.Info("metrics_overwrite",
		"server", server,
		"series", series,
		"total_overwrites", totalOverwrites,
	)
}

// LogConfigReload logs a successful whole-document configuration swap.
// event: "config_reload"
func (el *EventLogger) LogConfigReload(epochSeq uint64, serverCount int) {
	el.logger.Info("config_reload",
		"epoch_seq", epochSeq,
		"server_count", serverCount,
	)
}

var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex
	noopLogger   = NoopEventLogger()
)

// SetGlobalEventLogger sets the global event logger instance.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the global event logger, or a shared no-op
// logger if none has been set.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return noopLogger
}

// NoopEventLogger returns an EventLogger that discards all events.
func NoopEventLogger() *EventLogger {
	handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &EventLogger{logger: slog.New(handler)}
}
