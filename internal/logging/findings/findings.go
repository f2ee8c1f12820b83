// Package findings provides structured logging for verification findings
// and store operations, so runs can be filtered and aggregated by field.
package findings

import (
	"github.com/rs/zerolog"
)

// Logger writes structured events for tree verification and store operations.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a findings logger on top of a zerolog.Logger.
// Pass zerolog.Nop() to discard events.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

// LogFinding logs a failed comparison.
// kind: finding kind (e.g., "footer_mismatch", "missing_counterpart", "short_read")
// path: the live file
// counterpart: the saved file it was compared with
// detail: single-line description (may be empty)
// diffs: per-field differences for footer mismatches (may be nil)
func (l *Logger) LogFinding(kind, path, counterpart, detail string, diffs []string) {
	event := l.logger.Warn().
		Str("event_type", "finding").
		Str("kind", kind).
		Str("path", path).
		Str("counterpart", counterpart)

	if detail != "" {
		event = event.Str("detail", detail)
	}
	if len(diffs) > 0 {
		event = event.Strs("diffs", diffs)
	}

	event.Msg("Verification finding")
}

// LogPairOK logs a pair of files that compared equal.
func (l *Logger) LogPairOK(path, counterpart string) {
	l.logger.Debug().
		Str("event_type", "pair_ok").
		Str("path", path).
		Str("counterpart", counterpart).
		Msg("Pair matches")
}

// LogSkipped logs a file the walk did not compare.
// reason: why it was skipped (e.g., "excluded_suffix", "not_regular")
func (l *Logger) LogSkipped(path, reason string) {
	l.logger.Debug().
		Str("event_type", "skipped").
		Str("path", path).
		Str("reason", reason).
		Msg("File skipped")
}

// LogSummary logs the outcome of a tree comparison.
func (l *Logger) LogSummary(liveRoot, savedRoot string, compared, skipped, failures int) {
	level := zerolog.InfoLevel
	result := "passed"
	if failures > 0 {
		level = zerolog.ErrorLevel
		result = "failed"
	}

	l.logger.WithLevel(level).
		Str("event_type", "summary").
		Str("live_root", liveRoot).
		Str("saved_root", savedRoot).
		Int("compared", compared).
		Int("skipped", skipped).
		Int("failures", failures).
		Str("result", result).
		Msg("Tree comparison finished")
}

// LogStoreOp logs a fragment store operation.
// operation: store operation (e.g., "store", "delete", "add_reference", "move")
// objectID: hex object identifier (may be empty for tree operations)
// result: "ok" or "error"
// details: additional context (e.g., error message)
func (l *Logger) LogStoreOp(operation, objectID, result, details string) {
	level := zerolog.InfoLevel
	if result == "error" {
		level = zerolog.WarnLevel
	}

	event := l.logger.WithLevel(level).
		Str("event_type", "store_operation").
		Str("operation", operation).
		Str("result", result)

	if objectID != "" {
		event = event.Str("object_id", objectID)
	}
	if details != "" {
		event = event.Str("details", details)
	}

	event.Msg("Store operation")
}
