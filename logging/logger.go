// Package logging provides the per-case structured log accumulator and the
// sinks test output is forwarded to. It is a leaf package; the rest of the
// engine depends on it, never the other way around.
package logging

import (
	"time"

	"github.com/acarl005/stripansi"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is a single structured log record collected during one execution.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// Sink receives warn and error entries forwarded from a TestLogger.
// Forwarding is best-effort; a failing sink never surfaces to a test result.
type Sink interface {
	Forward(e Entry) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e Entry) error

func (f SinkFunc) Forward(e Entry) error {
	return f(e)
}

// TestLogger accumulates structured log entries for a single test case
// execution. Each execution unit owns exactly one TestLogger, so the
// accumulator itself needs no locking; Snapshot hands out copies.
type TestLogger struct {
	entries []Entry
	sink    Sink
}

// NewTestLogger creates a logger for one execution. sink may be nil.
func NewTestLogger(sink Sink) *TestLogger {
	return &TestLogger{sink: sink}
}

func (l *TestLogger) Debug(msg string, details map[string]any) { l.log(LevelDebug, msg, details) }
func (l *TestLogger) Info(msg string, details map[string]any)  { l.log(LevelInfo, msg, details) }
func (l *TestLogger) Warn(msg string, details map[string]any)  { l.log(LevelWarn, msg, details) }
func (l *TestLogger) Error(msg string, details map[string]any) { l.log(LevelError, msg, details) }

func (l *TestLogger) log(level Level, msg string, details map[string]any) {
	// Details are copied on the way in and out so the caller, the sink and
	// snapshot consumers can never mutate the logger's record.
	e := Entry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Details:   copyDetails(details),
	}
	l.entries = append(l.entries, e)

	// Warnings and errors additionally go to the external sink,
	// fire-and-forget. Sink errors are swallowed.
	if l.sink != nil && (level == LevelWarn || level == LevelError) {
		e.Details = copyDetails(e.Details)
		go func(sink Sink, e Entry) {
			_ = sink.Forward(e)
		}(l.sink, e)
	}
}

// Snapshot returns a copy of the collected entries.
func (l *TestLogger) Snapshot() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	for i := range out {
		out[i].Details = copyDetails(out[i].Details)
	}
	return out
}

func copyDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}

// CleanOutput strips ANSI escape sequences from captured process output so
// log files and entry details stay readable.
func CleanOutput(s string) string {
	return stripansi.Strip(s)
}
