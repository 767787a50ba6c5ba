// Package testutil provides test doubles shared by the middleware tests.
package testutil

import (
	"context"
	"sync"

	"github.com/nimburion/rpcserver/pkg/middleware/requestid"
	"github.com/nimburion/rpcserver/pkg/observability/logger"
)

// MockLogger is a test logger that captures log entries for assertion in tests.
// It is safe for concurrent use; child loggers share the parent's entries.
type MockLogger struct {
	sink   *sink
	fields map[string]interface{}
}

type sink struct {
	mu   sync.Mutex
	logs []LogEntry
}

// LogEntry represents a single log entry captured by MockLogger.
type LogEntry struct {
	Level  string
	Msg    string
	Fields map[string]interface{}
}

// NewMockLogger creates an empty MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{sink: &sink{}}
}

// Debug records a debug-level log entry for testing assertions.
func (m *MockLogger) Debug(msg string, args ...any) { m.record("debug", msg, args) }

// Info records an info-level log entry for testing assertions.
func (m *MockLogger) Info(msg string, args ...any) { m.record("info", msg, args) }

// Warn records a warn-level log entry for testing assertions.
func (m *MockLogger) Warn(msg string, args ...any) { m.record("warn", msg, args) }

// Error records an error-level log entry for testing assertions.
func (m *MockLogger) Error(msg string, args ...any) { m.record("error", msg, args) }

// With returns a child logger whose entries carry args.
func (m *MockLogger) With(args ...any) logger.Logger {
	m.init()
	fields := make(map[string]interface{}, len(m.fields)+len(args)/2)
	for k, v := range m.fields {
		fields[k] = v
	}
	for k, v := range argsToMap(args) {
		fields[k] = v
	}
	return &MockLogger{sink: m.sink, fields: fields}
}

// WithContext adds the request ID carried by ctx, like the zap logger does.
func (m *MockLogger) WithContext(ctx context.Context) logger.Logger {
	if id, ok := requestid.FromContext(ctx); ok {
		return m.With(logger.FieldRequestID, id.String())
	}
	return m
}

// Logs returns a snapshot of the captured entries.
func (m *MockLogger) Logs() []LogEntry {
	m.init()
	m.sink.mu.Lock()
	defer m.sink.mu.Unlock()
	return append([]LogEntry(nil), m.sink.logs...)
}

// Find returns the entries with the given message.
func (m *MockLogger) Find(msg string) []LogEntry {
	var found []LogEntry
	for _, entry := range m.Logs() {
		if entry.Msg == msg {
			found = append(found, entry)
		}
	}
	return found
}

func (m *MockLogger) init() {
	if m.sink == nil {
		m.sink = &sink{}
	}
}

func (m *MockLogger) record(level, msg string, args []any) {
	m.init()
	fields := argsToMap(args)
	for k, v := range m.fields {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	m.sink.mu.Lock()
	defer m.sink.mu.Unlock()
	m.sink.logs = append(m.sink.logs, LogEntry{Level: level, Msg: msg, Fields: fields})
}

func argsToMap(args []any) map[string]interface{} {
	fields := make(map[string]interface{})
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			fields[key] = args[i+1]
		}
	}
	return fields
}
