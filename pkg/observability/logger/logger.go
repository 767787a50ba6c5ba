// Package logger provides the structured logger used across the server.
package logger

import (
	"context"
)

// Logger defines the interface for structured logging throughout the server.
// All log methods accept a message string followed by key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With creates a child logger that adds args to every entry.
	With(args ...any) Logger

	// WithContext creates a child logger tagged with the server request ID
	// carried by ctx, if any. The ID is read, never consumed.
	WithContext(ctx context.Context) Logger
}
