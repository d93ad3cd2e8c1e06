// Package logger provides the structured logging interface used across coldwatch.
package logger

import (
	"time"

	"go.uber.org/zap"
)

// LogLevel names a minimum severity accepted by a Logger.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Field is a typed key/value pair attached to a log entry.
type Field = zap.Field

// Logger is the logging abstraction passed to every component.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger that always carries fields.
	With(fields ...Field) Logger
	// Module returns a child logger tagged with the owning component name.
	Module(name string) Logger
	// Sync flushes buffered entries.
	Sync() error
}

func String(key, value string) Field       { return zap.String(key, value) }
func Int(key string, value int) Field       { return zap.Int(key, value) }
func Int64(key string, value int64) Field   { return zap.Int64(key, value) }
func Uint64(key string, value uint64) Field { return zap.Uint64(key, value) }
func Float64(key string, value float64) Field {
	return zap.Float64(key, value)
}
func Bool(key string, value bool) Field { return zap.Bool(key, value) }
func Duration(key string, value time.Duration) Field {
	return zap.Duration(key, value)
}
func Time(key string, value time.Time) Field { return zap.Time(key, value) }
func Any(key string, value any) Field        { return zap.Any(key, value) }

// Error attaches err under the "error" key. A nil error yields a no-op field.
func Error(err error) Field { return zap.Error(err) }
