// Package logger provides leveled, structured logging for the mtlsctl CLI tool.
//
// The logger writes to stderr, separate from the user-facing output that
// goes to stdout, so verbose diagnostics never interfere with normal CLI
// output or JSON formatting. It is a thin facade over log/slog: the periodic
// renewal monitor relies on the key=value (or JSON) records it produces.
//
// # Log Levels
//
// Four log levels are supported, in order of severity:
//   - Debug: Detailed information for debugging
//   - Info: General operational information
//   - Warn: Warning conditions that don't prevent operation
//   - Error: Error conditions that affect operation
//
// # Initialization
//
//	logger.Init(verbose)  // verbose=true enables Debug level
//
// By default (verbose=false), only Warn and Error messages are shown.
//
// # Usage
//
//	logger.Debug("Loading CA from %s", dir)
//	logger.Warn("Certificate %s expires in %d days", name, days)
//
//	logger.InfoFields("renewal check", map[string]interface{}{
//	    "subject":        "admin-client",
//	    "days_remaining": 12,
//	})
//
// # Output Format
//
// Text format (default):
//
//	time=2026-10-14T10:30:45Z level=INFO msg="renewal check" days_remaining=12 subject=admin-client
//
// JSON format is selected with SetFormat(FormatJSON).
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
)

// Level represents a logging severity level.
type Level int

// Log levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Format selects the record encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Logger handles leveled logging with thread-safe output.
type Logger struct {
	mu     sync.Mutex
	level  Level
	format Format
	output io.Writer
	slog   *slog.Logger
}

// Global logger instance.
var std = newLogger(os.Stderr)

func newLogger(w io.Writer) *Logger {
	l := &Logger{
		level:  LevelWarn, // Default: only warnings and errors
		format: FormatText,
		output: w,
	}
	l.rebuild()
	return l
}

// rebuild must be called with mu held (or before the logger is shared).
func (l *Logger) rebuild() {
	opts := &slog.HandlerOptions{Level: l.level.slog()}
	var h slog.Handler
	if l.format == FormatJSON {
		h = slog.NewJSONHandler(l.output, opts)
	} else {
		h = slog.NewTextHandler(l.output, opts)
	}
	l.slog = slog.New(h)
}

// Init initializes the global logger with the specified verbosity.
// When verbose is true, Debug and Info levels are enabled.
// When verbose is false, only Warn and Error are shown.
func Init(verbose bool) {
	if verbose {
		SetLevel(LevelDebug)
	} else {
		SetLevel(LevelWarn)
	}
}

// SetLevel sets the minimum log level for the global logger.
func SetLevel(level Level) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.level = level
	std.rebuild()
}

// SetFormat switches between text and JSON records.
func SetFormat(f Format) {
	std.mu.Lock()
	defer std.mu.Unlock()
	if f != FormatJSON {
		f = FormatText
	}
	std.format = f
	std.rebuild()
}

// SetOutput sets the output destination for the global logger.
// A nil writer restores os.Stderr.
func SetOutput(w io.Writer) {
	std.mu.Lock()
	defer std.mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	std.output = w
	std.rebuild()
}

// GetLevel returns the current log level.
func GetLevel() Level {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.level
}

// Slog returns the underlying *slog.Logger for packages that take one.
func Slog() *slog.Logger {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.slog
}

func (l *Logger) log(level Level, msg string, attrs ...slog.Attr) {
	l.mu.Lock()
	s := l.slog
	l.mu.Unlock()
	s.LogAttrs(context.Background(), level.slog(), msg, attrs...)
}

func fieldAttrs(fields map[string]interface{}) []slog.Attr {
	// Sort field keys for consistent output
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		v := fields[k]
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

// Debug logs a debug message.
// Only shown when verbose mode is enabled.
func Debug(format string, args ...interface{}) {
	std.log(LevelDebug, fmt.Sprintf(format, args...))
}

// Info logs an informational message.
// Only shown when verbose mode is enabled.
func Info(format string, args ...interface{}) {
	std.log(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
// Always shown regardless of verbose mode.
func Warn(format string, args ...interface{}) {
	std.log(LevelWarn, fmt.Sprintf(format, args...))
}

// Error logs an error message.
// Always shown regardless of verbose mode.
func Error(format string, args ...interface{}) {
	std.log(LevelError, fmt.Sprintf(format, args...))
}

// DebugFields logs a debug message with structured fields.
func DebugFields(msg string, fields map[string]interface{}) {
	std.log(LevelDebug, msg, fieldAttrs(fields)...)
}

// InfoFields logs an informational message with structured fields.
func InfoFields(msg string, fields map[string]interface{}) {
	std.log(LevelInfo, msg, fieldAttrs(fields)...)
}

// WarnFields logs a warning message with structured fields.
func WarnFields(msg string, fields map[string]interface{}) {
	std.log(LevelWarn, msg, fieldAttrs(fields)...)
}

// ErrorFields logs an error message with structured fields.
func ErrorFields(msg string, fields map[string]interface{}) {
	std.log(LevelError, msg, fieldAttrs(fields)...)
}

// LogError logs an error with additional context message.
func LogError(err error, msg string) {
	if err == nil {
		return
	}
	std.log(LevelError, msg, slog.String("error", err.Error()))
}
