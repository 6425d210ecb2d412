// Package logging defines the logger used across the caserisk pipeline.
// Components take a Logger so the watch loop, the single-shot command, and
// tests can each choose how much output they want.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Logger is the logging interface consumed by all caserisk components.
// Implement it to plug in a different backend.
type Logger interface {
	// Debug logs a debug message
	Debug(format string, args ...interface{})

	// Info logs an info message
	Info(format string, args ...interface{})

	// Warn logs a warning message
	Warn(format string, args ...interface{})

	// Error logs an error message
	Error(format string, args ...interface{})
}

// Level represents the logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent
)

// ParseLevel maps a config string to a Level. Unknown strings mean Info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "silent", "off":
		return LevelSilent
	default:
		return LevelInfo
	}
}

// StdLogger is the default Logger implementation on the standard library.
type StdLogger struct {
	level  Level
	prefix string
	logger *log.Logger
}

// New creates a logger writing to stderr with the given prefix and level.
func New(prefix string, level Level) *StdLogger {
	return &StdLogger{
		level:  level,
		prefix: prefix,
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
}

// SetOutput sets the output writer.
func (l *StdLogger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

// SetLevel sets the log level.
func (l *StdLogger) SetLevel(level Level) {
	l.level = level
}

// Debug logs a debug message.
func (l *StdLogger) Debug(format string, args ...interface{}) {
	if l.level <= LevelDebug {
		l.log("DEBUG", format, args...)
	}
}

// Info logs an info message.
func (l *StdLogger) Info(format string, args ...interface{}) {
	if l.level <= LevelInfo {
		l.log("INFO", format, args...)
	}
}

// Warn logs a warning message.
func (l *StdLogger) Warn(format string, args ...interface{}) {
	if l.level <= LevelWarn {
		l.log("WARN", format, args...)
	}
}

// Error logs an error message.
func (l *StdLogger) Error(format string, args ...interface{}) {
	if l.level <= LevelError {
		l.log("ERROR", format, args...)
	}
}

func (l *StdLogger) log(level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		l.logger.Printf("[%s] [%s] %s", l.prefix, level, msg)
	} else {
		l.logger.Printf("[%s] %s", level, msg)
	}
}

// NopLogger discards all messages. Used in tests and as the safe default.
type NopLogger struct{}

func (l *NopLogger) Debug(format string, args ...interface{}) {}
func (l *NopLogger) Info(format string, args ...interface{})  {}
func (l *NopLogger) Warn(format string, args ...interface{})  {}
func (l *NopLogger) Error(format string, args ...interface{}) {}

// FromVerbose returns a debug-level logger when verbose is set, otherwise a
// logger that starts at info.
func FromVerbose(prefix string, verbose bool) Logger {
	if verbose {
		return New(prefix, LevelDebug)
	}
	return New(prefix, LevelInfo)
}

// Ensure implementations satisfy the interface
var (
	_ Logger = (*StdLogger)(nil)
	_ Logger = (*NopLogger)(nil)
)
