// Package logger provides a small leveled logging interface over the standard
// log package, so components can be handed a NullLogger in tests.
package logger

import (
	"fmt"
	"log"
	"strings"
)

// LogLevel orders log messages by importance
type LogLevel int

const (
	// LogDebug is chatty, per-step detail
	LogDebug LogLevel = iota
	// LogInfo is operator-relevant progress
	LogInfo
	// LogError is a failure
	LogError
)

var logLevelPrefix = map[LogLevel]string{
	LogDebug: "DEBUG",
	LogInfo:  "INFO",
	LogError: "ERROR",
}

// ParseLevel converts "debug", "info" or "error" to a LogLevel, defaulting to info
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogDebug
	case "error":
		return LogError
	default:
		return LogInfo
	}
}

// ILogger is the logging interface used throughout daisy
type ILogger interface {
	Printf(level LogLevel, format string, a ...interface{})
	Debugf(format string, a ...interface{})
	Infof(format string, a ...interface{})
	Errorf(format string, a ...interface{})
	SetLogLevel(level LogLevel)
	GetLogLevel() LogLevel
}

// StdOutLogger writes through the standard library's log package
type StdOutLogger struct {
	logLevel LogLevel
	prefix   string
}

// New returns a StdOutLogger which tags each line with prefix
func New(prefix string, level LogLevel) *StdOutLogger {
	return &StdOutLogger{logLevel: level, prefix: prefix}
}

func (l *StdOutLogger) Printf(level LogLevel, format string, a ...interface{}) {
	if level < l.logLevel {
		return
	}
	txt := logLevelPrefix[level] + ": " + fmt.Sprintf(format, a...)
	if l.prefix != "" {
		txt = "[" + l.prefix + "] " + txt
	}
	log.Println(txt)
}
func (l *StdOutLogger) Debugf(format string, a ...interface{}) {
	l.Printf(LogDebug, format, a...)
}
func (l *StdOutLogger) Infof(format string, a ...interface{}) {
	l.Printf(LogInfo, format, a...)
}
func (l *StdOutLogger) Errorf(format string, a ...interface{}) {
	l.Printf(LogError, format, a...)
}

func (l *StdOutLogger) SetLogLevel(level LogLevel) {
	l.logLevel = level
}
func (l *StdOutLogger) GetLogLevel() LogLevel {
	return l.logLevel
}

// NullLogger - For mocking out in tests
type NullLogger struct {
}

func (l *NullLogger) Printf(level LogLevel, format string, a ...interface{}) {}
func (l *NullLogger) Debugf(format string, a ...interface{})                 {}
func (l *NullLogger) Infof(format string, a ...interface{})                  {}
func (l *NullLogger) Errorf(format string, a ...interface{})                 {}
func (l *NullLogger) SetLogLevel(level LogLevel)                             {}
func (l *NullLogger) GetLogLevel() LogLevel                                  { return LogError }

// OrNull returns l, or a NullLogger if l is nil
func OrNull(l ILogger) ILogger {
	if l == nil {
		return &NullLogger{}
	}
	return l
}
