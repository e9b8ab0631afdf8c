// Package logging defines the structured logger used across the service.
// Components depend on the Logger interface, not on zap directly.
package logging

import (
	"os"
	"strings"
	"sync"
	"time"
)

// Field is one structured key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the logging contract every component receives. Error takes the
// error as its own argument so it always lands in a dedicated field.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	WithFields(fields ...Field) Logger
}

// LogLevel is the minimum severity a logger emits.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel reads a level name case-insensitively, defaulting to info.
func ParseLevel(name string) LogLevel {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger
)

// SetGlobalLogger replaces the process-wide logger.
func SetGlobalLogger(l Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalLogger returns the process-wide logger, creating a default one
// on first use so components constructed before InitGlobalLogger still log.
func GetGlobalLogger() Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewDefaultLogger()
	}
	return globalLogger
}

// InitGlobalLogger installs the process-wide logger at the level named by
// the LOG_LEVEL environment variable.
func InitGlobalLogger() {
	level := ParseLevel(os.Getenv("LOG_LEVEL"))
	logger := newZapAdapter(level)
	SetGlobalLogger(logger)
	logger.Info("logger initialized", String("level", level.String()))
}

// NewDefaultLogger builds a standalone info-level logger.
func NewDefaultLogger() Logger {
	return newZapAdapter(InfoLevel)
}

// MustSync flushes buffered entries. Called on shutdown.
func MustSync() {
	if adapter, ok := GetGlobalLogger().(*zapAdapter); ok {
		_ = adapter.sync()
	}
}

// Typed field constructors.

func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err wraps an error into the conventional "error" field, for levels below
// Error that still want to record one.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}
