// internal/utils/logger.go

package utils

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the interface for logging throughout the application.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Warn(msg string)
	Warnf(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
}

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

// defaultLevel is the process-wide minimum level. Loggers created with
// NewLogger consult it at log time, so a level applied in main reaches
// component loggers created during package initialization.
var defaultLevel atomic.Int32

func init() {
	level := InfoLevel
	if env := os.Getenv("SCRAPESENTRY_LOG_LEVEL"); env != "" {
		level = ParseLogLevel(env)
	}
	defaultLevel.Store(int32(level))
}

// SetDefaultLevel sets the process-wide minimum level. It overrides the
// SCRAPESENTRY_LOG_LEVEL environment variable.
func SetDefaultLevel(level LogLevel) {
	defaultLevel.Store(int32(level))
}

// DefaultLevel reports the current process-wide minimum level.
func DefaultLevel() LogLevel {
	return LogLevel(defaultLevel.Load())
}

// ParseLogLevel converts a level name to a LogLevel. Unknown names fall
// back to InfoLevel.
func ParseLogLevel(name string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// SimpleLogger provides the default line-oriented logger implementation.
// Unless pinned with NewLoggerWithLevel or SetLevel, it follows the
// process-wide default level.
type SimpleLogger struct {
	level  LogLevel
	pinned bool
	out    io.Writer
	fields map[string]interface{}
	mu     sync.Mutex
}

// NewLogger creates a logger that follows the process-wide default level.
func NewLogger() Logger {
	return &SimpleLogger{
		out:    os.Stdout,
		fields: make(map[string]interface{}),
	}
}

// NewLoggerWithLevel creates a logger pinned to the specified log level.
func NewLoggerWithLevel(level LogLevel) Logger {
	return &SimpleLogger{
		level:  level,
		pinned: true,
		out:    os.Stdout,
		fields: make(map[string]interface{}),
	}
}

// NewComponentLogger creates a logger tagged with a component field.
// Packages keep one at file scope so every line carries its origin.
func NewComponentLogger(component string) Logger {
	return NewLogger().WithField("component", component)
}

// SetLevel pins the logger to a minimum level, detaching it from the
// process-wide default.
func (l *SimpleLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.pinned = true
	l.mu.Unlock()
}

// SetOutput redirects log output, primarily for tests.
func (l *SimpleLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.out = w
	l.mu.Unlock()
}

func (l *SimpleLogger) Debug(msg string) { l.log(DebugLevel, msg) }
func (l *SimpleLogger) Debugf(format string, args ...interface{}) {
	l.log(DebugLevel, fmt.Sprintf(format, args...))
}
func (l *SimpleLogger) Info(msg string) { l.log(InfoLevel, msg) }
func (l *SimpleLogger) Infof(format string, args ...interface{}) {
	l.log(InfoLevel, fmt.Sprintf(format, args...))
}
func (l *SimpleLogger) Warn(msg string) { l.log(WarnLevel, msg) }
func (l *SimpleLogger) Warnf(format string, args ...interface{}) {
	l.log(WarnLevel, fmt.Sprintf(format, args...))
}
func (l *SimpleLogger) Error(msg string) { l.log(ErrorLevel, msg) }
func (l *SimpleLogger) Errorf(format string, args ...interface{}) {
	l.log(ErrorLevel, fmt.Sprintf(format, args...))
}

// WithField returns a copy of the logger with one extra field attached.
func (l *SimpleLogger) WithField(key string, value interface{}) Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a copy of the logger with extra fields attached.
func (l *SimpleLogger) WithFields(fields map[string]interface{}) Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &SimpleLogger{
		level:  l.level,
		pinned: l.pinned,
		out:    l.out,
		fields: merged,
	}
}

func (l *SimpleLogger) log(level LogLevel, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	min := l.level
	if !l.pinned {
		min = DefaultLevel()
	}
	if level < min {
		return
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString("] [")
	b.WriteString(levelNames[level])
	b.WriteString("] ")
	b.WriteString(msg)
	if len(l.fields) > 0 {
		b.WriteString(" ")
		b.WriteString(formatFields(l.fields))
	}
	fmt.Fprintln(l.out, b.String())
}

// formatFields renders fields as key=value pairs in stable key order.
func formatFields(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}
