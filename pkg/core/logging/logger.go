// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     logging
// Description: Structured key/value logging for daemon components
// License:     MIT
// ============================================================================

package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel converts a string level to a Level, defaulting to info
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format selects the output encoding
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

var (
	defaultMu     sync.RWMutex
	defaultLevel  = LevelInfo
	defaultFormat = FormatText
	defaultOutput io.Writer = os.Stdout
)

// SetDefaults configures level and format for loggers created afterwards
func SetDefaults(level string, format string) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLevel = ParseLevel(level)
	if format == string(FormatJSON) {
		defaultFormat = FormatJSON
	} else {
		defaultFormat = FormatText
	}
}

// SetOutput redirects all loggers created afterwards, used by tests
func SetOutput(w io.Writer) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOutput = w
}

// Logger is a named, leveled logger with key/value context
type Logger struct {
	mu     sync.Mutex
	name   string
	level  Level
	format Format
	output io.Writer
	fields map[string]interface{}
}

// Config holds logger configuration
type Config struct {
	Name   string
	Level  Level
	Format Format
	Output io.Writer
}

// New creates a logger for a named component using the package defaults
func New(name string) *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return &Logger{
		name:   name,
		level:  defaultLevel,
		format: defaultFormat,
		output: defaultOutput,
	}
}

// NewWithConfig creates a logger with explicit configuration
func NewWithConfig(cfg Config) *Logger {
	l := &Logger{
		name:   cfg.Name,
		level:  cfg.Level,
		format: cfg.Format,
		output: cfg.Output,
	}
	if l.output == nil {
		l.output = os.Stdout
	}
	if l.format == "" {
		l.format = FormatText
	}
	return l
}

// WithLevel returns a copy of the logger with the given minimum level
func (l *Logger) WithLevel(level Level) *Logger {
	clone := l.clone()
	clone.level = level
	return clone
}

// With returns a copy of the logger with bound key/value context
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	clone := l.clone()
	if clone.fields == nil {
		clone.fields = make(map[string]interface{})
	}
	addPairs(clone.fields, keysAndValues)
	return clone
}

func (l *Logger) clone() *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{
		name:   l.name,
		level:  l.level,
		format: l.format,
		output: l.output,
		fields: fields,
	}
}

// Debug logs a debug message with key/value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(LevelDebug, msg, keysAndValues)
}

// Info logs an info message with key/value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(LevelInfo, msg, keysAndValues)
}

// Warn logs a warning message with key/value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(LevelWarn, msg, keysAndValues)
}

// Error logs an error message with key/value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(LevelError, msg, keysAndValues)
}

func (l *Logger) log(level Level, msg string, keysAndValues []interface{}) {
	if level < l.level {
		return
	}

	fields := make(map[string]interface{}, len(l.fields)+len(keysAndValues)/2)
	for k, v := range l.fields {
		fields[k] = v
	}
	addPairs(fields, keysAndValues)

	now := time.Now()

	var line string
	if l.format == FormatJSON {
		entry := map[string]interface{}{
			"time":      now.Format(time.RFC3339Nano),
			"level":     level.String(),
			"component": l.name,
			"message":   msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		data, err := json.Marshal(entry)
		if err != nil {
			data = []byte(fmt.Sprintf(`{"level":"error","message":"log marshal failed: %v"}`, err))
		}
		line = string(data) + "\n"
	} else {
		var b strings.Builder
		fmt.Fprintf(&b, "%s [%s] %s: %s", now.Format("2006-01-02 15:04:05.000"), strings.ToUpper(level.String()), l.name, msg)
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
		b.WriteString("\n")
		line = b.String()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	io.WriteString(l.output, line)
}

func addPairs(fields map[string]interface{}, keysAndValues []interface{}) {
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
}
