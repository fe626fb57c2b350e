// Package telemetry provides sharebox's structured logging and Prometheus
// metrics, generalized from the teacher's pkg/utils structured logger and
// internal/metrics collector.
package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the logging level.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the human-readable level name.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a case-insensitive level name.
func ParseLevel(level string) (Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", level)
	}
}

// Format selects the log output encoding.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// RotationConfig configures the lumberjack-backed log file rotation.
type RotationConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// entry is a single structured log record.
type entry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// Logger is a leveled, component-aware structured logger. A log file
// configured via RotationConfig rotates through lumberjack rather than a
// hand-rolled rotator, matching the way GoogleCloudPlatform-gcsfuse wires
// its mount daemon's log file.
type Logger struct {
	mu            sync.RWMutex
	level         Level
	output        io.Writer
	format        Format
	contextFields map[string]interface{}
	includeCaller bool
	rotator       *lumberjack.Logger
}

// Config configures a new Logger.
type Config struct {
	Level         Level
	Output        io.Writer
	Format        Format
	IncludeCaller bool
	Rotation      *RotationConfig
}

// DefaultConfig returns sane defaults: INFO level, text format, stdout.
func DefaultConfig() *Config {
	return &Config{
		Level:         INFO,
		Output:        os.Stdout,
		Format:        FormatText,
		IncludeCaller: true,
	}
}

// New creates a Logger from config, wiring a lumberjack rotator when
// Rotation is set.
func New(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	l := &Logger{
		level:         config.Level,
		output:        config.Output,
		format:        config.Format,
		contextFields: make(map[string]interface{}),
		includeCaller: config.IncludeCaller,
	}
	if l.output == nil {
		l.output = os.Stdout
	}

	if config.Rotation != nil {
		l.rotator = &lumberjack.Logger{
			Filename:   config.Rotation.Filename,
			MaxSize:    config.Rotation.MaxSizeMB,
			MaxBackups: config.Rotation.MaxBackups,
			MaxAge:     config.Rotation.MaxAgeDays,
			Compress:   config.Rotation.Compress,
		}
		l.output = l.rotator
	}

	return l
}

// WithField returns a derived logger carrying an additional context field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fields := make(map[string]interface{}, len(l.contextFields)+1)
	for k, v := range l.contextFields {
		fields[k] = v
	}
	fields[key] = value

	return &Logger{
		level:         l.level,
		output:        l.output,
		format:        l.format,
		contextFields: fields,
		includeCaller: l.includeCaller,
		rotator:       l.rotator,
	}
}

// WithComponent returns a derived logger tagged with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithField("component", component)
}

// SetLevel changes the minimum level the logger emits.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) isEnabled(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func (l *Logger) log(level Level, message string, fields map[string]interface{}) {
	if !l.isEnabled(level) {
		return
	}

	e := entry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   message,
		Fields:    make(map[string]interface{}),
	}

	l.mu.RLock()
	for k, v := range l.contextFields {
		e.Fields[k] = v
	}
	l.mu.RUnlock()
	for k, v := range fields {
		e.Fields[k] = v
	}

	if l.includeCaller {
		if _, file, line, ok := runtime.Caller(3); ok {
			parts := strings.Split(file, "/")
			e.Caller = fmt.Sprintf("%s:%d", parts[len(parts)-1], line)
		}
	}

	var out string
	if l.format == FormatJSON {
		if b, err := json.Marshal(e); err == nil {
			out = string(b) + "\n"
		} else {
			out = l.formatText(e)
		}
	} else {
		out = l.formatText(e)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.output.Write([]byte(out))
}

func (l *Logger) formatText(e entry) string {
	var sb strings.Builder
	sb.WriteString(e.Timestamp.Format("2006-01-02 15:04:05.000"))
	sb.WriteString(" [")
	sb.WriteString(e.Level)
	sb.WriteString("] ")
	if e.Caller != "" {
		sb.WriteString("[")
		sb.WriteString(e.Caller)
		sb.WriteString("] ")
	}
	sb.WriteString(e.Message)
	if len(e.Fields) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Fields {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(fmt.Sprintf("%v", v))
		}
		sb.WriteString("}")
	}
	sb.WriteString("\n")
	return sb.String()
}

// Debug logs a debug message with optional fields.
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.logWithFields(DEBUG, message, fields...)
}

// Info logs an info message with optional fields.
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.logWithFields(INFO, message, fields...)
}

// Warn logs a warning message with optional fields.
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.logWithFields(WARN, message, fields...)
}

// Error logs an error message with optional fields.
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	l.logWithFields(ERROR, message, fields...)
}

func (l *Logger) logWithFields(level Level, message string, fieldMaps ...map[string]interface{}) {
	var fields map[string]interface{}
	if len(fieldMaps) > 0 {
		fields = fieldMaps[0]
	}
	l.log(level, message, fields)
}

// Close flushes and closes the underlying rotator, if any.
func (l *Logger) Close() error {
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}
