package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Logger struct {
	*zerolog.Logger
	component string
	config    Config
	file      *fileSink
	quiet     zerolog.Logger
}

// LogLevel represents our custom log levels
type LogLevel string

const (
	LevelDebug   LogLevel = "DEBUG"
	LevelInfo    LogLevel = "INFO"
	LevelSuccess LogLevel = "SUCCESS"
	LevelWarn    LogLevel = "WARN"
	LevelError   LogLevel = "ERROR"
	LevelFatal   LogLevel = "FATAL"
)

var (
	// Global log levels for different environments
	logLevel = map[string]zerolog.Level{
		"development": zerolog.DebugLevel,
		"staging":     zerolog.InfoLevel,
		"production":  zerolog.InfoLevel,
	}
)

// Config represents logger configuration
type Config struct {
	IsProduction bool
	AppEnv       string
	// Out receives console output. Defaults to stderr: worker processes
	// reserve stdout for the worker protocol.
	Out io.Writer
	// File, when set, receives every event as JSON in addition to the console.
	File string
}

// fileSink is shared by a logger and every logger derived from it with Named.
type fileSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

func (s *fileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Write(p)
}

// New creates a new logger instance for a specific component
func New(component string) *Logger {
	return NewWithConfig(component, Config{
		IsProduction: os.Getenv("APP_ENV") == "production",
		AppEnv:       os.Getenv("APP_ENV"),
	})
}

// NewWithConfig creates a new logger instance with custom configuration.
// A log file that cannot be opened is reported on the console and skipped.
func NewWithConfig(component string, config Config) *Logger {
	var sink *fileSink
	if config.File != "" {
		if err := os.MkdirAll(filepath.Dir(config.File), 0o755); err == nil {
			f, err := os.OpenFile(config.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err == nil {
				sink = &fileSink{f: f, path: config.File}
				fmt.Fprintf(f, "log created at time: %s\n\n", time.Now().Format(time.RFC3339))
			}
		}
	}
	l := build(component, config, sink)
	if config.File != "" && sink == nil {
		l.LogWarnf("could not open log file %s, logging to console only", config.File)
	}
	return l
}

// FilePath names a per-invocation log file inside dir.
func FilePath(dir string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("Log %s.log", now.Format("20060102_150405")))
}

func build(component string, config Config, sink *fileSink) *Logger {
	// Configure zerolog
	zerolog.TimeFieldFormat = time.RFC3339

	out := config.Out
	if out == nil {
		out = os.Stderr
	}

	// Create console writer with color and custom format
	output := zerolog.ConsoleWriter{
		Out:           out,
		FieldsExclude: []string{"component"},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("[%s] %s", component, i)
		},
		FormatLevel: func(i interface{}) string {
			if level, ok := i.(string); ok {
				// Always use colors for console output
				switch level {
				case "debug":
					return "\033[36m[DEBUG]\033[0m" // Cyan
				case "info":
					return "\033[34m[INFO]\033[0m" // Blue
				case "success":
					return "\033[32m[SUCCESS]\033[0m" // Green
				case "warn":
					return "\033[33m[WARN]\033[0m" // Yellow
				case "error":
					return "\033[31m[ERROR]\033[0m" // Red
				case "fatal":
					return "\033[35m[FATAL]\033[0m" // Purple
				default:
					return fmt.Sprintf("[%s]", level)
				}
			}
			return "???"
		},
	}

	// Remove timestamp in production
	if config.IsProduction {
		output.TimeFormat = ""
	} else {
		output.TimeFormat = "2006-01-02 15:04:05"
	}

	var w io.Writer = output
	quiet := zerolog.Nop()
	if sink != nil {
		w = zerolog.MultiLevelWriter(output, sink)
		quiet = zerolog.New(sink).With().Timestamp().Str("component", component).Logger()
	}

	// Create logger
	var logger zerolog.Logger
	if config.IsProduction {
		// No timestamp in production
		logger = zerolog.New(w).Level(getLogLevel(config.AppEnv)).
			With().Str("component", component).Logger()
	} else {
		// Include timestamp in non-production
		logger = zerolog.New(w).
			Level(getLogLevel(config.AppEnv)).
			With().
			Timestamp().
			Str("component", component).
			Logger()
	}

	return &Logger{
		Logger:    &logger,
		component: component,
		config:    config,
		file:      sink,
		quiet:     quiet,
	}
}

// Named derives a logger for another component that shares the same outputs.
func (l *Logger) Named(component string) *Logger {
	return build(component, l.config, l.file)
}

// Component returns the component label.
func (l *Logger) Component() string { return l.component }

// FilePath returns the log file path, or "" when logging to the console only.
func (l *Logger) FilePath() string {
	if l.file == nil {
		return ""
	}
	return l.file.path
}

// Close flushes and closes the log file. Derived loggers share the file, so
// only the root logger should be closed.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	l.file.mu.Lock()
	defer l.file.mu.Unlock()
	return l.file.f.Close()
}

// getLogLevel returns the appropriate log level based on environment
func getLogLevel(env string) zerolog.Level {
	if level, exists := logLevel[env]; exists {
		return level
	}
	return zerolog.DebugLevel
}

// Legacy methods for backward compatibility
func (l *Logger) Debug() *zerolog.Event   { return l.Logger.Debug() }
func (l *Logger) Info() *zerolog.Event    { return l.Logger.Info() }
func (l *Logger) Success() *zerolog.Event { return l.Logger.Info().Str("level", "success") }
func (l *Logger) Warn() *zerolog.Event    { return l.Logger.Warn() }
func (l *Logger) Error() *zerolog.Event   { return l.Logger.Error() }

// Quiet writes to the log file only. Without a log file the event is dropped.
func (l *Logger) Quiet() *zerolog.Event { return l.quiet.Log() }

// Simple logging methods
func (l *Logger) LogDebug(msg string) {
	l.Debug().Msg(msg)
}

func (l *Logger) LogInfo(msg string) {
	l.Info().Msg(msg)
}

func (l *Logger) LogSuccess(msg string) {
	l.Success().Msg(msg)
}

func (l *Logger) LogWarn(msg string) {
	l.Warn().Msg(msg)
}

func (l *Logger) LogError(msg string, err error) {
	if err != nil {
		l.Error().Err(err).Msg(msg)
		return
	}
	l.Error().Msg(msg)
}

func (l *Logger) LogFatal(msg string, err error) {
	if err != nil {
		l.Fatal().Err(err).Msg(msg)
		return
	}
	l.Fatal().Msg(msg)
}

// Formatted logging methods with variable arguments
func (l *Logger) LogDebugf(format string, v ...interface{}) {
	l.Debug().Msgf(format, v...)
}

func (l *Logger) LogInfof(format string, v ...interface{}) {
	l.Info().Msgf(format, v...)
}

func (l *Logger) LogSuccessf(format string, v ...interface{}) {
	l.Success().Msgf(format, v...)
}

func (l *Logger) LogWarnf(format string, v ...interface{}) {
	l.Warn().Msgf(format, v...)
}

func (l *Logger) LogErrorf(format string, v ...interface{}) {
	l.Error().Msgf(format, v...)
}

// LogQuietf writes a formatted message to the log file only.
func (l *Logger) LogQuietf(format string, v ...interface{}) {
	l.Quiet().Msgf(format, v...)
}

// WithFields adds fields to the log event
func (l *Logger) WithFields(fields map[string]interface{}) *zerolog.Event {
	event := l.Info()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	return event
}

// ErrorWithFields adds fields to the log event
func (l *Logger) ErrorWithFields(fields map[string]interface{}) *zerolog.Event {
	event := l.Error()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	return event
}

// StripANSI removes ANSI color codes from a string
func StripANSI(str string) string {
	ansiPattern := regexp.MustCompile("\x1B\\[[0-9;]*[a-zA-Z]")
	return ansiPattern.ReplaceAllString(str, "")
}
