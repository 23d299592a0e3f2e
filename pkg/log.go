package pkg

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Component identifies a subsystem for log filtering.
type Component string

// Driver component identifiers.
const (
	ComponentTIS      Component = "tis"
	ComponentHAL      Component = "hal"
	ComponentLocality Component = "locality"
	ComponentTransfer Component = "transfer"
	ComponentSession  Component = "session"
	ComponentTCTI     Component = "tcti"
	ComponentCLI      Component = "cli"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Console text format (default)
	LogFormatJSON                  // JSON format
)

// EnvLogLevel names the environment variable read by [ConfigureFromEnv].
const EnvLogLevel = "SOFTTPM_LOG_LEVEL"

var (
	// DefaultLogger is the default logger used by the driver.
	DefaultLogger zerolog.Logger

	// logLevel controls the minimum log level.
	logLevel = zerolog.WarnLevel

	// logMutex protects logger configuration.
	logMutex sync.RWMutex
)

func init() {
	DefaultLogger = NewLogger(os.Stderr)
}

// SetLogLevel sets the minimum log level for all driver logging.
func SetLogLevel(level zerolog.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logLevel = level
}

// GetLogLevel returns the current minimum log level.
func GetLogLevel() zerolog.Level {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return logLevel
}

// SetLogger replaces the default logger with a custom logger.
func SetLogger(logger zerolog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

// SetLogFormat configures the default logger to use the specified format.
// The logger writes to os.Stderr.
func SetLogFormat(format LogFormat) {
	logMutex.Lock()
	defer logMutex.Unlock()
	switch format {
	case LogFormatJSON:
		DefaultLogger = NewJSONLogger(os.Stderr)
	default:
		DefaultLogger = NewLogger(os.Stderr)
	}
}

// ParseLogLevel maps a level name to a zerolog level. The second result is
// false when raw is empty or unrecognized.
func ParseLogLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.WarnLevel, false
	}
}

// ConfigureFromEnv applies the level named by $SOFTTPM_LOG_LEVEL, if any.
func ConfigureFromEnv() {
	if level, ok := ParseLogLevel(os.Getenv(EnvLogLevel)); ok {
		SetLogLevel(level)
	}
}

// NewLogger creates a new console logger writing to the given writer.
func NewLogger(w io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Logger()
}

// NewJSONLogger creates a new JSON logger writing to the given writer.
func NewJSONLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

func current() zerolog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return DefaultLogger.Level(logLevel)
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	logger := current()
	logger.Debug().Str("component", string(component)).Fields(args).Msg(msg)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	logger := current()
	logger.Info().Str("component", string(component)).Fields(args).Msg(msg)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	logger := current()
	logger.Warn().Str("component", string(component)).Fields(args).Msg(msg)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	logger := current()
	logger.Error().Str("component", string(component)).Fields(args).Msg(msg)
}
