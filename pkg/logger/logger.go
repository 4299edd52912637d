package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type contextKey string

const LoggerKey contextKey = "logger"

type Logger struct {
	*zerolog.Logger
}

// New creates a new logger instance with service context
func New(service string) *Logger {
	return NewWithWriter(service, os.Stdout)
}

// NewWithWriter creates a logger that writes JSON lines to w
func NewWithWriter(service string, w io.Writer) *Logger {
	hostname, _ := os.Hostname()

	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "@timestamp" // ELK compatible

	logger := zerolog.New(w).
		With().
		Timestamp().
		Str("service", service).
		Str("hostname", hostname).
		Str("environment", getEnv("ENVIRONMENT", "development")).
		Str("version", getEnv("SERVICE_VERSION", "unknown")).
		Logger()

	return &Logger{&logger}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	logger := zerolog.Nop()
	return &Logger{&logger}
}

// WithContext returns a logger from context or creates a new one
func WithContext(ctx context.Context, service string) *Logger {
	if logger, ok := ctx.Value(LoggerKey).(*Logger); ok {
		return logger
	}
	return New(service)
}

// ToContext adds logger to context
func (l *Logger) ToContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, LoggerKey, l)
}

// WithRequestID adds request/correlation ID for tracing
func (l *Logger) WithRequestID(requestID string) *Logger {
	logger := l.Logger.With().Str("request_id", requestID).Logger()
	return &Logger{&logger}
}

// WithJob adds job context for accessibility jobs
func (l *Logger) WithJob(targetApplicationID string) *Logger {
	logger := l.Logger.With().
		Str("job_target", targetApplicationID).
		Str("job_type", "accessibility").
		Logger()
	return &Logger{&logger}
}

// WithEvent adds inbound event context
func (l *Logger) WithEvent(eventID string, applicationID string) *Logger {
	logger := l.Logger.With().
		Str("event_id", eventID).
		Str("application_id", applicationID).
		Logger()
	return &Logger{&logger}
}

// WithError adds error context
func (l *Logger) WithError(err error) *Logger {
	logger := l.Logger.With().Err(err).Logger()
	return &Logger{&logger}
}

// LogLifecycle logs a service state transition
func (l *Logger) LogLifecycle(callback string, from, to string, jobCount int) {
	l.Info().
		Str("action", "lifecycle").
		Str("callback", callback).
		Str("from", from).
		Str("to", to).
		Int("job_count", jobCount).
		Bool("transitioned", from != to).
		Msg("Service lifecycle callback")
}

// LogDispatch logs the outcome of routing one inbound event
func (l *Logger) LogDispatch(channel string, applicationID string, delivered int, failures int, duration time.Duration) {
	l.Debug().
		Str("action", "dispatch").
		Str("channel", channel).
		Str("application_id", applicationID).
		Int("delivered", delivered).
		Int("error_count", failures).
		Bool("has_errors", failures > 0).
		Dur("duration", duration).
		Msg("Event dispatched")
}

// LogJobFailure logs a job handler or lifecycle hook that returned an error
func (l *Logger) LogJobFailure(targetApplicationID string, hook string, err error) {
	l.Error().
		Err(err).
		Str("action", "job_failed").
		Str("job_target", targetApplicationID).
		Str("hook", hook).
		Msg("Job hook failed")
}

// LogDatabaseOperation logs database operations
func (l *Logger) LogDatabaseOperation(operation string, table string, affectedRows int, duration time.Duration, err error) {
	event := l.Debug()
	if err != nil {
		event = l.Error().Err(err)
	}

	event.
		Str("action", "db_operation").
		Str("operation", operation).
		Str("table", table).
		Int("affected_rows", affectedRows).
		Dur("duration", duration).
		Bool("success", err == nil).
		Msg("Database operation")
}

// SetupLogger configures global log level based on environment
func SetupLogger() {
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Pretty logging for development
	if getEnv("ENVIRONMENT", "development") == "development" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		logger := zerolog.New(output).With().Timestamp().Logger()
		zerolog.DefaultContextLogger = &logger
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
