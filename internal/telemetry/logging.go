package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds the logging configuration.
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"` // "json" or "text"
	Output     string `json:"output"` // "stdout", "stderr", or file path
	Rotation   bool   `json:"rotation"`
	MaxSizeMB  int    `json:"max_size"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age"`
	Compress   bool   `json:"compress"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		Rotation:   false,
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	}
}

// Logger wraps logrus with context propagation helpers.
type Logger struct {
	*logrus.Logger
	config *LogConfig
}

// NewLogger creates a logger from config. File outputs rotate through
// lumberjack when Rotation is set.
func NewLogger(config *LogConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLogConfig()
	}

	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if config.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	var output io.Writer
	switch config.Output {
	case "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		if config.Rotation {
			output = &lumberjack.Logger{
				Filename:   config.Output,
				MaxSize:    config.MaxSizeMB,
				MaxBackups: config.MaxBackups,
				MaxAge:     config.MaxAgeDays,
				Compress:   config.Compress,
			}
		} else {
			file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file: %w", err)
			}
			output = file
		}
	}
	logger.SetOutput(output)

	return &Logger{Logger: logger, config: config}, nil
}

// ContextualLogger carries correlation and trace fields resolved from a
// request context.
type ContextualLogger struct {
	*Logger
	fields logrus.Fields
}

// WithContext resolves correlation/trace identifiers from ctx.
func (l *Logger) WithContext(ctx context.Context) *ContextualLogger {
	fields := logrus.Fields{}

	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		fields["correlation_id"] = correlationID
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		fields["trace_id"] = span.SpanContext().TraceID().String()
		fields["span_id"] = span.SpanContext().SpanID().String()
	}

	return &ContextualLogger{Logger: l, fields: fields}
}

// WithComponent tags entries with the subsystem emitting them
// (orchestrator, sender, translation, queue, ...).
func (l *Logger) WithComponent(name string) *ContextualLogger {
	return &ContextualLogger{Logger: l, fields: logrus.Fields{"component": name}}
}

// WithFields merges additional fields into the logger.
func (cl *ContextualLogger) WithFields(fields logrus.Fields) *ContextualLogger {
	combined := make(logrus.Fields, len(cl.fields)+len(fields))
	for k, v := range cl.fields {
		combined[k] = v
	}
	for k, v := range fields {
		combined[k] = v
	}
	return &ContextualLogger{Logger: cl.Logger, fields: combined}
}

// WithField adds a single field to the logger.
func (cl *ContextualLogger) WithField(key string, value interface{}) *ContextualLogger {
	return cl.WithFields(logrus.Fields{key: value})
}

// WithError adds the error field logrus-style.
func (cl *ContextualLogger) WithError(err error) *ContextualLogger {
	return cl.WithFields(logrus.Fields{logrus.ErrorKey: err})
}

func (cl *ContextualLogger) Debug(args ...interface{}) {
	cl.Logger.WithFields(cl.fields).Debug(args...)
}

func (cl *ContextualLogger) Debugf(format string, args ...interface{}) {
	cl.Logger.WithFields(cl.fields).Debugf(format, args...)
}

func (cl *ContextualLogger) Info(args ...interface{}) {
	cl.Logger.WithFields(cl.fields).Info(args...)
}

func (cl *ContextualLogger) Infof(format string, args ...interface{}) {
	cl.Logger.WithFields(cl.fields).Infof(format, args...)
}

func (cl *ContextualLogger) Warn(args ...interface{}) {
	cl.Logger.WithFields(cl.fields).Warn(args...)
}

func (cl *ContextualLogger) Warnf(format string, args ...interface{}) {
	cl.Logger.WithFields(cl.fields).Warnf(format, args...)
}

func (cl *ContextualLogger) Error(args ...interface{}) {
	cl.Logger.WithFields(cl.fields).Error(args...)
}

func (cl *ContextualLogger) Errorf(format string, args ...interface{}) {
	cl.Logger.WithFields(cl.fields).Errorf(format, args...)
}

type correlationIDKey struct{}

// WithCorrelationID stores a correlation ID in the context, minting one when
// empty.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

// GetCorrelationID retrieves the correlation ID from the context.
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return correlationID
	}
	return ""
}

var globalLogger *Logger

// InitGlobalLogger initializes the process-wide logger.
func InitGlobalLogger(config *LogConfig) error {
	logger, err := NewLogger(config)
	if err != nil {
		return err
	}
	globalLogger = logger
	return nil
}

// GetGlobalLogger returns the process-wide logger, creating a default one on
// first use.
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		logger, _ := NewLogger(DefaultLogConfig())
		globalLogger = logger
	}
	return globalLogger
}

// LogFromContext creates a contextual logger from ctx using the global
// logger.
func LogFromContext(ctx context.Context) *ContextualLogger {
	return GetGlobalLogger().WithContext(ctx)
}
