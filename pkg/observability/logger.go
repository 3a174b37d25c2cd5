package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// LogFormat selects the logrus formatter
type LogFormat string

const (
	TextFormat LogFormat = "text"
	JSONFormat LogFormat = "json"
)

// ParseLogLevel converts a level name to a logrus level, defaulting to info
func ParseLogLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a logrus logger writing to output (stderr when nil)
func NewLogger(level logrus.Level, format LogFormat, output io.Writer) *logrus.Logger {
	if output == nil {
		output = os.Stderr
	}

	logger := logrus.New()
	logger.SetOutput(output)
	logger.SetLevel(level)

	switch format {
	case JSONFormat:
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger
}

// NopLogger returns an entry that discards everything. Components use it when
// no logger was configured.
func NopLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

// WithTraceContext adds the trace and span IDs of the active span to entry
func WithTraceContext(ctx context.Context, entry *logrus.Entry) *logrus.Entry {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return entry
	}

	spanCtx := span.SpanContext()
	return entry.WithFields(logrus.Fields{
		"trace_id": spanCtx.TraceID().String(),
		"span_id":  spanCtx.SpanID().String(),
	})
}

// PluginFields returns the standard fields identifying a plugin and hook
func PluginFields(plugin, hook string) logrus.Fields {
	fields := logrus.Fields{"plugin": plugin}
	if hook != "" {
		fields["hook"] = hook
	}
	return fields
}

// FormatLevel returns the upper-case name of a logrus level
func FormatLevel(level logrus.Level) string {
	return strings.ToUpper(fmt.Sprint(level))
}
