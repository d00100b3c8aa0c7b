// Package logging provides structured logging for the control plane.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type used for values carried on a request context that
// the logger knows how to surface as structured fields.
type ContextKey string

const (
	CallIDKey    ContextKey = "call_id"
	OwnerKey     ContextKey = "owner"
	SandboxIDKey ContextKey = "sandbox_id"
)

// Logger wraps logrus.Logger with the control plane's component tag.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a Logger for the given component name.
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv reads LOG_LEVEL/LOG_FORMAT, defaulting to info/json.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext pulls call_id/owner/sandbox_id out of ctx, when present.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if v := ctx.Value(CallIDKey); v != nil {
		entry = entry.WithField("call_id", v)
	}
	if v := ctx.Value(OwnerKey); v != nil {
		entry = entry.WithField("owner", v)
	}
	if v := ctx.Value(SandboxIDKey); v != nil {
		entry = entry.WithField("sandbox_id", v)
	}
	return entry
}

// WithSandbox tags an entry with a sandbox id without needing a context.
func (l *Logger) WithSandbox(sandboxID string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component":  l.component,
		"sandbox_id": sandboxID,
	})
}

func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"error":     err.Error(),
	})
}
