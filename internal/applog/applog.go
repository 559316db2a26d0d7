// Package applog wraps logrus with the controller's logging conventions:
// level and format are driven by configuration or the VOLTERIA_LOG_LEVEL /
// VOLTERIA_LOG_FORMAT environment variables.
package applog

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger so call sites can be swapped for a different
// backend without touching every call site's signature.
type Logger struct {
	*logrus.Logger
	component string
}

// Config controls level and format selection. Output is not consulted:
// New always writes to stdout.
type Config struct {
	Level     string
	Format    string
	Output    string
	Component string
}

// New builds a Logger from explicit configuration.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, component: cfg.Component}
}

// NewFromEnv builds a Logger from VOLTERIA_LOG_LEVEL / VOLTERIA_LOG_FORMAT,
// defaulting to info/text when unset.
func NewFromEnv(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("VOLTERIA_LOG_LEVEL"),
		Format:    os.Getenv("VOLTERIA_LOG_FORMAT"),
		Component: component,
	})
}

// WithComponent returns a child logger entry tagged with the component name,
// used consistently across log lines emitted by one service.
func (l *Logger) WithComponent() *logrus.Entry {
	return l.Logger.WithField("component", l.component)
}

// WithField proxies to the underlying logrus entry, tagging the component.
func (l *Logger) WithField(key string, value any) *logrus.Entry {
	return l.WithComponent().WithField(key, value)
}

// WithFields proxies to the underlying logrus entry, tagging the component.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.WithComponent().WithFields(fields)
}

// WithError proxies to the underlying logrus entry, tagging the component.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.WithComponent().WithError(err)
}
