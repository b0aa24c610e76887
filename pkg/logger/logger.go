// Package logger provides structured logging for the funding layer.
//
// It wraps logrus so services share a single configuration surface and the
// entry-based WithField/WithError chaining style.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // text (default) or json
	Output     string // stdout (default), stderr, or file
	FilePrefix string // used when Output is file
}

// Logger is the shared application logger.
type Logger struct {
	*logrus.Logger
	name string
}

// New creates a logger from the provided configuration.
func New(cfg LoggingConfig) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	l.SetOutput(resolveOutput(cfg))
	return &Logger{Logger: l}
}

// NewDefault creates an info-level text logger tagged with a component name.
func NewDefault(name string) *Logger {
	l := New(LoggingConfig{Level: "info"})
	l.name = name
	return l
}

// Name returns the component name the logger was created with.
func (l *Logger) Name() string { return l.name }

// Named returns a child logger sharing the same output and level but tagged
// with a new component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{Logger: l.Logger, name: name}
}

// WithComponent returns an entry tagged with the logger's component name.
func (l *Logger) WithComponent() *logrus.Entry {
	if l.name == "" {
		return logrus.NewEntry(l.Logger)
	}
	return l.Logger.WithField("component", l.name)
}

func resolveOutput(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "funding_layer"
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().UTC().Format("20060102"))
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return os.Stdout
		}
		return f
	default:
		return os.Stdout
	}
}
