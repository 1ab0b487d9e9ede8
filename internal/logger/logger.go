// Package logger wraps logrus behind a small interface so session
// components can log without depending on how output is configured.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/playback/internal/config"
	"github.com/zsiec/playback/pkg/version"
)

// Logger is the structured logger every package takes.
type Logger interface {
	WithFields(fields map[string]interface{}) Logger
	WithField(key string, value interface{}) Logger
	WithError(err error) Logger
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Log(level logrus.Level, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Fields is a type alias for logrus.Fields for convenience
type Fields = logrus.Fields

// LogrusAdapter satisfies Logger with a logrus entry. The level methods
// come straight from the embedded entry; only the chaining methods are
// rewrapped so they keep returning a Logger.
type LogrusAdapter struct {
	*logrus.Entry
}

// NewLogrusAdapter creates a new LogrusAdapter
func NewLogrusAdapter(entry *logrus.Entry) Logger {
	return &LogrusAdapter{Entry: entry}
}

// FromLogrus wraps a configured logrus logger.
func FromLogrus(l *logrus.Logger) Logger {
	return NewLogrusAdapter(logrus.NewEntry(l))
}

func (a *LogrusAdapter) WithFields(fields map[string]interface{}) Logger {
	return NewLogrusAdapter(a.Entry.WithFields(fields))
}

func (a *LogrusAdapter) WithField(key string, value interface{}) Logger {
	return NewLogrusAdapter(a.Entry.WithField(key, value))
}

func (a *LogrusAdapter) WithError(err error) Logger {
	return NewLogrusAdapter(a.Entry.WithError(err))
}

const (
	jsonTimestamp = "2006-01-02T15:04:05.000Z07:00"
	textTimestamp = "2006-01-02 15:04:05.000"
)

// New builds the process logger from the logging section of the config.
// Anything other than stdout or stderr is treated as a file path and
// rotated with lumberjack.
func New(cfg *config.LoggingConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	out, err := openOutput(cfg)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(formatterFor(cfg.Format))
	l.SetOutput(out)
	return l, nil
}

func formatterFor(format string) logrus.Formatter {
	if format == "text" {
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: textTimestamp,
		}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: jsonTimestamp,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	}
}

func openOutput(cfg *config.LoggingConfig) (io.Writer, error) {
	switch cfg.Output {
	case "stdout":
		return os.Stdout, nil
	case "", "stderr":
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}, nil
}

// Service returns the root Logger with the service and build fields that
// every line from the process carries.
func Service(l *logrus.Logger) Logger {
	return NewLogrusAdapter(l.WithFields(Fields{
		"service": "playback",
		"version": version.GetInfo().Short(),
	}))
}

// WithComponent tags l with the component that owns it. A nil l yields
// a NullLogger.
func WithComponent(l Logger, component string) Logger {
	return OrNull(l).WithField("component", component)
}

// WithSession tags l with a playback session id.
func WithSession(l Logger, sessionID string) Logger {
	return OrNull(l).WithField("session_id", sessionID)
}
