// Package logger builds the application's logrus logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"devtool-desktop/internal/config"

	"github.com/sirupsen/logrus"
)

// New returns a logger configured from c and a cleanup func that closes
// the log file, if any.
func New(c config.LogConfig) (*logrus.Logger, func(), error) {
	l := logrus.New()

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	l.SetLevel(level)

	switch c.Format {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	cleanup := func() {}
	switch c.Output {
	case "stdout":
		l.SetOutput(os.Stdout)
	case "file":
		f, err := openLogFile(c.File)
		if err != nil {
			return nil, nil, err
		}
		l.SetOutput(f)
		cleanup = func() { _ = f.Close() }
	default:
		l.SetOutput(os.Stderr)
	}

	return l, cleanup, nil
}

// Component tags entries with the emitting component
func Component(l logrus.FieldLogger, name string) *logrus.Entry {
	return l.WithField("component", name)
}

// Discard returns a logger that writes nothing
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
