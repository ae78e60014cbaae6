package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// newLogger returns a logger writing to the log file when the terminal is
// owned by the TUI, and to stderr otherwise. The returned closer is never nil.
func newLogger(cfg LogConfig, toFile bool) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if !toFile {
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return logger, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	logger.SetOutput(f)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return logger, f, nil
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
