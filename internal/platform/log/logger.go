package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// Options controls how the application logger is built.
type Options struct {
	Level string
	// File, when set, receives a rotated copy of every log line in addition to stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger constructs a logrus logger configured with JSON output and the provided options.
func NewLogger(opts Options) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.SetReportCaller(false)
	logger.SetLevel(logrus.InfoLevel)

	if file := strings.TrimSpace(opts.File); file != "" {
		logger.SetOutput(io.MultiWriter(os.Stdout, newRotatingWriter(file, opts)))
	}

	if opts.Level == "" {
		return logger, nil
	}

	parsedLevel, err := logrus.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		return nil, eris.Wrapf(err, "invalid log level: %s", opts.Level)
	}

	logger.SetLevel(parsedLevel)
	return logger, nil
}

func newRotatingWriter(file string, opts Options) *lumberjack.Logger {
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 5
	}
	maxAge := opts.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 7
	}

	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   true,
	}
}

// WithFields returns a child logger entry with the supplied fields attached.
func WithFields(logger *logrus.Logger, fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

// Silent returns a logger that discards everything. Useful for tests and tooling.
func Silent() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
