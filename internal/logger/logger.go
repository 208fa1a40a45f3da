package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the small structured-logging surface the ledger uses.
// Invariant violations are always logged through it before propagating.
type Logger interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string, err error)
	WithField(key string, value any) Logger
	WithFields(fields map[string]any) Logger
}

type logrusLogger struct {
	logger *logrus.Logger
	entry  *logrus.Entry
}

// New creates a logrus-backed Logger at the given level ("debug",
// "info", "warn", "error"; unknown levels fall back to info).
func New(level string) Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)
	return &logrusLogger{logger: l, entry: logrus.NewEntry(l)}
}

// NewNop creates a Logger that discards everything; used in tests.
func NewNop() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &logrusLogger{logger: l, entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Info(msg string) {
	l.entry.Info(msg)
}

func (l *logrusLogger) Warn(msg string) {
	l.entry.Warn(msg)
}

func (l *logrusLogger) Error(msg string, err error) {
	l.entry.WithError(err).Error(msg)
}

func (l *logrusLogger) WithField(key string, value any) Logger {
	return &logrusLogger{logger: l.logger, entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields map[string]any) Logger {
	return &logrusLogger{logger: l.logger, entry: l.entry.WithFields(logrus.Fields(fields))}
}
