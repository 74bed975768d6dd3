package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Log wraps a logrus entry so call sites can attach structured fields
// without depending on logrus directly.
type Log struct {
	*logrus.Entry
}

// Fields are structured log fields.
type Fields map[string]interface{}

// New builds a logger writing to stdout at the given level
// ("debug", "info", "warn", "error").
func New(level string) (*Log, error) {
	log := logrus.New()

	log.SetOutput(os.Stdout)
	log.Formatter = &logrus.TextFormatter{
		TimestampFormat:  "2006-01-02 15:04:05.0000",
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logger: bad level %q: %w", level, err)
	}
	log.SetLevel(lvl)
	// Each entry goes to stdout in a single Write call, so the logrus
	// mutex is unnecessary.
	log.SetNoLock()

	return &Log{Entry: logrus.NewEntry(log)}, nil
}

// With returns a copy of the logger with the fields attached to every entry.
func (l *Log) With(fields Fields) *Log {
	return &Log{Entry: l.WithFields(logrus.Fields(fields))}
}

// Level reports the configured level as a string.
func (l *Log) Level() string {
	return l.Logger.Level.String()
}
