package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"showctl/internal/config"
)

type Log struct {
	*logrus.Entry
}

// NewLogger builds the process logger from the configuration.
func NewLogger(cfg config.LogConf) (*Log, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg config.LogConf, out io.Writer) (*Log, error) {
	log := logrus.New()

	log.SetOutput(out)

	log.Formatter = &logrus.TextFormatter{
		TimestampFormat:  "2006-01-02 15:04:05.0000",
		DisableColors:    false,
		ForceColors:      true,
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logger. Error in settings (level: %s): %w", cfg.Level, err)
	}
	log.SetLevel(level)
	log.Debug("set level: ", level)

	return &Log{Entry: log.WithFields(nil)}, nil
}

// Discard returns a logger that writes nowhere. Used by tests and by
// components constructed without a logger.
func Discard() *Log {
	l, _ := newLogger(config.LogConf{Level: "panic"}, io.Discard)
	return l
}

// With will add the fields to the formatted log entry.
func (l *Log) With(fields Fields) *Log {
	return &Log{Entry: l.WithFields(logrus.Fields(fields))}
}

// Module is shorthand for With(Fields{"module": name}).
func (l *Log) Module(name string) *Log {
	return l.With(Fields{"module": name})
}

func (l *Log) GetLevel() string {
	return l.Logger.Level.String()
}

// Fields are a representation of formatted log fields.
type Fields map[string]interface{}

// Logger is the logging surface handed to components.
type Logger interface {
	// GetLevel returns the currently configured level.
	GetLevel() string
	With(fields Fields) *Log
	Module(name string) *Log
}
