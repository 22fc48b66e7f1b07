package storage

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerLogger routes BadgerDB's printf-style logging into slog.
type BadgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*BadgerLogger)(nil)

// NewBadgerLogger wraps logger for use as BadgerOptions.Logger.
func NewBadgerLogger(logger *slog.Logger) *BadgerLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerLogger{logger: logger.With("component", "badger")}
}

func (l *BadgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(badgerMessage(format, args))
}

func (l *BadgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(badgerMessage(format, args))
}

func (l *BadgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(badgerMessage(format, args))
}

func (l *BadgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(badgerMessage(format, args))
}

// badger terminates most messages with a newline
func badgerMessage(format string, args []interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
