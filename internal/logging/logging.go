package logging

import (
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/sirupsen/logrus"
)

// New builds the process logger. Format "json" switches to the JSON
// formatter; anything else keeps logrus' text output.
func New(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// Discard returns an entry that drops everything. Used as the default
// when a component is built without a logger.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(nopWriter{})
	return logrus.NewEntry(logger)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// WatermillAdapter routes watermill's router and pub/sub logs through logrus.
type WatermillAdapter struct {
	Entry *logrus.Entry
}

func NewWatermill(entry *logrus.Entry) *WatermillAdapter {
	return &WatermillAdapter{Entry: entry}
}

func (a *WatermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.Entry.WithError(err).WithFields(logrus.Fields(fields)).Error(msg)
}

func (a *WatermillAdapter) Info(msg string, fields watermill.LogFields) {
	a.Entry.WithFields(logrus.Fields(fields)).Info(msg)
}

func (a *WatermillAdapter) Debug(msg string, fields watermill.LogFields) {
	a.Entry.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (a *WatermillAdapter) Trace(msg string, fields watermill.LogFields) {
	a.Entry.WithFields(logrus.Fields(fields)).Trace(msg)
}

func (a *WatermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillAdapter{Entry: a.Entry.WithFields(logrus.Fields(fields))}
}
