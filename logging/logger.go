package logging

import (
	"github.com/sirupsen/logrus"
)

// Logger instances provide custom logging.
type Logger interface {

	// Log with level ERROR
	Error(...interface{})

	// Log formatted messages with level ERROR
	Errorf(string, ...interface{})

	// Log with level WARN
	Warn(...interface{})

	// Log formatted messages with level WARN
	Warnf(string, ...interface{})

	// Log with level INFO
	Info(...interface{})

	// Log formatted messages with level INFO
	Infof(string, ...interface{})

	// Log with level DEBUG
	Debug(...interface{})

	// Log formatted messages with level DEBUG
	Debugf(string, ...interface{})
}

// DefaultLog provides a default implementation of the Logger interface.
// The zero value logs to the standard logrus logger.
type DefaultLog struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// New creates a logger writing to the standard logrus logger with the
// given fields attached to every entry.
func New(fields map[string]interface{}) *DefaultLog {
	return &DefaultLog{fields: fields}
}

// NewWithLogger creates a logger writing to a custom logrus logger.
func NewWithLogger(l *logrus.Logger, fields map[string]interface{}) *DefaultLog {
	return &DefaultLog{logger: l, fields: fields}
}

func (dl *DefaultLog) entry() *logrus.Entry {
	l := dl.logger
	if l == nil {
		l = logrus.StandardLogger()
	}

	return l.WithFields(dl.fields)
}

func (dl *DefaultLog) Error(a ...interface{})            { dl.entry().Error(a...) }
func (dl *DefaultLog) Errorf(f string, a ...interface{}) { dl.entry().Errorf(f, a...) }
func (dl *DefaultLog) Warn(a ...interface{})             { dl.entry().Warn(a...) }
func (dl *DefaultLog) Warnf(f string, a ...interface{})  { dl.entry().Warnf(f, a...) }
func (dl *DefaultLog) Info(a ...interface{})             { dl.entry().Info(a...) }
func (dl *DefaultLog) Infof(f string, a ...interface{})  { dl.entry().Infof(f, a...) }
func (dl *DefaultLog) Debug(a ...interface{})            { dl.entry().Debug(a...) }
func (dl *DefaultLog) Debugf(f string, a ...interface{}) { dl.entry().Debugf(f, a...) }
