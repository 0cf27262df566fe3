package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type prefixFormatter struct {
	prefix    string
	formatter logrus.Formatter
}

// Init options for logging.
type Options struct {

	// Prefix for application log entries. Primarily used to be
	// able to select between duplicate log and application log
	// entries.
	ApplicationLogPrefix string

	// Output for the application log entries, when nil,
	// os.Stderr is used.
	ApplicationLogOutput io.Writer

	// Minimum level of the application log entries. The zero value
	// is logrus.PanicLevel, so the level is only changed when
	// ApplicationLogLevelSet is true.
	ApplicationLogLevel logrus.Level

	// Tells whether ApplicationLogLevel needs to be applied.
	ApplicationLogLevelSet bool

	// When set, the application log is written in JSON format.
	ApplicationLogJSONEnabled bool

	// Output for the duplicate log entries, when nil, os.Stderr is
	// used.
	DupLogOutput io.Writer

	// When set, the duplicate log is printed.
	DupLogEnabled bool

	// When set, the duplicate log is written in JSON format.
	DupLogJSONEnabled bool
}

func (f *prefixFormatter) Format(e *logrus.Entry) ([]byte, error) {
	b, err := f.formatter.Format(e)
	if err != nil {
		return nil, err
	}

	return append([]byte(f.prefix), b...), nil
}

func initApplicationLog(o Options) {
	var formatter logrus.Formatter = &logrus.TextFormatter{}
	if o.ApplicationLogJSONEnabled {
		formatter = &logrus.JSONFormatter{}
	}

	if o.ApplicationLogPrefix != "" {
		formatter = &prefixFormatter{o.ApplicationLogPrefix, formatter}
	}

	logrus.SetFormatter(formatter)

	if o.ApplicationLogOutput != nil {
		logrus.SetOutput(o.ApplicationLogOutput)
	}

	if o.ApplicationLogLevelSet {
		logrus.SetLevel(o.ApplicationLogLevel)
	}
}

func initDupLog(output io.Writer, jsonEnabled bool) {
	l := logrus.New()
	if jsonEnabled {
		l.Formatter = &logrus.JSONFormatter{TimestampFormat: dateFormat, DisableTimestamp: true}
	} else {
		l.Formatter = &dupLogFormatter{dupLogFormat}
	}

	l.Out = output
	l.Level = logrus.InfoLevel
	dupLog = l
}

// Init initializes logging.
func Init(o Options) {
	initApplicationLog(o)

	if !o.DupLogEnabled {
		dupLog = nil
		return
	}

	if o.DupLogOutput == nil {
		o.DupLogOutput = os.Stderr
	}

	initDupLog(o.DupLogOutput, o.DupLogJSONEnabled)
}
