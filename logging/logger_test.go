package logging_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/zalando/dup/logging"
)

func TestLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	l := logrus.New()
	l.SetOutput(buf)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	log := logging.NewWithLogger(l, map[string]interface{}{"component": "test"})

	for _, tt := range []struct {
		name string
		log  func()
		want string
	}{
		{"error", func() { log.Error("error") }, `level=error msg=error component=test`},
		{"errorf", func() { log.Errorf("errorf: %s", "foo") }, `level=error msg="errorf: foo" component=test`},
		{"warn", func() { log.Warn("warn") }, `level=warning msg=warn component=test`},
		{"warnf", func() { log.Warnf("warnf: %s", "foo") }, `level=warning msg="warnf: foo" component=test`},
		{"info", func() { log.Info("info") }, `level=info msg=info component=test`},
		{"infof", func() { log.Infof("infof: %s", "foo") }, `level=info msg="infof: foo" component=test`},
		{"debug", func() { log.Debug("debug") }, `level=debug msg=debug component=test`},
		{"debugf", func() { log.Debugf("debugf: %s", "foo") }, `level=debug msg="debugf: foo" component=test`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log()
			if s := strings.TrimSpace(buf.String()); s != tt.want {
				t.Fatalf("want %q, got %q", tt.want, s)
			}
		})
	}
}

func TestDefaultLogUsesStandardLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	std := logrus.StandardLogger()
	out := std.Out
	std.SetOutput(buf)
	defer std.SetOutput(out)

	var log logging.Logger = &logging.DefaultLog{}
	log.Warn("to the standard logger")
	if !strings.Contains(buf.String(), "to the standard logger") {
		t.Error("failed to log to the standard logger")
	}
}
