package logging

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	dateFormat = "02/Jan/2006:15:04:05 -0700"

	// format:
	// [date] "method uri" status duration_ms location id
	dupLogFormat = `[%s] "%s %s" %d %d %s %s` + "\n"
)

type dupLogFormatter struct {
	format string
}

// DupEntry describes one attempt to send a duplicate.
type DupEntry struct {

	// The outgoing duplicate request.
	Request *http.Request

	// The status code received from the destination. Zero when the
	// attempt failed.
	StatusCode int

	// The time spent on the attempt.
	Duration time.Duration

	// The time the attempt was started.
	RequestTime time.Time

	// The location that the captured request matched.
	Location string

	// The value of the X-Dup-Id header.
	ID string
}

var dupLog *logrus.Logger

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

func (f *dupLogFormatter) Format(e *logrus.Entry) ([]byte, error) {
	keys := []string{
		"timestamp", "method", "uri", "status",
		"duration", "location", "id"}

	values := make([]interface{}, len(keys))
	for i, key := range keys {
		values[i] = e.Data[key]
	}

	return []byte(fmt.Sprintf(f.format, values...)), nil
}

// LogDup logs a duplicate attempt. Does nothing unless the duplicate
// log was enabled with Init.
func LogDup(entry *DupEntry) {
	if dupLog == nil || entry == nil {
		return
	}

	ts := entry.RequestTime.Format(dateFormat)

	method := ""
	uri := ""
	if entry.Request != nil {
		method = entry.Request.Method
		uri = entry.Request.URL.RequestURI()
	}

	dupLog.WithFields(logrus.Fields{
		"timestamp": ts,
		"method":    method,
		"uri":       uri,
		"status":    entry.StatusCode,
		"duration":  int64(entry.Duration / time.Millisecond),
		"location":  orDash(entry.Location),
		"id":        orDash(entry.ID),
	}).Infoln()
}
