/*
Package capture provides the http middleware feeding the hand-off queue
with the requests received at the edge.

The handler finds the longest configured location that is a prefix of
the cleaned request path, so dot segments cannot move a request in or
out of a location. The captured copy keeps the path as received, in its
escaped form. Requests outside every location are only passed to the
next handler. For the others, the next handler serves the request
first, and the captured copy is queued afterwards, so a full queue never
delays the response of the client. The body is captured only for
locations with payload capturing enabled.
*/
package capture

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/dimfeld/httppath"

	"github.com/zalando/dup/logging"
	"github.com/zalando/dup/metrics"
	"github.com/zalando/dup/queue"
	"github.com/zalando/dup/request"
)

// Locations tells which location a request path belongs to, and whether
// the body is captured there. Implemented by *processor.Processor.
type Locations interface {
	Lookup(path string) (string, bool)
	Payload(location string) bool
}

// Handler captures the requests of the configured locations.
type Handler struct {

	// Next serves the original request. Required.
	Next http.Handler

	// Processor knows the configured locations. Required.
	Processor Locations

	// Queue receives the captured requests. Required.
	Queue *queue.Queue

	// Log defaults to logging.DefaultLog.
	Log logging.Logger

	// Metrics defaults to metrics.Default.
	Metrics metrics.Metrics
}

func (h *Handler) log() logging.Logger {
	if h.Log == nil {
		return &logging.DefaultLog{}
	}

	return h.Log
}

func (h *Handler) metrics() metrics.Metrics {
	if h.Metrics == nil {
		return metrics.Default
	}

	return h.Metrics
}

// readBody reads the whole body and replaces it with a reader over the
// same bytes. When reading fails, the next handler receives the bytes
// read so far and then the same error.
func readBody(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", nil
	}

	b, err := io.ReadAll(r.Body)
	if err != nil {
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(b), errReader{err}), r.Body}

		return "", err
	}

	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(b))
	return string(b), nil
}

type errReader struct{ err error }

func (er errReader) Read([]byte) (int, error) { return 0, er.err }

func (h *Handler) capture(location string, r *http.Request) (*request.Info, error) {
	var body *string
	if h.Processor.Payload(location) {
		b, err := readBody(r)
		if err != nil {
			return nil, err
		}

		body = &b
	}

	info := request.New(location, r.URL.EscapedPath(), r.URL.RawQuery, body)
	info.Method = r.Method
	return info, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	location, ok := h.Processor.Lookup(httppath.Clean(r.URL.Path))
	if !ok {
		h.Next.ServeHTTP(w, r)
		return
	}

	info, err := h.capture(location, r)
	if err != nil {
		h.log().Warnf("failed to capture the body of %s: %v", r.URL.Path, err)
	}

	h.Next.ServeHTTP(w, r)
	if info == nil {
		return
	}

	if err := http.NewResponseController(w).Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.log().Debugf("failed to flush the response of %s: %v", r.URL.Path, err)
	}

	h.metrics().IncCounter(metrics.KeyCaptured)
	h.Queue.Push(info)
}
