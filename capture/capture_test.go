package capture

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/dup/logging/loggingtest"
	"github.com/zalando/dup/metrics"
	"github.com/zalando/dup/metrics/metricstest"
	"github.com/zalando/dup/processor"
	"github.com/zalando/dup/queue"
	"github.com/zalando/dup/request"
)

type backend struct {
	queue  *queue.Queue
	calls  int
	body   string
	queued int
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.calls++
	b.queued = b.queue.Len()
	if r.Body != nil {
		p, _ := io.ReadAll(r.Body)
		b.body = string(p)
	}

	w.WriteHeader(http.StatusTeapot)
	w.Write([]byte("original response"))
}

func newHandler(t *testing.T) (*Handler, *backend, *metricstest.MockMetrics) {
	q, err := queue.New(0, 10)
	require.NoError(t, err)

	p := processor.New(processor.Options{})
	t.Cleanup(p.Close)
	p.Activate("/")
	p.Activate("/api")
	p.SetPayload("/api/form", true)

	tl := loggingtest.New()
	t.Cleanup(tl.Close)

	m := &metricstest.MockMetrics{}
	b := &backend{queue: q}
	return &Handler{Next: b, Processor: p, Queue: q, Log: tl, Metrics: m}, b, m
}

func TestCapture(t *testing.T) {
	for _, tt := range []struct {
		name     string
		method   string
		url      string
		body     string
		expected *request.Info
	}{{
		name:     "root location",
		method:   "GET",
		url:      "/index.html?lang=en",
		expected: &request.Info{Location: "/", Method: "GET", Path: "/index.html", Args: "lang=en"},
	}, {
		name:     "longest location wins",
		method:   "GET",
		url:      "/api/items?TOKEN=abc&id=1",
		expected: &request.Info{Location: "/api", Method: "GET", Path: "/api/items", Args: "TOKEN=abc&id=1"},
	}, {
		name:     "body not captured without payload",
		method:   "POST",
		url:      "/api/items",
		body:     "secret=42",
		expected: &request.Info{Location: "/api", Method: "POST", Path: "/api/items"},
	}, {
		name:   "body captured with payload",
		method: "POST",
		url:    "/api/form/submit?x=1",
		body:   "secret=42&name=joe",
		expected: func() *request.Info {
			b := "secret=42&name=joe"
			return &request.Info{Location: "/api/form", Method: "POST", Path: "/api/form/submit", Args: "x=1", Body: &b}
		}(),
	}, {
		name:     "escaped path",
		method:   "GET",
		url:      "/api/a%3Fb%23c%20d?x=1",
		expected: &request.Info{Location: "/api", Method: "GET", Path: "/api/a%3Fb%23c%20d", Args: "x=1"},
	}, {
		name:   "empty body captured with payload",
		method: "GET",
		url:    "/api/form",
		expected: func() *request.Info {
			var b string
			return &request.Info{Location: "/api/form", Method: "GET", Path: "/api/form", Body: &b}
		}(),
	}} {
		t.Run(tt.name, func(t *testing.T) {
			h, b, m := newHandler(t)

			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(tt.method, tt.url, body))

			assert.Equal(t, http.StatusTeapot, w.Code)
			assert.Equal(t, "original response", w.Body.String())
			assert.True(t, w.Flushed)

			assert.Equal(t, 1, b.calls)
			assert.Equal(t, tt.body, b.body)
			assert.Equal(t, 0, b.queued, "queued before serving the original request")

			require.Equal(t, 1, h.Queue.Len())
			assert.Equal(t, tt.expected, h.Queue.Pop())

			c, _ := m.Counter(metrics.KeyCaptured)
			assert.Equal(t, int64(1), c)
		})
	}
}

func TestPassThroughOutsideLocations(t *testing.T) {
	q, err := queue.New(0, 10)
	require.NoError(t, err)

	p := processor.New(processor.Options{})
	defer p.Close()
	p.Activate("/api")

	b := &backend{queue: q}
	h := &Handler{Next: b, Processor: p, Queue: q, Metrics: &metricstest.MockMetrics{}}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/static/app.js", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 0, q.Len())
}

func TestLookupCleanPath(t *testing.T) {
	q, err := queue.New(0, 10)
	require.NoError(t, err)

	p := processor.New(processor.Options{})
	defer p.Close()
	p.Activate("/api")

	b := &backend{queue: q}
	h := &Handler{Next: b, Processor: p, Queue: q, Metrics: &metricstest.MockMetrics{}}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/../static/app.js", nil))
	assert.Equal(t, 0, q.Len())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/static/../api//items", nil))
	require.Equal(t, 1, q.Len())

	info, ok := q.Pop().(*request.Info)
	require.True(t, ok)
	assert.Equal(t, "/api", info.Location)
	assert.Equal(t, "/static/../api//items", info.Path)
	assert.Equal(t, 2, b.calls)
}

func TestDuplicateKeepsEscapedPath(t *testing.T) {
	var (
		mu   sync.Mutex
		uris []string
	)

	dst := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		uris = append(uris, r.RequestURI)
		mu.Unlock()
	}))
	defer dst.Close()

	q, err := queue.New(0, 10)
	require.NoError(t, err)

	p := processor.New(processor.Options{Metrics: &metricstest.MockMetrics{}})
	defer p.Close()
	p.Activate("/api")
	require.NoError(t, p.SetDestination(strings.TrimPrefix(dst.URL, "http://")))

	h := &Handler{Next: &backend{queue: q}, Processor: p, Queue: q, Metrics: &metricstest.MockMetrics{}}

	urls := []string{"/api/a%3Fb?x=1", "/api/a%23b?x=1", "/api/a%20b"}
	for _, u := range urls {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", u, nil))
	}

	require.Equal(t, len(urls), q.Len())
	for range urls {
		info, ok := q.Pop().(*request.Info)
		require.True(t, ok)
		require.True(t, p.Process(info.Location, info))
		p.Dispatch(context.Background(), info)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, urls, uris)
}

func TestBodyReadFailure(t *testing.T) {
	h, b, m := newHandler(t)

	readErr := errors.New("connection reset")
	r := httptest.NewRequest("POST", "/api/form", io.MultiReader(strings.NewReader("sec"), iotest.ErrReader(readErr)))

	var nextErr error
	h.Next = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.calls++
		p, err := io.ReadAll(r.Body)
		b.body, nextErr = string(p), err
	})

	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, 1, b.calls)
	assert.Equal(t, "sec", b.body)
	assert.ErrorIs(t, nextErr, readErr)
	assert.Equal(t, 0, h.Queue.Len())

	_, ok := m.Counter(metrics.KeyCaptured)
	assert.False(t, ok)

	tl := h.Log.(*loggingtest.TestLogger)
	assert.Equal(t, 1, tl.Count("failed to capture the body of /api/form"))
}
