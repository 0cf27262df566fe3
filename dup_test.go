package dup

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/dup/circuit"
	"github.com/zalando/dup/codec"
	"github.com/zalando/dup/logging/loggingtest"
	"github.com/zalando/dup/metrics"
	"github.com/zalando/dup/metrics/metricstest"
	"github.com/zalando/dup/pool"
	"github.com/zalando/dup/processor"
	"github.com/zalando/dup/queue"
)

const (
	listenDelay   = 15 * time.Millisecond
	listenTimeout = 9 * listenDelay
)

type received struct {
	method string
	uri    string
	body   string
}

type destination struct {
	mu       sync.Mutex
	requests []received
	server   *httptest.Server
}

func newDestination(t *testing.T) *destination {
	d := &destination{}
	d.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		d.mu.Lock()
		defer d.mu.Unlock()
		d.requests = append(d.requests, received{method: r.Method, uri: r.URL.RequestURI(), body: string(b)})
	}))

	t.Cleanup(d.server.Close)
	return d
}

func (d *destination) hostPort() string {
	return strings.TrimPrefix(d.server.URL, "http://")
}

func (d *destination) received() []received {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]received(nil), d.requests...)
}

func testOptions(t *testing.T, dst *destination) Options {
	tl := loggingtest.New()
	t.Cleanup(tl.Close)

	return Options{
		Name:           "dup-test",
		Destination:    dst.hostPort(),
		Timeout:        1000,
		ReportInterval: -1,
		Log:            tl,
		Metrics:        &metricstest.MockMetrics{},
	}
}

func TestConfigureErrors(t *testing.T) {
	dst := newDestination(t)

	for _, tt := range []struct {
		name    string
		change  func(*Options)
		err     error
		message string
	}{{
		name:   "missing name",
		change: func(o *Options) { o.Name = "" },
		err:    ErrMissingName,
	}, {
		name:    "missing destination",
		change:  func(o *Options) { o.Destination = "" },
		err:     processor.ErrMissingDestination,
		message: "destination: ",
	}, {
		name:    "unknown codec",
		change:  func(o *Options) { o.URLCodec = "iis" },
		err:     codec.ErrUnknownCodec,
		message: "url codec: ",
	}, {
		name:    "invalid thread bounds",
		change:  func(o *Options) { o.MinWorkers, o.MaxWorkers = 5, 2 },
		err:     pool.ErrInvalidBounds,
		message: "threads: ",
	}, {
		name:    "invalid queue bounds",
		change:  func(o *Options) { o.MinQueue, o.MaxQueue = 10, 5 },
		err:     queue.ErrInvalidBounds,
		message: "queue: ",
	}, {
		name: "invalid pattern",
		change: func(o *Options) {
			o.Locations = []Location{{
				Path:    "/api",
				Filters: []Rule{{Field: "id", Pattern: "[0-9]+", Scope: processor.All}, {Field: "id", Pattern: "(", Scope: processor.All}},
			}}
		},
		err:     processor.ErrInvalidPattern,
		message: "location /api: filter 1: ",
	}, {
		name: "missing scope",
		change: func(o *Options) {
			o.Locations = []Location{{Path: "/api", RawSubstitutions: []Rule{{Pattern: "a", Replacement: "b"}}}}
		},
		err:     processor.ErrInvalidScope,
		message: "location /api: raw substitution 0: ",
	}, {
		name: "missing field",
		change: func(o *Options) {
			o.Locations = []Location{{Path: "/api", Substitutions: []Rule{{Pattern: "a", Replacement: "b", Scope: processor.Header}}}}
		},
		err:     ErrMissingField,
		message: "location /api: substitution 0: ",
	}} {
		t.Run(tt.name, func(t *testing.T) {
			o := testOptions(t, dst)
			tt.change(&o)

			d, err := New(o)
			assert.Nil(t, d)
			require.ErrorIs(t, err, tt.err)
			assert.True(t, strings.HasPrefix(err.Error(), tt.message), err.Error())
		})
	}
}

func TestConfigureAfterStart(t *testing.T) {
	o := testOptions(t, newDestination(t))
	d, err := New(o)
	require.NoError(t, err)

	require.NoError(t, d.Start())
	defer d.Stop()

	assert.ErrorIs(t, d.Start(), ErrAlreadyStarted)
	assert.ErrorIs(t, d.Configure(o), ErrAlreadyStarted)
}

func TestDuplicates(t *testing.T) {
	dst := newDestination(t)
	o := testOptions(t, dst)
	o.MinWorkers, o.MaxWorkers = 2, 4
	o.DestinationBreaker = circuit.BreakerSettings{Failures: 3}
	o.Locations = []Location{{
		Path:          "/api",
		Filters:       []Rule{{Field: "token", Pattern: "^[A-Z]+$", Scope: processor.Header}},
		Substitutions: []Rule{{Field: "token", Pattern: ".*", Replacement: "ANONYMOUS", Scope: processor.Header}},
	}, {
		Path:             "/api/form",
		Payload:          true,
		RawSubstitutions: []Rule{{Pattern: "secret", Replacement: "REDACTED", Scope: processor.Body}},
	}}

	d, err := New(o)
	require.NoError(t, err)
	require.NoError(t, d.Start())

	var served int
	h := d.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
		io.Copy(io.Discard, r.Body)
	}))

	for _, r := range []*http.Request{
		httptest.NewRequest("GET", "/api/items?TOKEN=ABC&id=1", nil),
		httptest.NewRequest("GET", "/api/items?TOKEN=abc&id=2", nil),
		httptest.NewRequest("GET", "/static/app.js", nil),
		httptest.NewRequest("POST", "/api/form/submit", strings.NewReader("user=joe&pass=secret")),
	} {
		h.ServeHTTP(httptest.NewRecorder(), r)
	}

	d.Stop()

	assert.Equal(t, 4, served)
	assert.ElementsMatch(t, []received{
		{method: "GET", uri: "/api/items?TOKEN=ANONYMOUS&id=1"},
		{method: "POST", uri: "/api/form/submit", body: "user=joe&pass=REDACTED"},
	}, dst.received())

	m := o.Metrics.(*metricstest.MockMetrics)
	captured, _ := m.Counter(metrics.KeyCaptured)
	filtered, _ := m.Counter(metrics.KeyFiltered)
	dispatched, _ := m.Counter(metrics.KeyDispatched)
	assert.Equal(t, int64(3), captured)
	assert.Equal(t, int64(1), filtered)
	assert.Equal(t, int64(2), dispatched)
}

func TestReportsStats(t *testing.T) {
	dst := newDestination(t)
	o := testOptions(t, dst)
	o.ReportInterval = 10 * time.Millisecond
	o.Locations = []Location{{Path: "/"}}

	d, err := New(o)
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()

	h := d.Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/foo", nil))

	tl := o.Log.(*loggingtest.TestLogger)
	assert.NoError(t, tl.WaitFor("dup-test #TmOut: 0, #DupReq: 1, #Queued: 0", time.Second))
}

func findAddress(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().String()
}

func waitConnGet(url string) (*http.Response, error) {
	to := time.After(listenTimeout)
	for {
		rsp, err := http.Get(url)
		if err == nil {
			return rsp, nil
		}

		select {
		case <-to:
			return nil, err
		default:
			time.Sleep(listenDelay)
		}
	}
}

func TestRun(t *testing.T) {
	dst := newDestination(t)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("backend response"))
	}))
	defer backend.Close()

	o := testOptions(t, dst)
	o.Metrics = nil
	o.Address = findAddress(t)
	o.SupportListener = findAddress(t)
	o.Backend = backend.URL
	o.MetricsFlavours = []string{"codahale", "prometheus"}
	o.Locations = []Location{{Path: "/api"}}

	sig := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- run(o, sig) }()

	rsp, err := waitConnGet("http://" + o.Address + "/api/items?id=42")
	require.NoError(t, err)
	b, err := io.ReadAll(rsp.Body)
	rsp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "backend response", string(b))

	assert.Eventually(t, func() bool {
		r := dst.received()
		return len(r) == 1 && r[0].uri == "/api/items?id=42"
	}, time.Second, listenDelay)

	rsp, err = waitConnGet("http://" + o.SupportListener + "/metrics")
	require.NoError(t, err)
	b, _ = io.ReadAll(rsp.Body)
	rsp.Body.Close()
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Contains(t, string(b), `dup_custom_total{key="dup.dispatched"} 1`)

	sig <- syscall.SIGTERM

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("failed to shut down")
	}
}

func TestRunFailsWithoutBackend(t *testing.T) {
	o := testOptions(t, newDestination(t))
	err := run(o, nil)
	assert.True(t, errors.Is(err, ErrMissingBackend))
}
