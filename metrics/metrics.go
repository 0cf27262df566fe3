/*
Package metrics implements collection of the duplicator metrics.

It supports two backends: the Go implementation of the Coda Hale metrics
library:

https://github.com/rcrowley/go-metrics

and Prometheus:

https://github.com/prometheus/client_golang

The collected metrics include the number of captured requests and of
dispatched duplicates, the timeouts and the errors of the dispatch
attempts, the duplicates dropped while the destination breaker was open,
the captured requests filtered out by the rules, the recovered worker
panics, the duration of the dispatch attempts, and the size of the
hand-off queue and of the worker pool.

For the keys used for the different metrics, please, see the Key*
constants.

The metrics are exposed on the support listener of the duplicator. When
both backends are enabled, the Accept header selects the format: the
value application/codahale+json returns the Coda Hale JSON document.
*/
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	KeyCaptured   = "dup.captured"
	KeyDispatched = "dup.dispatched"
	KeyTimeouts   = "dup.timeouts"
	KeyErrors     = "dup.errors"
	KeyDropped    = "dup.dropped"
	KeyFiltered   = "dup.filtered"
	KeyPanics     = "dup.panics"
	KeyDispatch   = "dup.dispatch"
	KeyQueueSize  = "dup.queue.size"
	KeyWorkers    = "dup.workers"
)

// Kind selects the metrics backend.
type Kind int

const (
	UnknownKind  Kind = 0
	CodaHaleKind Kind = 1 << iota
	PrometheusKind
	AllKind = CodaHaleKind | PrometheusKind
)

func (k Kind) String() string {
	switch k {
	case CodaHaleKind:
		return "codahale"
	case PrometheusKind:
		return "prometheus"
	case AllKind:
		return "all"
	default:
		return "unknown"
	}
}

// ParseMetricsKind parses the metrics flavour as used on the command
// line. The empty string means codahale.
func ParseMetricsKind(t string) (Kind, error) {
	switch strings.ToLower(t) {
	case "", "codahale":
		return CodaHaleKind, nil
	case "prometheus":
		return PrometheusKind, nil
	case "all":
		return AllKind, nil
	default:
		return UnknownKind, fmt.Errorf("invalid metrics flavour: %q", t)
	}
}

// Metrics is the set of measurements taken by the duplicator.
type Metrics interface {

	// MeasureSince records the time passed since start under key.
	MeasureSince(key string, start time.Time)

	// MeasureDispatch records the duration of a dispatch attempt for
	// a location and the status code received from the destination.
	// A zero code means a failed attempt.
	MeasureDispatch(location string, code int, start time.Time)

	IncCounter(key string)
	IncCounterBy(key string, value int64)
	UpdateGauge(key string, value float64)

	// RegisterHandler registers the handler exposing the metrics at
	// path.
	RegisterHandler(path string, mux *http.ServeMux)

	Close()
}

// Options for initializing metrics collection.
type Options struct {

	// the metrics exposing format (codahale, prometheus or all)
	Format Kind

	// Common prefix for the keys of the different
	// collected metrics.
	Prefix string

	// If set, Go runtime metrics are collected in
	// addition to the duplicator metrics.
	EnableRuntimeMetrics bool

	// If set, the Coda Hale timers use an exponentially
	// decaying sample instead of a uniform one.
	UseExpDecaySample bool

	// Buckets of the Prometheus histograms. When not set,
	// the Prometheus defaults are used.
	HistogramBuckets []float64

	// Custom Prometheus registry. When not set, a new one
	// is created.
	PrometheusRegistry *prometheus.Registry
}

var (
	Default Metrics = NewVoid()
	Void    Metrics = Default
)

// NewDefaultHandler returns a handler exposing the metrics of m at
// path, and the single metrics of the CodaHale backend under path.
func NewDefaultHandler(m Metrics, path string) http.Handler {
	mux := http.NewServeMux()
	m.RegisterHandler(path, mux)
	if !strings.HasSuffix(path, "/") {
		m.RegisterHandler(path+"/", mux)
	}

	return mux
}

// NewMetrics creates the backend selected by the options.
func NewMetrics(o Options) Metrics {
	switch o.Format {
	case AllKind:
		return NewAll(o)
	case PrometheusKind:
		return NewPrometheus(o)
	default:
		return NewCodaHale(o)
	}
}
