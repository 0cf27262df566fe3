package dup

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zalando/dup/capture"
	"github.com/zalando/dup/circuit"
	"github.com/zalando/dup/logging"
	"github.com/zalando/dup/metrics"
	dupnet "github.com/zalando/dup/net"
	"github.com/zalando/dup/pool"
	"github.com/zalando/dup/processor"
	"github.com/zalando/dup/queue"
)

const (
	DefaultName            = "dup"
	DefaultShutdownTimeout = 10 * time.Second
)

var (
	ErrMissingName    = errors.New("missing program name")
	ErrMissingField   = errors.New("missing field")
	ErrMissingBackend = errors.New("missing backend")
	ErrAlreadyStarted = errors.New("duplicator already started")
)

// Rule is a filter or a substitution of a location. Field rules apply
// to a named argument of the query string or of the body, raw rules to
// the whole query string or body.
type Rule struct {

	// Field is the name of the argument, case insensitive. Empty for
	// raw rules.
	Field string

	// Pattern is a regular expression with the RE2 syntax.
	Pattern string

	// Replacement of the matches of the pattern, only used by
	// substitutions. It can refer to the groups of the pattern,
	// e.g. $1.
	Replacement string

	// Scope tells whether the rule applies to the query string, to
	// the body, or to both. Required.
	Scope processor.Scope
}

// Location is a path prefix, where the requests are duplicated.
type Location struct {
	Path string

	// Payload enables duplicating the body of the requests.
	Payload bool

	Filters          []Rule
	RawFilters       []Rule
	Substitutions    []Rule
	RawSubstitutions []Rule
}

// Options to create and run the duplicator.
type Options struct {

	// Network address that the proxy should listen on.
	Address string

	// URL of the backend serving the original requests.
	Backend string

	// Network address used for exposing the /metrics endpoint. An
	// empty value disables the support listener.
	SupportListener string

	// Name of the program, used as the prefix of the stats report.
	// Required.
	Name string

	// Destination of the duplicates, in host[:port] format.
	// Required.
	Destination string

	// Timeout of sending a duplicate, in milliseconds. Zero means
	// no timeout.
	Timeout uint

	// URLCodec decoding and encoding the arguments, default or
	// apache. Defaults to default.
	URLCodec string

	// Bounds of the worker pool. When both are zero, the pool
	// defaults are used.
	MinWorkers int
	MaxWorkers int

	// Bounds of the queue. The pool grows while the backlog is
	// above MinQueue. MaxQueue is the capacity of the queue. When
	// both are zero, the queue defaults are used.
	MinQueue int
	MaxQueue int

	// CloseIdleConnsPeriod sets the period of closing the idle
	// connections to the destination. Not closing when zero.
	CloseIdleConnsPeriod time.Duration

	// DestinationBreaker protects the destination. Disabled by
	// default.
	DestinationBreaker circuit.BreakerSettings

	// Locations where the requests are duplicated.
	Locations []Location

	// ReportInterval is the period of the stats report. Defaults to
	// 1s. Negative disables the report.
	ReportInterval time.Duration

	// ShutdownTimeout is the time to wait for the open connections
	// of the proxy on shutdown. Defaults to 10s.
	ShutdownTimeout time.Duration

	// Output file for the application log. Default value: /dev/stderr.
	//
	// When /dev/stderr or /dev/stdout is passed in, it will be
	// resolved to os.Stderr or os.Stdout.
	//
	// Warning: passing an arbitrary file will try to open it append
	// on start and use it, or fail on start, but the current
	// implementation doesn't support any more proper handling of
	// temporary failures or log-rolling.
	ApplicationLogOutput string

	// Application log prefix. Default value: "[APP]".
	ApplicationLogPrefix string

	// Application log level. Applied only when
	// ApplicationLogLevelSet is true.
	ApplicationLogLevel    log.Level
	ApplicationLogLevelSet bool

	// Enables the JSON format of the application log.
	ApplicationLogJSONEnabled bool

	// Output file for the duplicate log. Default value:
	// /dev/stderr. The same rules apply as for the application log.
	DupLogOutput string

	// Disables the duplicate log.
	DupLogDisabled bool

	// Enables the JSON format of the duplicate log.
	DupLogJSONEnabled bool

	// MetricsFlavours sets the metrics backends, codahale,
	// prometheus, or both. Defaults to codahale.
	MetricsFlavours []string

	// Prefix of the metrics keys.
	MetricsPrefix string

	// Enables collecting the Go runtime metrics.
	EnableRuntimeMetrics bool

	// Use an exponentially decaying sample in the Coda Hale timers.
	MetricsUseExpDecaySample bool

	// Custom buckets of the Prometheus histograms.
	HistogramMetricBuckets []float64

	// Log overrides the application logger of the components.
	Log logging.Logger

	// Metrics overrides the metrics backend created from the
	// metrics options.
	Metrics metrics.Metrics
}

// Dup owns the queue, the processor and the worker pool of one
// duplicator.
type Dup struct {
	queue     *queue.Queue
	processor *processor.Processor
	pool      *pool.Pool
	transport *dupnet.Transport
	log       logging.Logger
	metrics   metrics.Metrics

	mu      sync.Mutex
	started bool
}

// New creates a duplicator configured by the options. It doesn't start
// the workers.
func New(o Options) (*Dup, error) {
	if o.Log == nil {
		o.Log = &logging.DefaultLog{}
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}

	q, err := queue.New(queue.DefaultMinSize, queue.DefaultMaxSize)
	if err != nil {
		return nil, err
	}

	client, transport := dupnet.NewClient(dupnet.Options{
		MaxIdleConnsPerHost:  max(o.MaxWorkers, pool.DefaultMaxWorkers),
		CloseIdleConnsPeriod: o.CloseIdleConnsPeriod,
	})

	p := processor.New(processor.Options{
		Client:  client,
		Log:     o.Log,
		Metrics: o.Metrics,
	})

	pl, err := pool.New(pool.Options{
		Queue:          q,
		Runner:         p,
		Log:            o.Log,
		Metrics:        o.Metrics,
		ReportInterval: o.ReportInterval,
	})
	if err != nil {
		transport.Close()
		return nil, err
	}

	pl.RegisterMetric("#TmOut", func() string { return strconv.FormatUint(p.TimeoutCount(), 10) })
	pl.RegisterMetric("#DupReq", func() string { return strconv.FormatUint(p.DuplicatedCount(), 10) })

	d := &Dup{
		queue:     q,
		processor: p,
		pool:      pl,
		transport: transport,
		log:       o.Log,
		metrics:   o.Metrics,
	}

	if err := d.Configure(o); err != nil {
		transport.Close()
		return nil, err
	}

	return d, nil
}

func addRules(rules []Rule, kind string, add func(Rule) error) error {
	for i, r := range rules {
		if r.Scope == 0 {
			return fmt.Errorf("%s %d: %w: missing scope", kind, i, processor.ErrInvalidScope)
		}

		if err := add(r); err != nil {
			return fmt.Errorf("%s %d: %w", kind, i, err)
		}
	}

	return nil
}

func fieldRule(r Rule) error {
	if r.Field == "" {
		return ErrMissingField
	}

	return nil
}

func (d *Dup) configureLocation(l Location) error {
	p := d.processor
	p.Activate(l.Path)
	p.SetPayload(l.Path, l.Payload)

	if err := addRules(l.Filters, "filter", func(r Rule) error {
		if err := fieldRule(r); err != nil {
			return err
		}

		return p.AddFilter(l.Path, r.Field, r.Pattern, r.Scope)
	}); err != nil {
		return err
	}

	if err := addRules(l.RawFilters, "raw filter", func(r Rule) error {
		return p.AddRawFilter(l.Path, r.Pattern, r.Scope)
	}); err != nil {
		return err
	}

	if err := addRules(l.Substitutions, "substitution", func(r Rule) error {
		if err := fieldRule(r); err != nil {
			return err
		}

		return p.AddSubstitution(l.Path, r.Field, r.Pattern, r.Replacement, r.Scope)
	}); err != nil {
		return err
	}

	return addRules(l.RawSubstitutions, "raw substitution", func(r Rule) error {
		return p.AddRawSubstitution(l.Path, r.Pattern, r.Replacement, r.Scope)
	})
}

// Configure applies the options to the duplicator, in a fixed order:
// the name, the destination, the timeout, the URL codec, the breaker,
// the bounds of the pool and of the queue, and finally the locations.
// It stops at the first failing directive. It needs to be called
// before Start.
func (d *Dup) Configure(o Options) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}

	if o.Name == "" {
		return ErrMissingName
	}

	d.pool.SetLabel(o.Name)

	if err := d.processor.SetDestination(o.Destination); err != nil {
		return fmt.Errorf("destination: %w", err)
	}

	d.processor.SetTimeout(o.Timeout)

	if o.URLCodec != "" {
		if err := d.processor.SetURLCodec(o.URLCodec); err != nil {
			return fmt.Errorf("url codec: %w", err)
		}
	}

	d.processor.SetBreaker(o.DestinationBreaker)

	if o.MinWorkers != 0 || o.MaxWorkers != 0 {
		if err := d.pool.SetBounds(o.MinWorkers, o.MaxWorkers); err != nil {
			return fmt.Errorf("threads: %w", err)
		}
	}

	if o.MinQueue != 0 || o.MaxQueue != 0 {
		if err := d.queue.SetBounds(o.MinQueue, o.MaxQueue); err != nil {
			return fmt.Errorf("queue: %w", err)
		}
	}

	for _, l := range o.Locations {
		if err := d.configureLocation(l); err != nil {
			return fmt.Errorf("location %s: %w", l.Path, err)
		}
	}

	return nil
}

// Handler returns the middleware capturing the requests of the
// configured locations, and passing them to next.
func (d *Dup) Handler(next http.Handler) http.Handler {
	return &capture.Handler{
		Next:      next,
		Processor: d.processor,
		Queue:     d.queue,
		Log:       d.log,
		Metrics:   d.metrics,
	}
}

// Start starts the workers.
func (d *Dup) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}

	if err := d.pool.Start(); err != nil {
		return err
	}

	d.started = true
	return nil
}

// Stop waits until the workers finish the queued requests and exit, and
// releases the connections to the destination. The requests captured
// after Stop may not be duplicated.
func (d *Dup) Stop() {
	d.pool.Stop()
	d.processor.Close()
	d.transport.Close()
}
