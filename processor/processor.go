/*
Package processor implements the rules deciding which captured requests
are duplicated, the rewriting of the duplicates, and sending them to the
destination.

The rules are configured per location, the path prefix that a captured
request matched. A location without filters duplicates every request.
With filters, a request is duplicated when any of them matches:

  - a field filter with HEADER scope matching the decoded value of its
    field in the query string,
  - a field filter with BODY scope matching the decoded value of its
    field in the body parsed as form arguments,
  - a raw filter with HEADER scope matching the query string,
  - a raw filter with BODY scope matching the body.

Substitutions of the same field are applied in definition order, each on
the output of the previous one. The replacement may refer to the groups
of the pattern, e.g. $1.

The configuration methods are not synchronized. They need to be called
before the workers start, the rules are only read afterwards.
*/
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zalando/dup/circuit"
	"github.com/zalando/dup/codec"
	"github.com/zalando/dup/logging"
	"github.com/zalando/dup/metrics"
	dupnet "github.com/zalando/dup/net"
	"github.com/zalando/dup/queue"
	"github.com/zalando/dup/request"
)

// Dispatch errors are logged as warnings the first warnFirst times, and
// then once per warnInterval. The rest of them are logged at debug level.
const (
	warnFirst    = 3
	warnInterval = time.Second
)

var (
	ErrInvalidPattern     = errors.New("invalid pattern")
	ErrInvalidScope       = errors.New("invalid scope")
	ErrMissingDestination = errors.New("missing destination")
)

// Options for creating a processor.
type Options struct {

	// Client used to send the duplicates. When not set, a client
	// is created with the transport of the net package, and
	// closed by Close.
	Client *http.Client

	// Log receives the dispatch errors and the recovered panics.
	// Defaults to logging.DefaultLog.
	Log logging.Logger

	// Metrics defaults to metrics.Default.
	Metrics metrics.Metrics
}

// Processor holds the rules of the locations and the destination.
type Processor struct {
	commands    map[string]*Commands
	destination string
	timeout     time.Duration
	codec       codec.Codec
	breaker     *circuit.Breaker

	client    *http.Client
	transport *dupnet.Transport
	log       logging.Logger
	metrics   metrics.Metrics
	sometimes rate.Sometimes

	duplicated atomic.Uint64
	timeouts   atomic.Uint64
}

// New creates a processor with the default url codec and no timeout.
func New(o Options) *Processor {
	p := &Processor{
		commands:  make(map[string]*Commands),
		codec:     codec.Default,
		client:    o.Client,
		log:       o.Log,
		metrics:   o.Metrics,
		sometimes: rate.Sometimes{First: warnFirst, Interval: warnInterval},
	}

	if p.client == nil {
		p.client, p.transport = dupnet.NewClient(dupnet.Options{})
	}

	if p.log == nil {
		p.log = &logging.DefaultLog{}
	}

	if p.metrics == nil {
		p.metrics = metrics.Default
	}

	return p
}

func (p *Processor) location(l string) *Commands {
	c, ok := p.commands[l]
	if !ok {
		c = newCommands()
		p.commands[l] = c
	}

	return c
}

func (p *Processor) addRule(location string, r Rule, pattern string) error {
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalidPattern, r.Kind, pattern, err)
	}

	r.Pattern = rx
	r.Field = strings.ToUpper(r.Field)
	p.location(location).add(r)
	return nil
}

// Activate enables duplication for a location.
func (p *Processor) Activate(location string) {
	p.location(location)
}

// SetPayload enables or disables capturing the body of the requests for
// a location. It also activates the location.
func (p *Processor) SetPayload(location string, payload bool) {
	p.location(location).Payload = payload
}

// AddFilter adds a filter matching the value of a field.
func (p *Processor) AddFilter(location, field, pattern string, scope Scope) error {
	return p.addRule(location, Rule{Kind: Filter, Field: field, Scope: scope}, pattern)
}

// AddRawFilter adds a filter matching the whole query string or body.
func (p *Processor) AddRawFilter(location, pattern string, scope Scope) error {
	return p.addRule(location, Rule{Kind: Filter, Scope: scope}, pattern)
}

// AddSubstitution adds a substitution rewriting the value of a field.
func (p *Processor) AddSubstitution(location, field, pattern, replacement string, scope Scope) error {
	return p.addRule(location, Rule{Kind: Substitution, Field: field, Replacement: replacement, Scope: scope}, pattern)
}

// AddRawSubstitution adds a substitution rewriting the whole query string
// or body.
func (p *Processor) AddRawSubstitution(location, pattern, replacement string, scope Scope) error {
	return p.addRule(location, Rule{Kind: Substitution, Replacement: replacement, Scope: scope}, pattern)
}

// SetDestination sets the host[:port] receiving the duplicates.
func (p *Processor) SetDestination(hostPort string) error {
	if hostPort == "" {
		return ErrMissingDestination
	}

	p.destination = hostPort
	return nil
}

// SetTimeout sets the timeout of a dispatch attempt in milliseconds.
// Zero means no timeout.
func (p *Processor) SetTimeout(ms uint) {
	p.timeout = time.Duration(ms) * time.Millisecond
}

// SetURLCodec selects the codec decoding and encoding the arguments.
func (p *Processor) SetURLCodec(name string) error {
	c, err := codec.Get(name)
	if err != nil {
		return err
	}

	p.codec = c
	return nil
}

// SetBreaker enables the breaker in front of the destination.
func (p *Processor) SetBreaker(s circuit.BreakerSettings) {
	p.breaker = circuit.NewBreaker("dup-destination", s)
	if p.breaker != nil {
		p.log.Infof("destination breaker: %s", p.breaker.Settings())
	}
}

// Commands returns the rules of a location.
func (p *Processor) Commands(location string) (*Commands, bool) {
	c, ok := p.commands[location]
	return c, ok
}

// Lookup returns the longest activated location that is a prefix of the
// path.
func (p *Processor) Lookup(path string) (string, bool) {
	var (
		found string
		ok    bool
	)

	for l := range p.commands {
		if strings.HasPrefix(path, l) && (!ok || len(l) > len(found)) {
			found, ok = l, true
		}
	}

	return found, ok
}

// Payload tells whether the body of the requests is captured for a
// location.
func (p *Processor) Payload(location string) bool {
	c, ok := p.commands[location]
	return ok && c.Payload
}

// Process applies the rules of the location to the request. It returns
// false when the request is not selected. Selected requests are
// rewritten by the substitutions. A location without rules selects
// every request.
func (p *Processor) Process(location string, r *request.Info) bool {
	c, ok := p.commands[location]
	if !ok {
		return true
	}

	args := parseArgs(r.Args, p.codec)

	var bodyArgs []arg
	if r.HasBody() && c.fieldScopes().Includes(Body) {
		bodyArgs = parseArgs(*r.Body, p.codec)
	}

	if !c.argsMatchFilter(r, args, bodyArgs) {
		return false
	}

	c.substitute(r, args, bodyArgs, p.codec)
	return true
}

// target builds the address of the duplicate. The path of the request
// is escaped, so escaped '?', '#' and '/' stay part of the path.
func (p *Processor) target(r *request.Info) (*url.URL, error) {
	path, err := url.PathUnescape(r.Path)
	if err != nil {
		return nil, err
	}

	return &url.URL{
		Scheme:   "http",
		Host:     p.destination,
		Path:     path,
		RawPath:  r.Path,
		RawQuery: r.Args,
	}, nil
}

func method(r *request.Info) string {
	switch {
	case r.Method != "":
		return r.Method
	case r.HasBody():
		return "POST"
	default:
		return "GET"
	}
}

func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// Dispatch sends the request to the destination. It counts every
// attempt, and the attempts failing by the timeout. Errors are only
// logged and counted.
func (p *Processor) Dispatch(ctx context.Context, r *request.Info) {
	p.duplicated.Add(1)
	p.metrics.IncCounter(metrics.KeyDispatched)

	done, ok := p.breaker.Allow()
	if !ok {
		p.metrics.IncCounter(metrics.KeyDropped)
		p.log.Debugf("destination breaker open, dropping duplicate of %s", r.Path)
		return
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var body io.Reader
	if r.HasBody() {
		body = strings.NewReader(*r.Body)
	}

	var req *http.Request
	u, err := p.target(r)
	if err == nil {
		req, err = http.NewRequestWithContext(ctx, method(r), u.String(), body)
	}

	if err != nil {
		done(true)
		p.metrics.IncCounter(metrics.KeyErrors)
		p.warnf("failed to create duplicate of %s: %v", r.Path, err)
		return
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	id := uuid.New().String()
	req.Header.Set(dupnet.DupIDHeader, id)

	start := time.Now()
	status := 0
	rsp, err := p.client.Do(req)
	if err == nil {
		status = rsp.StatusCode
		_, err = io.Copy(io.Discard, rsp.Body)
		rsp.Body.Close()
	}

	p.metrics.MeasureDispatch(r.Location, status, start)
	logging.LogDup(&logging.DupEntry{
		Request:     req,
		StatusCode:  status,
		Duration:    time.Since(start),
		RequestTime: start,
		Location:    r.Location,
		ID:          id,
	})

	switch {
	case err == nil:
		done(status < http.StatusInternalServerError)
	case isTimeout(ctx, err):
		done(false)
		p.timeouts.Add(1)
		p.metrics.IncCounter(metrics.KeyTimeouts)
		p.log.Debugf("duplicate of %s timed out after %v", r.Path, p.timeout)
	default:
		done(false)
		p.metrics.IncCounter(metrics.KeyErrors)
		p.warnf("failed to duplicate %s: %v", r.Path, err)
	}
}

func (p *Processor) warnf(format string, args ...interface{}) {
	var logged bool
	p.sometimes.Do(func() {
		logged = true
		p.log.Warnf(format, args...)
	})

	if !logged {
		p.log.Debugf(format, args...)
	}
}

func (p *Processor) handle(r *request.Info) {
	defer func() {
		if err := recover(); err != nil {
			p.metrics.IncCounter(metrics.KeyPanics)
			p.log.Errorf("panic while duplicating %s: %v", r.Path, err)
		}
	}()

	if !p.Process(r.Location, r) {
		p.metrics.IncCounter(metrics.KeyFiltered)
		return
	}

	p.Dispatch(context.Background(), r)
}

// Run pops the requests from the queue and duplicates them, until it
// pops a request.Stop.
func (p *Processor) Run(q *queue.Queue) bool {
	for {
		switch it := q.Pop().(type) {
		case request.Stop:
			return true
		case *request.Info:
			p.handle(it)
		}
	}
}

// TimeoutCount returns the number of attempts that failed by the
// timeout since the previous call.
func (p *Processor) TimeoutCount() uint64 {
	return p.timeouts.Swap(0)
}

// DuplicatedCount returns the number of attempts since the previous
// call.
func (p *Processor) DuplicatedCount() uint64 {
	return p.duplicated.Swap(0)
}

// Close releases the idle connections of the default client.
func (p *Processor) Close() {
	if p.transport != nil {
		p.transport.Close()
	}
}
