/*
Package pool implements the dynamically sized set of workers consuming
the hand-off queue.

The pool keeps the number of workers between a minimum and a maximum. A
manager goroutine checks the queue periodically: it starts one more
worker when the backlog is above the minimum size of the queue, and it
retires one worker when the queue is empty. Workers are retired, and
stopped on shutdown, by pushing one request.Stop into the queue for each
of them, so a worker always finishes the request it is working on.

The manager also logs the registered statistics periodically, in a
single line:

	<label> #TmOut: 0, #DupReq: 42, #Queued: 3, #Workers: 5
*/
package pool

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zalando/dup/logging"
	"github.com/zalando/dup/metrics"
	"github.com/zalando/dup/queue"
	"github.com/zalando/dup/request"
)

const (
	DefaultMinWorkers     = 1
	DefaultMaxWorkers     = 10
	DefaultTickInterval   = 100 * time.Millisecond
	DefaultReportInterval = time.Second
)

var (
	ErrInvalidBounds  = errors.New("invalid worker bounds")
	ErrAlreadyStarted = errors.New("pool already started")
	ErrMissingQueue   = errors.New("missing queue")
	ErrMissingRunner  = errors.New("missing runner")
)

// Runner is the body of a worker. Run needs to pop from the queue until
// it pops a request.Stop, and then return true. A Run returning false
// did not consume a stop request. It ends the worker too, and the
// manager replaces it when the pool is below the minimum.
type Runner interface {
	Run(q *queue.Queue) (stopped bool)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(*queue.Queue) bool

func (f RunnerFunc) Run(q *queue.Queue) bool { return f(q) }

// Options for creating a pool.
type Options struct {

	// MinWorkers is the number of workers kept even when the queue
	// is empty.
	MinWorkers int

	// MaxWorkers is the number of workers the pool can grow to.
	MaxWorkers int

	// Label is the prefix of the periodic report line.
	Label string

	// Queue consumed by the workers. Required.
	Queue *queue.Queue

	// Runner executed by the workers. Required.
	Runner Runner

	// Log receives the report lines and the recovered panics.
	// Defaults to logging.DefaultLog.
	Log logging.Logger

	// Metrics receives the size of the queue and the number of
	// workers. Defaults to metrics.Default.
	Metrics metrics.Metrics

	// TickInterval is the period of adjusting the number of
	// workers. Defaults to 100ms.
	TickInterval time.Duration

	// ReportInterval is the period of the report line. Defaults
	// to 1s. Negative disables the report.
	ReportInterval time.Duration
}

type stat struct {
	name  string
	value func() string
}

// Pool runs the workers.
type Pool struct {
	mu          sync.Mutex
	minWorkers  int
	maxWorkers  int
	label       string
	stats       []stat
	live        int
	stopsQueued int
	started     bool
	stopped     bool

	queue   *queue.Queue
	runner  Runner
	log     logging.Logger
	metrics metrics.Metrics
	tick    time.Duration
	report  time.Duration

	quit        chan struct{}
	managerDone chan struct{}
	workers     sync.WaitGroup
}

func checkBounds(minWorkers, maxWorkers int) error {
	if minWorkers < 0 || maxWorkers < 1 || maxWorkers < minWorkers {
		return fmt.Errorf("%w: min %d, max %d", ErrInvalidBounds, minWorkers, maxWorkers)
	}

	return nil
}

// New creates a pool. When both MinWorkers and MaxWorkers are zero, the
// defaults are used.
func New(o Options) (*Pool, error) {
	if o.MinWorkers == 0 && o.MaxWorkers == 0 {
		o.MinWorkers, o.MaxWorkers = DefaultMinWorkers, DefaultMaxWorkers
	}

	if err := checkBounds(o.MinWorkers, o.MaxWorkers); err != nil {
		return nil, err
	}

	if o.Queue == nil {
		return nil, ErrMissingQueue
	}

	if o.Runner == nil {
		return nil, ErrMissingRunner
	}

	if o.Log == nil {
		o.Log = &logging.DefaultLog{}
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}

	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}

	if o.ReportInterval == 0 {
		o.ReportInterval = DefaultReportInterval
	}

	return &Pool{
		minWorkers:  o.MinWorkers,
		maxWorkers:  o.MaxWorkers,
		label:       o.Label,
		queue:       o.Queue,
		runner:      o.Runner,
		log:         o.Log,
		metrics:     o.Metrics,
		tick:        o.TickInterval,
		report:      o.ReportInterval,
		quit:        make(chan struct{}),
		managerDone: make(chan struct{}),
	}, nil
}

// SetBounds changes the minimum and maximum number of workers. When the
// pool is running, the manager adjusts the number of workers one by one.
func (p *Pool) SetBounds(minWorkers, maxWorkers int) error {
	if err := checkBounds(minWorkers, maxWorkers); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.minWorkers, p.maxWorkers = minWorkers, maxWorkers
	return nil
}

// SetLabel changes the prefix of the report line.
func (p *Pool) SetLabel(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.label = label
}

// RegisterMetric adds an entry to the report line. The entries are
// printed in registration order.
func (p *Pool) RegisterMetric(name string, value func() string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = append(p.stats, stat{name: name, value: value})
}

// Workers returns the number of running workers, including the ones
// that were told to stop but did not pop the stop request yet.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Start starts the minimum number of workers, but at least one, and the
// manager.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}

	p.started = true
	for range max(p.minWorkers, 1) {
		p.spawn()
	}

	go p.manage()
	return nil
}

// spawn expects p.mu to be held.
func (p *Pool) spawn() {
	p.live++
	p.workers.Add(1)
	go p.work()
}

func (p *Pool) work() {
	defer p.workers.Done()

	var stopped, ok bool
	for !ok {
		stopped, ok = p.runOnce()
	}

	p.mu.Lock()
	p.live--
	if stopped {
		p.stopsQueued--
	}

	p.mu.Unlock()
}

// runOnce returns ok false when the runner panicked, and needs to be
// restarted.
func (p *Pool) runOnce() (stopped, ok bool) {
	defer func() {
		if err := recover(); err != nil {
			p.log.Errorf("worker panic, restarting: %v", err)
		}
	}()

	return p.runner.Run(p.queue), true
}

func (p *Pool) manage() {
	defer close(p.managerDone)

	tick := time.NewTicker(p.tick)
	defer tick.Stop()

	var report <-chan time.Time
	if p.report > 0 {
		rt := time.NewTicker(p.report)
		defer rt.Stop()
		report = rt.C
	}

	for {
		select {
		case <-tick.C:
			p.adjust()
			p.updateGauges()
		case <-report:
			p.log.Info(p.reportLine())
		case <-p.quit:
			return
		}
	}
}

// adjust starts or retires at most one worker.
func (p *Pool) adjust() {
	qs := p.queue.Status()
	backlog, minQueue := qs.Size, qs.MinSize

	p.mu.Lock()
	active := p.live - p.stopsQueued
	switch {
	case active < p.minWorkers,
		active < p.maxWorkers && (backlog > minQueue || active == 0 && backlog > 0):
		p.spawn()
		p.mu.Unlock()
	case active > p.maxWorkers,
		active > p.minWorkers && backlog == 0:
		p.stopsQueued++
		p.mu.Unlock()
		p.queue.Push(request.Stop{})
	default:
		p.mu.Unlock()
	}
}

func (p *Pool) updateGauges() {
	p.metrics.UpdateGauge(metrics.KeyQueueSize, float64(p.queue.Len()))
	p.metrics.UpdateGauge(metrics.KeyWorkers, float64(p.Workers()))
}

func (p *Pool) reportLine() string {
	p.mu.Lock()
	label := p.label
	stats := append([]stat(nil), p.stats...)
	live := p.live
	p.mu.Unlock()

	entries := make([]string, 0, len(stats)+2)
	for _, s := range stats {
		entries = append(entries, fmt.Sprintf("%s: %s", s.name, s.value()))
	}

	entries = append(entries,
		fmt.Sprintf("#Queued: %d", p.queue.Len()),
		fmt.Sprintf("#Workers: %d", live),
	)

	line := strings.Join(entries, ", ")
	if label != "" {
		line = label + " " + line
	}

	return line
}

// Stop stops the manager, pushes one request.Stop for each worker that
// was not told to stop yet, and waits until all workers exit. It can be
// called more than once, and it does nothing when the pool was not
// started.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}

	if p.stopped {
		p.mu.Unlock()
		p.workers.Wait()
		return
	}

	p.stopped = true
	close(p.quit)
	p.mu.Unlock()

	<-p.managerDone

	p.mu.Lock()
	n := max(p.live-p.stopsQueued, 0)
	p.stopsQueued += n
	p.mu.Unlock()

	for range n {
		p.queue.Push(request.Stop{})
	}

	p.workers.Wait()
	p.updateGauges()
}
