// Package net provides the HTTP transport used to send the duplicated
// requests to the destination.
package net

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// DupIDHeader carries the unique id of a duplicated request. It is
	// set by the processor, and also printed in the duplicate log.
	DupIDHeader = "X-Dup-Id"

	defaultIdleConnTimeout = 30 * time.Second
	defaultDialTimeout     = 5 * time.Second
)

// Options are mostly passed to the http.Transport of the same
// name. Options.Timeout can be used as default for all timeouts, that
// are not set.
type Options struct {
	// DisableKeepAlives see https://golang.org/pkg/net/http/#Transport.DisableKeepAlives
	DisableKeepAlives bool
	// MaxIdleConns see https://golang.org/pkg/net/http/#Transport.MaxIdleConns
	MaxIdleConns int
	// MaxIdleConnsPerHost see https://golang.org/pkg/net/http/#Transport.MaxIdleConnsPerHost
	MaxIdleConnsPerHost int
	// MaxConnsPerHost see https://golang.org/pkg/net/http/#Transport.MaxConnsPerHost
	MaxConnsPerHost int
	// Timeout sets all Timeouts, that are set to 0 to the given
	// value. Basically it's the default timeout value.
	Timeout time.Duration
	// DialTimeout is the timeout of establishing a connection to
	// the destination, if not set or set to 0, its using
	// Options.Timeout, or 5s when that is not set either.
	DialTimeout time.Duration
	// IdleConnTimeout see
	// https://golang.org/pkg/net/http/#Transport.IdleConnTimeout,
	// if not set or set to 0, its using Options.Timeout, or 30s
	// when that is not set either.
	IdleConnTimeout time.Duration
	// CloseIdleConnsPeriod sets the period of calling
	// CloseIdleConnections on the transport. When zero, the idle
	// connections are only closed by the IdleConnTimeout.
	CloseIdleConnsPeriod time.Duration
}

// Transport is the round tripper of the destination client.
type Transport struct {
	tr      *http.Transport
	options Options
	once    sync.Once
	quit    chan struct{}
}

// NewTransport creates a transport. It needs to be closed, when
// CloseIdleConnsPeriod is set.
func NewTransport(options Options) *Transport {
	if options.DialTimeout == 0 {
		options.DialTimeout = options.Timeout
	}

	if options.DialTimeout == 0 {
		options.DialTimeout = defaultDialTimeout
	}

	if options.IdleConnTimeout == 0 {
		options.IdleConnTimeout = options.Timeout
	}

	if options.IdleConnTimeout == 0 {
		options.IdleConnTimeout = defaultIdleConnTimeout
	}

	htransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   options.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		DisableKeepAlives:   options.DisableKeepAlives,
		MaxIdleConns:        options.MaxIdleConns,
		MaxIdleConnsPerHost: options.MaxIdleConnsPerHost,
		MaxConnsPerHost:     options.MaxConnsPerHost,
		IdleConnTimeout:     options.IdleConnTimeout,
	}

	t := &Transport{
		tr:      htransport,
		options: options,
		quit:    make(chan struct{}),
	}

	if options.CloseIdleConnsPeriod > 0 {
		go t.closeIdleConns(options.CloseIdleConnsPeriod)
	}

	return t
}

func (t *Transport) closeIdleConns(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.tr.CloseIdleConnections()
		case <-t.quit:
			return
		}
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.tr.RoundTrip(req)
}

// Close stops closing the idle connections periodically and closes
// them for the last time.
func (t *Transport) Close() {
	t.once.Do(func() {
		close(t.quit)
		t.tr.CloseIdleConnections()
	})
}

// NewClient returns an http client using a new transport. The client
// does not follow redirects.
func NewClient(o Options) (*http.Client, *Transport) {
	tr := NewTransport(o)
	return &http.Client{
		Transport: tr,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, tr
}
