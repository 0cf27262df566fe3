/*
Package circuit implements the circuit breaker protecting the duplicate
destination.

When the destination keeps failing, sending it more duplicates only
ties up the workers until the dispatch timeout. The breaker opens after
the configured number of consecutive failed attempts, and while it is
open, the duplicates are dropped without a request. After the timeout,
the breaker lets a limited number of requests through, and closes again
when they succeed.

A breaker is only created when the number of failures is set. The nil
*Breaker allows every request.
*/
package circuit

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const (
	DefaultTimeout          = 10 * time.Second
	DefaultHalfOpenRequests = 1
)

// BreakerSettings contains the settings of the destination breaker.
type BreakerSettings struct {

	// Failures is the number of consecutive failed attempts that
	// open the breaker. Zero disables the breaker.
	Failures int `yaml:"failures"`

	// Timeout is the time the breaker stays open before letting
	// requests through again.
	Timeout time.Duration `yaml:"timeout"`

	// HalfOpenRequests is the number of requests let through while
	// the breaker is half-open.
	HalfOpenRequests int `yaml:"half-open-requests"`
}

// Breaker wraps a two step gobreaker.
type Breaker struct {
	settings BreakerSettings
	gb       *gobreaker.TwoStepCircuitBreaker
}

// Enabled tells whether a breaker needs to be created for the
// settings.
func (s BreakerSettings) Enabled() bool {
	return s.Failures > 0
}

func (s BreakerSettings) String() string {
	if !s.Enabled() {
		return "disabled"
	}

	var ss []string
	ss = append(ss, fmt.Sprintf("failures=%d", s.Failures))
	if s.Timeout > 0 {
		ss = append(ss, fmt.Sprintf("timeout=%s", s.Timeout))
	}

	if s.HalfOpenRequests > 0 {
		ss = append(ss, fmt.Sprintf("half-open-requests=%d", s.HalfOpenRequests))
	}

	return strings.Join(ss, ",")
}

// NewBreaker creates a breaker. It returns nil when the settings don't
// enable it.
func NewBreaker(name string, s BreakerSettings) *Breaker {
	if !s.Enabled() {
		return nil
	}

	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}

	if s.HalfOpenRequests <= 0 {
		s.HalfOpenRequests = DefaultHalfOpenRequests
	}

	failures := uint32(s.Failures)
	return &Breaker{
		settings: s,
		gb: gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: uint32(s.HalfOpenRequests),
			Timeout:     s.Timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Infof("circuit breaker %s went from %s to %s", name, from, to)
			},
		}),
	}
}

// Allow checks whether a request can be made. When it can, the caller
// must report the outcome by calling the returned function.
func (b *Breaker) Allow() (func(success bool), bool) {
	if b == nil {
		return func(bool) {}, true
	}

	done, err := b.gb.Allow()

	// this error can only indicate that the breaker is not closed
	if err != nil {
		return nil, false
	}

	return done, true
}

// Settings returns the settings the breaker was created with, with
// the defaults applied.
func (b *Breaker) Settings() BreakerSettings {
	if b == nil {
		return BreakerSettings{}
	}

	return b.settings
}
