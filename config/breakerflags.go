package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/dup/circuit"
)

const breakerUsage = `set the destination breaker, e.g. failures=5,timeout=3s,half-open-requests=2
	possible breaker properties:
	failures: the number of consecutive failed duplicates opening the breaker, 0 disables the breaker
	timeout: duration string or milliseconds while the breaker stays open
	half-open-requests: the number of duplicates let through while the breaker is half-open`

var errInvalidBreakerConfig = errors.New("invalid breaker config")

type breakerFlags circuit.BreakerSettings

func (b breakerFlags) String() string {
	return circuit.BreakerSettings(b).String()
}

func parseDurationOrMillis(v string) (time.Duration, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}

	return time.ParseDuration(v)
}

func (b *breakerFlags) Set(value string) error {
	var s circuit.BreakerSettings

	vs := strings.SplitSeq(value, ",")
	for vi := range vs {
		k, v, found := strings.Cut(vi, "=")
		if !found {
			return errInvalidBreakerConfig
		}

		var err error
		switch k {
		case "failures":
			s.Failures, err = strconv.Atoi(v)
		case "timeout":
			s.Timeout, err = parseDurationOrMillis(v)
		case "half-open-requests":
			s.HalfOpenRequests, err = strconv.Atoi(v)
		default:
			return errInvalidBreakerConfig
		}

		if err != nil {
			return err
		}
	}

	*b = breakerFlags(s)
	return nil
}

func (b *breakerFlags) UnmarshalYAML(unmarshal func(any) error) error {
	var s circuit.BreakerSettings
	if err := unmarshal(&s); err != nil {
		return err
	}

	*b = breakerFlags(s)
	return nil
}
