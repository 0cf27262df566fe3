package processor

import (
	"fmt"
	"strings"
)

// Scope tells which part of a request a rule applies to.
type Scope int

const (
	Header Scope = 1 << iota
	Body
	All = Header | Body
)

// ParseScope parses the scope names HEADER, BODY and ALL, case
// insensitive.
func ParseScope(s string) (Scope, error) {
	switch strings.ToUpper(s) {
	case "HEADER":
		return Header, nil
	case "BODY":
		return Body, nil
	case "ALL":
		return All, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
}

// Includes tells whether the scope covers the other one.
func (s Scope) Includes(other Scope) bool {
	return s&other == other && other != 0
}

func (s Scope) String() string {
	switch s {
	case Header:
		return "HEADER"
	case Body:
		return "BODY"
	case All:
		return "ALL"
	default:
		return fmt.Sprintf("Scope(%d)", int(s))
	}
}

// UnmarshalYAML parses a scope name.
func (s *Scope) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var value string
	if err := unmarshal(&value); err != nil {
		return err
	}

	ps, err := ParseScope(value)
	if err != nil {
		return err
	}

	*s = ps
	return nil
}
