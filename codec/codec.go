/*
Package codec implements the URL encoding styles used when parsing and
rebuilding query strings and form bodies of the duplicated requests.

Two styles are available:

  - "default": form style, '+' decodes to a space, values are encoded
    with url.QueryEscape.
  - "apache": only %XX sequences are decoded, '+' is kept as is, and
    spaces are encoded as %20.

Decoding never fails. Malformed escape sequences are passed through
unchanged.
*/
package codec

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultName = "default"
	ApacheName  = "apache"
)

// ErrUnknownCodec is returned by Get for an unknown codec name.
var ErrUnknownCodec = errors.New("unknown url codec")

// Codec decodes and encodes query argument values.
type Codec interface {
	Decode(string) string
	Encode(string) string
}

type defaultCodec struct{}

type apacheCodec struct{}

var (
	// Default is the form style codec.
	Default Codec = defaultCodec{}

	// Apache is the codec matching the escaping of the Apache httpd.
	Apache Codec = apacheCodec{}
)

// Get returns the codec registered with name.
func Get(name string) (Codec, error) {
	switch name {
	case DefaultName:
		return Default, nil
	case ApacheName:
		return Apache, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Names returns the known codec names.
func Names() []string {
	return []string{DefaultName, ApacheName}
}

func (defaultCodec) Decode(s string) string { return unescape(s, true) }
func (defaultCodec) Encode(s string) string { return url.QueryEscape(s) }

func (apacheCodec) Decode(s string) string { return unescape(s, false) }

func (apacheCodec) Encode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}

	return 0, false
}

// unescape decodes %XX sequences, and '+' when plusIsSpace is set.
// Invalid sequences are copied to the output.
func unescape(s string, plusIsSpace bool) string {
	if !strings.ContainsRune(s, '%') && (!plusIsSpace || !strings.ContainsRune(s, '+')) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '%' && i+2 < len(s):
			h, hok := unhex(s[i+1])
			l, lok := unhex(s[i+2])
			if !hok || !lok {
				b.WriteByte(c)
				continue
			}

			b.WriteByte(h<<4 | l)
			i += 2
		case c == '+' && plusIsSpace:
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}
