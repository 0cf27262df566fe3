package processor

import (
	"strings"

	"github.com/zalando/dup/codec"
)

type arg struct {
	rawKey string
	key    string
	value  string
	hasEq  bool
}

// parseArgs splits a query string or a form body into decoded
// arguments. The keys are upper-cased for matching, the raw keys are
// kept for rebuilding. It never fails: empty segments are skipped, and
// a segment without '=' has an empty value.
func parseArgs(s string, c codec.Codec) []arg {
	var args []arg
	for _, seg := range strings.Split(s, "&") {
		if seg == "" {
			continue
		}

		k, v, eq := strings.Cut(seg, "=")
		args = append(args, arg{
			rawKey: k,
			key:    strings.ToUpper(c.Decode(k)),
			value:  c.Decode(v),
			hasEq:  eq,
		})
	}

	return args
}

// buildArgs encodes the values and joins the arguments. The raw keys
// are used as they were, and a segment parsed without '=' stays without
// it while its value is empty.
func buildArgs(args []arg, c codec.Codec) string {
	var b strings.Builder
	for i, a := range args {
		if i > 0 {
			b.WriteByte('&')
		}

		b.WriteString(a.rawKey)
		if !a.hasEq && a.value == "" {
			continue
		}

		b.WriteByte('=')
		b.WriteString(c.Encode(a.value))
	}

	return b.String()
}
