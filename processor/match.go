package processor

import (
	"github.com/zalando/dup/codec"
	"github.com/zalando/dup/request"
)

func matchFields(filters map[string][]Rule, args []arg, scope Scope) bool {
	for _, a := range args {
		for _, f := range filters[a.key] {
			if f.Scope.Includes(scope) && f.Pattern.MatchString(a.value) {
				return true
			}
		}
	}

	return false
}

// argsMatchFilter tells whether the request is selected by the rules of
// the location. Without any filter every request is selected, otherwise
// any single matching filter is enough.
func (c *Commands) argsMatchFilter(r *request.Info, args, bodyArgs []arg) bool {
	if !c.hasFilters() {
		return true
	}

	if matchFields(c.Filters, args, Header) {
		return true
	}

	if r.HasBody() && matchFields(c.Filters, bodyArgs, Body) {
		return true
	}

	for _, f := range c.RawFilters {
		if f.Scope.Includes(Header) && f.Pattern.MatchString(r.Args) {
			return true
		}

		if f.Scope.Includes(Body) && r.HasBody() && f.Pattern.MatchString(*r.Body) {
			return true
		}
	}

	return false
}

// substituteFields applies the field substitutions of the scope to the
// arguments in definition order. It returns true when any value
// changed.
func substituteFields(subs map[string][]Rule, args []arg, scope Scope) bool {
	var changed bool
	for i := range args {
		for _, s := range subs[args[i].key] {
			if !s.Scope.Includes(scope) {
				continue
			}

			v := s.Pattern.ReplaceAllString(args[i].value, s.Replacement)
			if v != args[i].value {
				args[i].value = v
				changed = true
			}
		}
	}

	return changed
}

// substitute rewrites the query string and the body of the request.
func (c *Commands) substitute(r *request.Info, args, bodyArgs []arg, cd codec.Codec) {
	if len(c.Substitutions) > 0 {
		if substituteFields(c.Substitutions, args, Header) {
			r.Args = buildArgs(args, cd)
		}

		if r.HasBody() && substituteFields(c.Substitutions, bodyArgs, Body) {
			b := buildArgs(bodyArgs, cd)
			r.Body = &b
		}
	}

	for _, s := range c.RawSubstitutions {
		if s.Scope.Includes(Header) {
			r.Args = s.Pattern.ReplaceAllString(r.Args, s.Replacement)
		}

		if s.Scope.Includes(Body) && r.Body != nil {
			b := s.Pattern.ReplaceAllString(*r.Body, s.Replacement)
			r.Body = &b
		}
	}
}
