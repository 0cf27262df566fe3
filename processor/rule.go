package processor

import "regexp"

// RuleKind tells whether a rule selects or rewrites requests.
type RuleKind int

const (
	Filter RuleKind = iota
	Substitution
)

func (k RuleKind) String() string {
	if k == Substitution {
		return "substitution"
	}

	return "filter"
}

// Rule is a filter or a substitution. Raw rules have no field, they
// apply to the whole query string or body.
type Rule struct {
	Kind        RuleKind
	Field       string
	Pattern     *regexp.Regexp
	Replacement string
	Scope       Scope
}

// Raw tells whether the rule applies to the whole query string or body.
func (r Rule) Raw() bool {
	return r.Field == ""
}

// Commands holds the rules of a location.
type Commands struct {

	// Filters by upper-cased field name. Any of them matching
	// selects the request.
	Filters map[string][]Rule

	// Substitutions by upper-cased field name, in definition order.
	Substitutions map[string][]Rule

	RawFilters       []Rule
	RawSubstitutions []Rule

	// Payload tells whether the body of the requests is captured.
	Payload bool
}

func newCommands() *Commands {
	return &Commands{
		Filters:       make(map[string][]Rule),
		Substitutions: make(map[string][]Rule),
	}
}

func (c *Commands) hasFilters() bool {
	return len(c.Filters) > 0 || len(c.RawFilters) > 0
}

func (c *Commands) add(r Rule) {
	switch {
	case r.Kind == Filter && r.Raw():
		c.RawFilters = append(c.RawFilters, r)
	case r.Kind == Filter:
		c.Filters[r.Field] = append(c.Filters[r.Field], r)
	case r.Raw():
		c.RawSubstitutions = append(c.RawSubstitutions, r)
	default:
		c.Substitutions[r.Field] = append(c.Substitutions[r.Field], r)
	}
}

// fieldScopes returns the union of the scopes of the field rules.
func (c *Commands) fieldScopes() Scope {
	var s Scope
	for _, rs := range c.Filters {
		for _, r := range rs {
			s |= r.Scope
		}
	}

	for _, rs := range c.Substitutions {
		for _, r := range rs {
			s |= r.Scope
		}
	}

	return s
}
