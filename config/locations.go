package config

import (
	"fmt"
	"strings"

	"github.com/zalando/dup"
	"github.com/zalando/dup/processor"
)

// RuleConfig is a filter or a substitution in the configuration file.
// Raw rules have no field.
type RuleConfig struct {
	Scope       processor.Scope `yaml:"scope"`
	Field       string          `yaml:"field"`
	Pattern     string          `yaml:"pattern"`
	Replacement string          `yaml:"replacement"`
}

// LocationConfig is a location in the configuration file.
type LocationConfig struct {
	Path             string       `yaml:"path"`
	Payload          bool         `yaml:"payload"`
	Filters          []RuleConfig `yaml:"filters"`
	RawFilters       []RuleConfig `yaml:"raw-filters"`
	Substitutions    []RuleConfig `yaml:"substitutions"`
	RawSubstitutions []RuleConfig `yaml:"raw-substitutions"`
}

// Locations is the list of the locations in the configuration file, or
// in the -locations flag.
type Locations []LocationConfig

func (l LocationConfig) validate() error {
	if !strings.HasPrefix(l.Path, "/") {
		return fmt.Errorf("invalid location path: %q", l.Path)
	}

	for i, rules := range [][]RuleConfig{l.Filters, l.RawFilters, l.Substitutions, l.RawSubstitutions} {
		for _, r := range rules {
			if r.Scope == 0 {
				return fmt.Errorf("location %s: %w: missing scope", l.Path, processor.ErrInvalidScope)
			}

			// field rules are the even ones
			if i%2 == 0 && r.Field == "" {
				return fmt.Errorf("location %s: %w", l.Path, dup.ErrMissingField)
			}
		}
	}

	return nil
}

func toRules(rc []RuleConfig) []dup.Rule {
	if len(rc) == 0 {
		return nil
	}

	rules := make([]dup.Rule, len(rc))
	for i, r := range rc {
		rules[i] = dup.Rule{
			Field:       r.Field,
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
			Scope:       r.Scope,
		}
	}

	return rules
}

// toLocations merges the locations of the configuration with the paths
// of the -location flag. The paths without configuration only activate
// duplication.
func toLocations(lc *Locations, paths []string) []dup.Location {
	var (
		locations []dup.Location
		known     = make(map[string]bool)
	)

	if lc != nil {
		for _, l := range *lc {
			known[l.Path] = true
			locations = append(locations, dup.Location{
				Path:             l.Path,
				Payload:          l.Payload,
				Filters:          toRules(l.Filters),
				RawFilters:       toRules(l.RawFilters),
				Substitutions:    toRules(l.Substitutions),
				RawSubstitutions: toRules(l.RawSubstitutions),
			})
		}
	}

	for _, p := range paths {
		if !known[p] {
			known[p] = true
			locations = append(locations, dup.Location{Path: p})
		}
	}

	return locations
}
