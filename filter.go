package mcpclient

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Filter is a compiled allow/deny decision over capability names or resource
// URIs. Deny patterns are checked first and exclude unconditionally; a
// candidate is then included only if it matches at least one allow pattern.
// An empty allow list excludes everything, so a misconfigured agent fails
// closed rather than open.
//
// Patterns are compiled with no separator characters, so `*` matches any
// substring, slashes included: deny "secret*" covers "secret://a/b" too.
type Filter struct {
	allow []glob.Glob
	deny  []glob.Glob
}

// NewFilter compiles a FilterSpec. An invalid pattern is a configuration
// error.
func NewFilter(spec FilterSpec) (*Filter, error) {
	allow, err := compilePatterns(spec.Allow)
	if err != nil {
		return nil, err
	}
	deny, err := compilePatterns(spec.Deny)
	if err != nil {
		return nil, err
	}
	return &Filter{allow: allow, deny: deny}, nil
}

// AllowAll returns a filter that includes everything not denied.
func AllowAll() *Filter {
	f, _ := NewFilter(FilterSpec{Allow: []string{"*"}})
	return f
}

// ShouldInclude decides whether name passes the filter.
func (f *Filter) ShouldInclude(name string) bool {
	for _, g := range f.deny {
		if g.Match(name) {
			return false
		}
	}
	for _, g := range f.allow {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %v", ErrConfig, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}
