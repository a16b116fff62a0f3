package shipper

import (
	"fmt"
	"regexp"
)

// Filter decides which messages are delivered.
// When include rules exist a message must match one of them and exclude
// rules are not consulted. Otherwise a message matching any exclude rule
// is dropped.
type Filter struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// NewFilter compiles include and exclude patterns. It returns nil when both
// lists are empty.
func NewFilter(include, exclude []string) (*Filter, error) {
	if len(include) == 0 && len(exclude) == 0 {
		return nil, nil
	}
	f := &Filter{}
	for _, p := range include {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("shipper: include pattern %q: %w", p, err)
		}
		f.include = append(f.include, re)
	}
	for _, p := range exclude {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("shipper: exclude pattern %q: %w", p, err)
		}
		f.exclude = append(f.exclude, re)
	}
	return f, nil
}

// Allow reports whether message passes the filter. A nil filter allows everything.
func (f *Filter) Allow(message string) bool {
	if f == nil {
		return true
	}
	if len(f.include) > 0 {
		return matchAny(f.include, message)
	}
	return !matchAny(f.exclude, message)
}

func matchAny(rules []*regexp.Regexp, message string) bool {
	for _, re := range rules {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}
