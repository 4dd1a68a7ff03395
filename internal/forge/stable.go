package forge

import (
	"regexp"
	"strings"
)

// DefaultTagPattern matches tags of the form v<digit>...
const DefaultTagPattern = `^v[0-9]`

// DefaultExcludeKeywords mark a release as not stable when any of them
// appears in its name.
var DefaultExcludeKeywords = []string{"alpha", "beta", "rc", "preview", "test", "unstable"}

// StablePolicy decides which source releases count as stable.
type StablePolicy struct {
	TagPattern *regexp.Regexp
	Exclude    []string
}

// DefaultStablePolicy returns the policy built from DefaultTagPattern and
// DefaultExcludeKeywords.
func DefaultStablePolicy() *StablePolicy {
	return &StablePolicy{
		TagPattern: regexp.MustCompile(DefaultTagPattern),
		Exclude:    append([]string(nil), DefaultExcludeKeywords...),
	}
}

// NewStablePolicy compiles pattern and returns a policy excluding the
// given keywords.
func NewStablePolicy(pattern string, exclude []string) (*StablePolicy, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &StablePolicy{
		TagPattern: re,
		Exclude:    append([]string(nil), exclude...),
	}, nil
}

// IsStable reports whether r is a stable release: its tag matches the
// pattern and none of the excluded keywords is a substring of its name.
// Matching is case-sensitive. Drafts are never stable.
func (p *StablePolicy) IsStable(r *Release) bool {
	if r.Draft {
		return false
	}
	if !p.TagPattern.MatchString(r.TagName) {
		return false
	}
	for _, kw := range p.Exclude {
		if strings.Contains(r.Name, kw) {
			return false
		}
	}
	return true
}
