package resolver

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter decides which files of a chunk are wanted. A plain filter such as
// ".css" is a suffix match. A filter containing glob metacharacters such as
// "**/*.{js,mjs}" is matched against the path without its leading slash. The
// empty filter admits everything.
type Filter struct {
	raw  string
	glob bool
}

func NewFilter(s string) Filter {
	return Filter{raw: s, glob: strings.ContainsAny(s, "*?[{")}
}

func (f Filter) String() string { return f.raw }

func (f Filter) Match(file string) bool {
	switch {
	case f.raw == "":
		return true
	case f.glob:
		ok, err := doublestar.Match(f.raw, strings.TrimLeft(file, "/"))
		return err == nil && ok
	default:
		return strings.HasSuffix(file, f.raw)
	}
}

// Valid reports whether a glob filter is well formed. Plain filters are
// always valid.
func (f Filter) Valid() bool {
	return !f.glob || doublestar.ValidatePattern(f.raw)
}
