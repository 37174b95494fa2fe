// Package assetpath shapes asset paths for emission into markup.
package assetpath

import "strings"

// IsAbsoluteURL reports whether p starts with a URL scheme ("https:",
// "data:") or is protocol-relative ("//cdn.example.com/..."). A run of three
// or more slashes is a local path with doubled separators, not a host.
func IsAbsoluteURL(p string) bool {
	if strings.HasPrefix(p, "//") {
		return len(p) > 2 && p[2] != '/'
	}
	i := strings.IndexByte(p, ':')
	if i <= 0 {
		return false
	}
	for j, c := range p[:i] {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case j > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}

// Normalize returns absolute URLs unchanged and gives every other path
// exactly one leading slash. Normalize(Normalize(p)) == Normalize(p).
func Normalize(p string) string {
	if IsAbsoluteURL(p) {
		return p
	}
	return "/" + strings.TrimLeft(p, "/")
}
