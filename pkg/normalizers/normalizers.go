// Package normalizers provides the string normalizations used to build match keys.
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", Lowercase)
	Register("casefold", CaseFold)
	Register("uppercase", Uppercase)
	Register("trim", Trim)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("strip_scheme", StripScheme)
	Register("strip_www", StripWWW)
	Register("strip_trailing_slash", StripTrailingSlash)
}

func Register(name string, fn Normalizer) {
	registry[name] = fn
}

func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer; unknown names leave the value untouched.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

var (
	nameChain    = []string{"trim", "collapse_whitespace", "casefold"}
	countryChain = []string{"trim", "uppercase"}
	websiteChain = []string{"trim", "lowercase", "strip_scheme", "strip_www", "strip_trailing_slash"}
	pidChain     = []string{"trim", "lowercase"}
)

// Name is the key used for organization names.
func Name(s string) string { return ApplyChain(s, nameChain...) }

// Country is the key used for ISO 3166-1 alpha-2 codes.
func Country(s string) string { return ApplyChain(s, countryChain...) }

// Website reduces a URL to host and path so "https://www.ugent.be/" and "ugent.be" agree.
func Website(s string) string { return ApplyChain(s, websiteChain...) }

// PID is the key used for persistent identifier values.
func PID(s string) string { return ApplyChain(s, pidChain...) }

// Ptr normalizes an optional value, returning "" for nil or blank input.
func Ptr(s *string, fn Normalizer) string {
	if s == nil {
		return ""
	}
	return fn(*s)
}

func Lowercase(s string) string {
	return strings.ToLower(s)
}

// CaseFold applies full Unicode case folding, so "STRASSE" and "straße" agree.
func CaseFold(s string) string {
	return cases.Fold().String(s)
}

func Uppercase(s string) string {
	return strings.ToUpper(s)
}

func Trim(s string) string {
	return strings.TrimSpace(s)
}

// CollapseWhitespace replaces every run of whitespace with a single space.
func CollapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

func StripScheme(s string) string {
	if i := strings.Index(s, "://"); i >= 0 {
		return s[i+3:]
	}
	return s
}

func StripWWW(s string) string {
	return strings.TrimPrefix(s, "www.")
}

func StripTrailingSlash(s string) string {
	return strings.TrimRight(s, "/")
}
