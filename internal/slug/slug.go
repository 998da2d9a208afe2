// Package slug derives URL and directory safe identifiers from business names.
package slug

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fallback is returned when a name has no usable characters.
const Fallback = "business"

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	invalidRe    = regexp.MustCompile(`[^a-z0-9-]`)
	hyphensRe    = regexp.MustCompile(`-+`)
)

// Make lowercases name, folds accents, turns whitespace into hyphens and
// drops everything outside [a-z0-9-]. The result is never empty.
func Make(name string) string {
	s := strings.TrimSpace(strings.ToLower(fold(name)))
	s = whitespaceRe.ReplaceAllString(s, "-")
	s = invalidRe.ReplaceAllString(s, "")
	s = hyphensRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return Fallback
	}
	return s
}

// fold strips combining marks so "Café" becomes "Cafe".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Unique returns base if it is free, otherwise base-2, base-3 and so on.
func Unique(base string, taken func(string) bool) string {
	if taken == nil || !taken(base) {
		return base
	}
	for i := 2; ; i++ {
		candidate := base + "-" + strconv.Itoa(i)
		if !taken(candidate) {
			return candidate
		}
	}
}
