// Package dedupe canonicalizes business names and addresses so the same
// place restated with different case, spacing or country suffix matches.
package dedupe

import (
	"regexp"
	"strings"
)

// Checked in order; every suffix that matches is stripped.
var countrySuffixes = []string{", usa", ", u.s.a.", ", united states", ", us"}

var streetTypes = []struct {
	re   *regexp.Regexp
	abbr string
}{
	{regexp.MustCompile(`\bstreet\b`), "st"},
	{regexp.MustCompile(`\bavenue\b`), "ave"},
	{regexp.MustCompile(`\broad\b`), "rd"},
	{regexp.MustCompile(`\bboulevard\b`), "blvd"},
	{regexp.MustCompile(`\bdrive\b`), "dr"},
	{regexp.MustCompile(`\blane\b`), "ln"},
	{regexp.MustCompile(`\bplace\b`), "pl"},
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Entry is anything that carries a name and an address.
type Entry interface {
	DedupFields() (name, address string)
}

// Pair is a plain name/address Entry.
type Pair struct {
	Name    string
	Address string
}

// DedupFields implements Entry.
func (p Pair) DedupFields() (string, string) { return p.Name, p.Address }

// NormalizeForDedup lowercases, trims and collapses whitespace, then strips
// trailing country suffixes.
func NormalizeForDedup(s string) string {
	t := whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
	for _, suf := range countrySuffixes {
		if strings.HasSuffix(t, suf) {
			t = strings.TrimSpace(strings.TrimSuffix(t, suf))
		}
	}
	return t
}

// NormalizeAddress applies NormalizeForDedup and abbreviates street types,
// so "107 Stevenson Street" and "107 Stevenson St" compare equal.
func NormalizeAddress(s string) string {
	t := NormalizeForDedup(s)
	for _, st := range streetTypes {
		t = st.re.ReplaceAllString(t, st.abbr)
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(t, " "))
}

// Key returns the composite dedup key for a name and address. It is empty
// when either half normalizes to nothing.
func Key(name, address string) string {
	n, a := NormalizeForDedup(name), NormalizeAddress(address)
	if n == "" || a == "" {
		return ""
	}
	return n + "|" + a
}

// AlreadyExists reports whether list holds an entry whose normalized name
// and address both match. Empty inputs never match.
func AlreadyExists[E Entry](list []E, name, address string) bool {
	key := Key(name, address)
	if key == "" {
		return false
	}
	for _, e := range list {
		if Key(e.DedupFields()) == key {
			return true
		}
	}
	return false
}
