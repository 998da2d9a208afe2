// Package query validates and normalizes discovery search queries.
package query

import (
	"fmt"
	"regexp"
	"strings"
)

// ErrEmpty is the message returned for blank queries.
const ErrEmpty = "Missing or empty query"

var radiusRe = regexp.MustCompile(`(?i)\swithin\s+\d+\s*miles?\b`)

// Result is the outcome of Validate.
type Result struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Validate accepts any query that is non-empty after trimming. A location is
// not required.
func Validate(q string) Result {
	if strings.TrimSpace(q) == "" {
		return Result{Valid: false, Error: ErrEmpty}
	}
	return Result{Valid: true}
}

// WithDefaultRadius appends " within N miles" unless the query already names
// a radius. miles <= 0 leaves the query untouched.
func WithDefaultRadius(q string, miles int) string {
	q = strings.TrimSpace(q)
	if miles <= 0 || q == "" || radiusRe.MatchString(q) {
		return q
	}
	return fmt.Sprintf("%s within %d miles", q, miles)
}
