package model

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// Status is the lifecycle state of a persisted business record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDeployed  Status = "deployed"
	StatusSaved     Status = "saved"
	StatusRejected  Status = "rejected"
	StatusContacted Status = "contacted"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDeployed, StatusSaved, StatusRejected, StatusContacted:
		return true
	}
	return false
}

// Theme is the base brightness of a color palette.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// ColorPalette is the site theme suggested by research.
type ColorPalette struct {
	Theme   Theme  `json:"theme"`
	BG      string `json:"bg"`
	Text    string `json:"text"`
	Accent  string `json:"accent"`
	Accent2 string `json:"accent2"`
}

// Record is the persisted, canonical form of a business.
type Record struct {
	ID               string        `json:"id"`
	PlaceID          string        `json:"place_id,omitempty"`
	Name             string        `json:"name"`
	Address          string        `json:"address"`
	Phone            *string       `json:"phone"`
	Email            *string       `json:"email"`
	HasWebsite       bool          `json:"has_website"`
	GoogleReviews    int           `json:"google_reviews"`
	GoogleRating     *float64      `json:"google_rating"`
	Style            *string       `json:"style"`
	Description      string        `json:"description"`
	BusinessHours    *string       `json:"business_hours"`
	SocialMediaLinks []string      `json:"social_media_links"`
	ColorPalette     *ColorPalette `json:"color_palette"`
	ModelURL         *string       `json:"model_url"`
	Slug             string        `json:"slug"`
	Status           Status        `json:"status"`
	LiveURL3D        string        `json:"live_url_3d,omitempty"`
	LiveURLClassic   string        `json:"live_url_classic,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// DedupFields returns the name and address used for duplicate detection.
func (r Record) DedupFields() (string, string) { return r.Name, r.Address }

var (
	tagRe   = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// StripMarkup removes tags and any stray angle brackets, then collapses
// whitespace.
func StripMarkup(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// Sanitize enforces record invariants before the record is persisted.
func (r *Record) Sanitize() {
	r.HasWebsite = false
	r.Description = StripMarkup(r.Description)
	if r.Style != nil {
		style := StripMarkup(*r.Style)
		if style == "" {
			r.Style = nil
		} else {
			r.Style = &style
		}
	}
	if r.GoogleReviews < 0 {
		r.GoogleReviews = 0
	}
	if r.GoogleRating != nil && (*r.GoogleRating < 0 || math.IsNaN(*r.GoogleRating)) {
		r.GoogleRating = nil
	}
	r.SocialMediaLinks = FilterSocialLinks(r.SocialMediaLinks)
	if r.Status == "" {
		r.Status = StatusPending
	}
}

// GeneratedSite is one entry in the append-only log of deployed sites.
type GeneratedSite struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	LiveURL3D      string    `json:"live_url_3d,omitempty"`
	LiveURLClassic string    `json:"live_url_classic,omitempty"`
	Email          *string   `json:"email"`
	GeneratedAt    time.Time `json:"generated_at"`
	Status         string    `json:"status"`
}

// SiteStatusActive marks a site that is live.
const SiteStatusActive = "active"
