// Package model holds the domain types shared across the discovery pipeline.
package model

// Place is a discovered candidate after detail lookup. It is never persisted.
type Place struct {
	PlaceID          string
	Name             string
	Address          string
	Phone            string
	Website          string
	Rating           *float64
	ReviewCount      int
	EditorialSummary string
	OpeningHours     string
	ModelURL         string
}

// DedupFields returns the name and address used for duplicate detection.
func (p Place) DedupFields() (string, string) { return p.Name, p.Address }

// Card is a finished (or partially finished) candidate as shown to the
// caller of a search session.
type Card struct {
	Record
	LiveURL    string  `json:"live_url"`
	EmailDraft *string `json:"email_draft"`
}
