package model

// Enrichment is the structured result of one research task.
type Enrichment struct {
	Email            *string       `json:"email"`
	Phone            *string       `json:"phone"`
	BusinessHours    *string       `json:"business_hours"`
	SocialMediaLinks []string      `json:"social_media_links"`
	Style            *string       `json:"style"`
	ColorPalette     *ColorPalette `json:"color_palette"`
	ModelKeyword     *string       `json:"model_keyword"`
	Description      string        `json:"description"`
	RawText          string        `json:"-"`
}
