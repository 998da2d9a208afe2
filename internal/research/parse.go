package research

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sells-group/platter/internal/model"
)

const (
	maxHoursLen       = 200
	maxStyleLen       = 120
	maxDescriptionLen = 500
	fallbackDescLen   = 300
)

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`(?:^|[^\d])((?:\+?1[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4})(?:[^\d]|$)`)
	urlRe   = regexp.MustCompile(`https?://[^\s"'<>()\[\]{}]+`)

	hoursLabelRe = regexp.MustCompile(`(?im)^[\s*•-]*(?:business\s+hours|opening(?:\s+hours)?|hours(?:\s+of\s+operation)?|open)\s*:\s*(.+)$`)
	hoursDayRe   = regexp.MustCompile(`(?i)\b(?:mon|tue|wed|thu|fri|sat|sun)[a-z]*\.?(?:\s*(?:-|–|to|through)\s*(?:mon|tue|wed|thu|fri|sat|sun)[a-z]*\.?)?\s*:?\s*\d{1,2}(?::\d{2})?\s*(?:am|pm|a\.m\.|p\.m\.)?\s*(?:-|–|to)\s*\d{1,2}(?::\d{2})?\s*(?:am|pm|a\.m\.|p\.m\.)?[^\n]*`)

	styleLabelRe = regexp.MustCompile(`(?im)^[\s*•-]*(?:style|vibe|aesthetic)\s*:\s*(.+)$`)
	styleWords   = `modern|minimalist|minimal|warm|rustic|cozy|elegant|vintage|industrial|bohemian|luxurious|luxury|playful|classic|bright|clean|chic|trendy|upscale|casual|retro|contemporary|traditional|sleek|vibrant|earthy|charming|colorful|moody|refined`
	stylePairRe  = regexp.MustCompile(`(?i)\b(` + styleWords + `)(?:\s*,\s*|\s+and\s+|\s+)(` + styleWords + `)\b`)

	paletteRe = regexp.MustCompile(`COLOR_PALETTE:\s*theme=(dark|light),\s*bg=(#[0-9a-fA-F]{6}|#[0-9a-fA-F]{3}),\s*text=(#[0-9a-fA-F]{6}|#[0-9a-fA-F]{3}),\s*accent=(#[0-9a-fA-F]{6}|#[0-9a-fA-F]{3}),\s*accent2=(#[0-9a-fA-F]{6}|#[0-9a-fA-F]{3})(?:[^0-9A-Za-z]|$)`)

	keywordRe = regexp.MustCompile(`(?im)^[\s*•-]*(?:3D_KEYWORD|MODEL_KEYWORD)\s*:\s*(.+)$`)

	summaryLabelRe = regexp.MustCompile(`(?im)^[\s*•-]*(?:description|summary|about)\s*:\s*(.+)$`)
	labeledLineRe  = regexp.MustCompile(`(?im)^[\s*•-]*(?:address|location|phone|telephone|tel|e-?mail|website|social(?:\s+media)?(?:\s+links)?|instagram|facebook|twitter|yelp|business\s+hours|opening(?:\s+hours)?|hours(?:\s+of\s+operation)?|open|style|vibe|aesthetic|color_palette|3d_keyword|model_keyword)\s*:.*$`)
	streetAddrRe   = regexp.MustCompile(`(?i)\b\d{1,6}\s+(?:[A-Za-z0-9.'-]+\s+){0,4}(?:street|st|avenue|ave|road|rd|boulevard|blvd|drive|dr|lane|ln|place|pl|way|court|ct|highway|hwy)\b\.?(?:\s*(?:suite|ste|unit|#)\s*[\w-]+)?(?:,\s*[A-Za-z .]+)?(?:,\s*[A-Z]{2}\s*\d{5}(?:-\d{4})?)?`)
	sentenceEndRe  = regexp.MustCompile(`[.!?]["')\]]*\s+`)
	spaceRe        = regexp.MustCompile(`\s+`)
	blankLinesRe   = regexp.MustCompile(`[ \t]*\n[\s]*`)
)

// Parse extracts structured fields from one free-text research result. It
// never fails: a field that cannot be found is left at its zero value.
func Parse(raw string) model.Enrichment {
	e := model.Enrichment{RawText: raw, SocialMediaLinks: []string{}}
	text := Clean(raw)

	safe("email", func() { e.Email = extractEmail(text) })
	safe("phone", func() { e.Phone = extractPhone(text) })
	safe("hours", func() { e.BusinessHours = extractHours(text) })
	safe("social", func() { e.SocialMediaLinks = extractSocial(raw, text) })
	safe("style", func() { e.Style = extractStyle(text) })
	safe("palette", func() { e.ColorPalette = extractPalette(text) })
	safe("keyword", func() { e.ModelKeyword = extractKeyword(text) })
	safe("description", func() { e.Description = extractDescription(text) })

	if e.SocialMediaLinks == nil {
		e.SocialMediaLinks = []string{}
	}
	return e
}

func safe(field string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("research: extractor panicked",
				zap.String("field", field), zap.Any("panic", r))
		}
	}()
	fn()
}

// Clean converts markup to plain text: scripts and styles are dropped,
// block elements become line breaks, entities are decoded and no angle
// brackets survive.
func Clean(raw string) string {
	if raw == "" {
		return ""
	}
	text := raw
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err == nil {
		doc.Find("script, style, noscript").Remove()
		doc.Find("br").ReplaceWithHtml("\n")
		doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
			s.AppendHtml("\n")
		})
		text = doc.Text()
	}
	text = html.UnescapeString(text)
	text = strings.NewReplacer("<", " ", ">", " ", "\u00a0", " ", "\r", "").Replace(text)
	return strings.TrimSpace(blankLinesRe.ReplaceAllString(text, "\n"))
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}

func extractEmail(text string) *string {
	return strPtr(strings.TrimRight(emailRe.FindString(text), "."))
}

func extractPhone(text string) *string {
	m := phoneRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return strPtr(spaceRe.ReplaceAllString(m[1], " "))
}

func extractHours(text string) *string {
	if m := hoursLabelRe.FindStringSubmatch(text); m != nil {
		if v := strings.TrimSpace(m[1]); v != "" {
			return strPtr(truncate(v, maxHoursLen))
		}
	}
	if m := hoursDayRe.FindString(text); m != "" {
		return strPtr(truncate(m, maxHoursLen))
	}
	return nil
}

func extractSocial(raw, text string) []string {
	var found []string
	for _, src := range []string{raw, text} {
		for _, u := range urlRe.FindAllString(src, -1) {
			found = append(found, strings.TrimRight(u, `.,;:!?'"`))
		}
	}
	return model.FilterSocialLinks(found)
}

func extractStyle(text string) *string {
	if m := styleLabelRe.FindStringSubmatch(text); m != nil {
		return strPtr(truncate(model.StripMarkup(m[1]), maxStyleLen))
	}
	if m := stylePairRe.FindStringSubmatch(text); m != nil {
		return strPtr(fmt.Sprintf("%s %s", strings.ToLower(m[1]), strings.ToLower(m[2])))
	}
	return nil
}

func extractPalette(text string) *model.ColorPalette {
	m := paletteRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return &model.ColorPalette{
		Theme:   model.Theme(m[1]),
		BG:      strings.ToLower(m[2]),
		Text:    strings.ToLower(m[3]),
		Accent:  strings.ToLower(m[4]),
		Accent2: strings.ToLower(m[5]),
	}
}

func extractKeyword(text string) *string {
	m := keywordRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	kw := strings.Trim(strings.TrimSpace(m[1]), `"'.`)
	return strPtr(strings.ToLower(kw))
}

func extractDescription(text string) string {
	body := text
	if m := summaryLabelRe.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
		body = m[1]
	}

	body = labeledLineRe.ReplaceAllString(body, " ")
	body = urlRe.ReplaceAllString(body, " ")
	body = emailRe.ReplaceAllString(body, " ")
	body = phoneRe.ReplaceAllStringFunc(body, func(s string) string {
		// keep the delimiting characters the pattern consumed
		m := phoneRe.FindStringSubmatch(s)
		return strings.Replace(s, m[1], " ", 1)
	})
	body = streetAddrRe.ReplaceAllString(body, " ")
	body = hoursDayRe.ReplaceAllString(body, " ")
	body = strings.TrimSpace(spaceRe.ReplaceAllString(body, " "))
	if body == "" {
		return ""
	}

	desc := body
	ends := sentenceEndRe.FindAllStringIndex(body, 2)
	switch len(ends) {
	case 0:
		desc = truncate(body, fallbackDescLen)
	case 2:
		desc = body[:ends[1][1]]
	}
	return truncate(strings.TrimSpace(desc), maxDescriptionLen)
}
