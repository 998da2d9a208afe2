// Package sitegen generates the two landing-page variants for a business,
// publishes them, and drafts the outreach email.
package sitegen

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/platter/internal/model"
	"github.com/sells-group/platter/pkg/anthropic"
)

// Variant selects which landing page to generate.
type Variant string

const (
	// Variant3D embeds an interactive Three.js scene built around a glTF model.
	Variant3D Variant = "3d"
	// VariantClassic is a conventional single-page site.
	VariantClassic Variant = "classic"
)

// Slug returns the published slug for base under this variant.
func (v Variant) Slug(base string) string { return base + "-" + string(v) }

// Input is everything the generator may use about a business.
type Input struct {
	ID               string
	Name             string
	Slug             string
	Description      string
	Style            string
	Phone            string
	Address          string
	Email            string
	BusinessHours    string
	SocialMediaLinks []string
	ColorPalette     *model.ColorPalette
	ModelURL         string
}

// InputFromRecord copies the generator-relevant fields of a stored record.
func InputFromRecord(r model.Record) Input {
	in := Input{
		ID:               r.ID,
		Name:             r.Name,
		Slug:             r.Slug,
		Description:      r.Description,
		Address:          r.Address,
		SocialMediaLinks: r.SocialMediaLinks,
		ColorPalette:     r.ColorPalette,
	}
	in.Style = deref(r.Style)
	in.Phone = deref(r.Phone)
	in.Email = deref(r.Email)
	in.BusinessHours = deref(r.BusinessHours)
	in.ModelURL = deref(r.ModelURL)
	return in
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Generator produces a complete HTML document for one variant.
type Generator interface {
	Generate(ctx context.Context, in Input, v Variant) (string, error)
}

// ErrNoHTML is returned when the model response holds no HTML document.
var ErrNoHTML = eris.New("sitegen: response contained no html document")

// UsageHook receives the token usage of every generation call.
type UsageHook func(model string, u anthropic.Usage)

// GeneratorOption configures an LLMGenerator.
type GeneratorOption func(*LLMGenerator)

// WithUsageHook reports token usage after each call.
func WithUsageHook(h UsageHook) GeneratorOption {
	return func(g *LLMGenerator) { g.onUsage = h }
}

// LLMGenerator generates sites with Claude.
type LLMGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	onUsage   UsageHook

	mu    sync.Mutex
	total anthropic.Usage
}

// NewLLMGenerator creates a Generator backed by client.
func NewLLMGenerator(client anthropic.Client, model string, maxTokens int64, opts ...GeneratorOption) *LLMGenerator {
	if maxTokens <= 0 {
		maxTokens = 16000
	}
	g := &LLMGenerator{client: client, model: model, maxTokens: maxTokens}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, in Input, v Variant) (string, error) {
	system := classicSystemPrompt
	if v == Variant3D {
		system = threeDSystemPrompt
	}

	resp, err := g.client.Complete(ctx, anthropic.Request{
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		System:      system,
		CacheSystem: true,
		Prompt:      buildBrief(in, v),
	})
	if err != nil {
		return "", eris.Wrapf(err, "sitegen: generate %s for %s", v, in.Name)
	}

	log := zap.L().With(zap.String("business", in.Name), zap.String("variant", string(v)))
	g.mu.Lock()
	g.total = g.total.Add(resp.Usage)
	total := g.total
	g.mu.Unlock()

	log.Info("sitegen: generation usage", append(resp.Usage.Fields(g.model),
		zap.Float64("total_cost_usd", total.Cost(g.model)))...)
	if g.onUsage != nil {
		g.onUsage(g.model, resp.Usage)
	}
	if resp.Truncated() {
		log.Warn("sitegen: output hit max tokens; page may be incomplete", zap.Int64("max_tokens", g.maxTokens))
	}

	html, err := ExtractHTML(resp.Text)
	if err != nil {
		return "", eris.Wrapf(err, "sitegen: generate %s for %s", v, in.Name)
	}
	return html, nil
}

// TotalUsage sums the usage of every completion made so far.
func (g *LLMGenerator) TotalUsage() anthropic.Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}

// Model is the model id completions are made with.
func (g *LLMGenerator) Model() string { return g.model }

var fenceRe = regexp.MustCompile("(?s)```(?:html)?\\s*\\n(.*?)```")

// ExtractHTML pulls the HTML document out of a model response: the first
// fenced block that looks like HTML, else everything from the first
// <!DOCTYPE or <html up to the closing </html>.
func ExtractHTML(text string) (string, error) {
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		body := strings.TrimSpace(m[1])
		if looksLikeHTML(body) {
			return body, nil
		}
	}

	lower := strings.ToLower(text)
	start := strings.Index(lower, "<!doctype")
	if start < 0 {
		start = strings.Index(lower, "<html")
	}
	if start < 0 {
		return "", ErrNoHTML
	}
	end := len(text)
	if i := strings.LastIndex(lower, "</html>"); i > start {
		end = i + len("</html>")
	}
	return strings.TrimSpace(text[start:end]), nil
}

func looksLikeHTML(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "<!doctype") || strings.HasPrefix(l, "<html")
}

func buildBrief(in Input, v Variant) string {
	var b strings.Builder
	line := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}
	line("Business name", in.Name)
	line("Description", in.Description)
	line("Style", in.Style)
	line("Address", in.Address)
	line("Phone", in.Phone)
	line("Email", in.Email)
	line("Hours", in.BusinessHours)
	if len(in.SocialMediaLinks) > 0 {
		line("Social links", strings.Join(in.SocialMediaLinks, ", "))
	}
	if p := in.ColorPalette; p != nil {
		line("Color palette", fmt.Sprintf("theme=%s bg=%s text=%s accent=%s accent2=%s", p.Theme, p.BG, p.Text, p.Accent, p.Accent2))
	}
	if v == Variant3D {
		if in.ModelURL != "" {
			line("glTF model URL", in.ModelURL)
		} else {
			b.WriteString("No 3D model is available: build the hero scene from Three.js primitives.\n")
		}
	}
	return b.String()
}

const sharedRules = `Return exactly one complete HTML document in a single ` + "```html" + ` block and nothing else.
All CSS and JavaScript must be inline or loaded from public CDNs. The page must be responsive and load without a build step.
Use only the facts in the brief. Never invent reviews, prices, awards or contact details. Omit sections whose data is missing.
Make phone numbers tel: links and emails mailto: links. Use the color palette when one is given.`

const threeDSystemPrompt = `You are a senior creative web developer building a one-page landing site for a small local business that has no website.
The hero is a full-width interactive Three.js scene (import three and GLTFLoader as ES modules from a CDN). Load the glTF model from the given URL, center and scale it to fit, add soft lighting, slow auto-rotation and OrbitControls with zoom disabled. Fall back to a static gradient if WebGL is unavailable.
Below the hero: a short about section, hours, location, contact and social links.
` + sharedRules

const classicSystemPrompt = `You are a senior web designer building a clean, classic one-page landing site for a small local business that has no website.
No 3D or canvas effects. Use strong typography, a hero with the business name and description, then about, hours, location, contact and social links sections.
` + sharedRules
