package sitegen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/platter/internal/model"
	"github.com/sells-group/platter/internal/store"
)

// Output is the result of building and publishing both variants.
type Output struct {
	BusinessName   string  `json:"business_name"`
	LiveURL3D      string  `json:"live_url_3d"`
	LiveURLClassic string  `json:"live_url_classic"`
	EmailDraft     *string `json:"email_draft"`
}

// Service generates, publishes and records landing pages.
type Service struct {
	gen    Generator
	pub    Publisher
	store  store.Store
	sender string
	now    func() time.Time
	log    *zap.Logger
}

// NewService wires a Service. sender signs the outreach email.
func NewService(gen Generator, pub Publisher, st store.Store, sender string) *Service {
	if sender == "" {
		sender = "Platter"
	}
	return &Service{
		gen:    gen,
		pub:    pub,
		store:  st,
		sender: sender,
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "sitegen")),
	}
}

// Build generates both variants one after the other, publishes each under
// its variant slug, and drafts the outreach email when in.Email is set.
func (s *Service) Build(ctx context.Context, in Input) (*Output, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Slug) == "" {
		return nil, eris.New("sitegen: name and slug are required")
	}

	urls := make(map[Variant]string, 2)
	for _, v := range []Variant{Variant3D, VariantClassic} {
		html, err := s.gen.Generate(ctx, in, v)
		if err != nil {
			return nil, err
		}
		u, err := s.pub.Publish(ctx, v.Slug(in.Slug), html)
		if err != nil {
			return nil, eris.Wrapf(err, "sitegen: publish %s", v.Slug(in.Slug))
		}
		s.log.Info("site published",
			zap.String("business", in.Name),
			zap.String("variant", string(v)),
			zap.String("url", u),
		)
		urls[v] = u
	}

	out := &Output{
		BusinessName:   in.Name,
		LiveURL3D:      urls[Variant3D],
		LiveURLClassic: urls[VariantClassic],
	}
	if strings.TrimSpace(in.Email) != "" {
		draft := EmailDraft(in.Name, out.LiveURL3D, out.LiveURLClassic, s.sender)
		out.EmailDraft = &draft
	}
	return out, nil
}

// Deploy builds the sites for a stored record, appends a generated-site
// entry, and marks the record deployed with both URLs.
func (s *Service) Deploy(ctx context.Context, rec model.Record) (*Output, error) {
	out, err := s.Build(ctx, InputFromRecord(rec))
	if err != nil {
		return nil, err
	}

	if err := s.store.RecordSite(ctx, model.GeneratedSite{
		ID:             rec.ID,
		Name:           rec.Name,
		Slug:           rec.Slug,
		LiveURL3D:      out.LiveURL3D,
		LiveURLClassic: out.LiveURLClassic,
		Email:          rec.Email,
		GeneratedAt:    s.now().UTC(),
		Status:         model.SiteStatusActive,
	}); err != nil {
		return out, eris.Wrap(err, "sitegen: record site")
	}
	if err := s.store.MarkDeployed(ctx, rec.ID, out.LiveURL3D, out.LiveURLClassic); err != nil {
		return out, eris.Wrap(err, "sitegen: mark deployed")
	}
	return out, nil
}

// EmailDraft is the outreach email offering both variants.
func EmailDraft(name, url3D, urlClassic, sender string) string {
	return fmt.Sprintf(`Subject: We built you a free website - pick your favorite

Hi %s,

We noticed you didn't have a website so we built two options for you:

Option A (Interactive 3D): %s
Option B (Classic): %s

Take a look and let us know which one you prefer, or if you'd like any changes.

- %s`, name, url3D, urlClassic, sender)
}
