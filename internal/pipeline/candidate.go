package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/platter/internal/metrics"
	"github.com/sells-group/platter/internal/model"
	"github.com/sells-group/platter/internal/resilience"
	"github.com/sells-group/platter/internal/sitegen"
	"github.com/sells-group/platter/internal/slug"
	"github.com/sells-group/platter/internal/store"
)

// process takes one candidate from research to a card. Every failure
// degrades the card; nothing escapes, and the candidate always counts as
// completed.
func (r *run) process(ctx context.Context, p model.Place) {
	start := time.Now()
	outcome := metrics.OutcomeSaved
	var card *model.Card

	defer func() {
		if v := recover(); v != nil {
			r.log.Error("pipeline: candidate panicked",
				zap.String("business", p.Name),
				zap.Any("panic", v),
				zap.Stack("stack"),
			)
			r.logf("Unexpected error while processing %s", p.Name)
			outcome = metrics.OutcomePanic
		}
		r.svc.deps.Metrics.Candidate(outcome, time.Since(start))
		r.finishCandidate(card)
	}()

	log := r.log.With(zap.String("business", p.Name), zap.String("place_id", p.PlaceID))

	taskID, err := r.createTask(ctx, p)
	if err != nil {
		log.Warn("pipeline: research create failed", zap.Error(err))
		r.logf("Research failed for %s: %v", p.Name, err)
		outcome = metrics.OutcomeResearchFailed
		return
	}
	r.logf("Researching %s", p.Name)

	enr := r.poll(ctx, log, p, taskID)
	rec := buildRecord(p, enr, r.svc.newID(), r.svc.now())

	if finder := r.svc.deps.Assets; finder != nil {
		if m := finder.FindModel(ctx, assetHint(p, enr)); m != nil {
			rec.ModelURL = &m.URL
			log.Debug("pipeline: asset resolved", zap.String("asset_id", m.AssetID), zap.Bool("fallback", m.Fallback))
		}
	}

	stored, err := r.svc.deps.Store.InsertBusiness(ctx, rec)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		r.logf("Skipping %s: already saved", p.Name)
		outcome = metrics.OutcomeDuplicate
		return
	case err != nil:
		log.Error("pipeline: insert business", zap.Error(err))
		r.logf("Could not save %s: %v", p.Name, err)
		outcome = metrics.OutcomeStoreFailed
		rec.Sanitize()
	default:
		rec = *stored
	}

	card = &model.Card{Record: rec}
	if r.svc.deps.Sites == nil {
		r.logf("Saved %s", p.Name)
		return
	}

	deployStart := time.Now()
	out, err := resilience.ExecuteVal(ctx, r.svc.breaker, func(ctx context.Context) (*sitegen.Output, error) {
		return r.svc.deps.Sites.Deploy(ctx, rec)
	})
	r.svc.deps.Metrics.ExternalCall("sitegen", err, time.Since(deployStart))

	if out != nil && out.LiveURL3D != "" {
		card.Status = model.StatusDeployed
		card.LiveURL3D = out.LiveURL3D
		card.LiveURLClassic = out.LiveURLClassic
		card.LiveURL = out.LiveURL3D
		card.EmailDraft = out.EmailDraft
	}
	if err != nil {
		if out == nil {
			log.Warn("pipeline: site generation failed", zap.Error(err))
			r.logf("Site generation failed for %s: %v", p.Name, err)
			outcome = metrics.OutcomeGenerationFailed
			return
		}
		// Sites are live; only the bookkeeping failed.
		log.Warn("pipeline: record deployment", zap.Error(err))
	}
	if outcome == metrics.OutcomeSaved {
		outcome = metrics.OutcomeDeployed
	}
	r.logf("Deployed %s: %s", p.Name, card.LiveURL)
}

func (r *run) createTask(ctx context.Context, p model.Place) (string, error) {
	retry := r.svc.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("research_create", zap.String("business", p.Name))

	start := time.Now()
	id, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (string, error) {
		return r.svc.deps.Research.CreateTask(ctx, p.Name, p.Address)
	})
	r.svc.deps.Metrics.ExternalCall("research_create", err, time.Since(start))
	return id, err
}

// poll waits for the research result. On failure the editorial summary
// stands in for the description.
func (r *run) poll(ctx context.Context, log *zap.Logger, p model.Place, taskID string) model.Enrichment {
	start := time.Now()
	enr, err := r.svc.deps.Research.PollTask(ctx, taskID)
	r.svc.deps.Metrics.ExternalCall("research_poll", err, time.Since(start))

	if err != nil || enr == nil {
		log.Warn("pipeline: research poll failed", zap.String("task_id", taskID), zap.Error(err))
		r.logf("Research incomplete for %s, using the Google summary", p.Name)
		return model.Enrichment{Description: p.EditorialSummary}
	}
	if strings.TrimSpace(enr.Description) == "" {
		enr.Description = p.EditorialSummary
	}
	return *enr
}

// buildRecord merges discovery and research. Google's phone and hours win
// over research; research fills the gaps.
func buildRecord(p model.Place, e model.Enrichment, id string, now time.Time) model.Record {
	rec := model.Record{
		ID:               id,
		PlaceID:          p.PlaceID,
		Name:             p.Name,
		Address:          p.Address,
		Phone:            firstNonEmpty(p.Phone, e.Phone),
		Email:            e.Email,
		HasWebsite:       false,
		GoogleReviews:    p.ReviewCount,
		GoogleRating:     p.Rating,
		Style:            e.Style,
		Description:      e.Description,
		BusinessHours:    firstNonEmpty(p.OpeningHours, e.BusinessHours),
		SocialMediaLinks: e.SocialMediaLinks,
		ColorPalette:     e.ColorPalette,
		Slug:             slug.Make(p.Name),
		Status:           model.StatusPending,
		CreatedAt:        now.UTC(),
	}
	if rec.SocialMediaLinks == nil {
		rec.SocialMediaLinks = []string{}
	}
	return rec
}

// assetHint prefers the research keyword and falls back to the business
// name, whose words often name the trade.
func assetHint(p model.Place, e model.Enrichment) string {
	if e.ModelKeyword != nil && strings.TrimSpace(*e.ModelKeyword) != "" {
		return *e.ModelKeyword
	}
	return p.Name
}

func firstNonEmpty(primary string, fallback *string) *string {
	if s := strings.TrimSpace(primary); s != "" {
		return &s
	}
	if fallback != nil && strings.TrimSpace(*fallback) != "" {
		return fallback
	}
	return nil
}
