package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/platter/internal/dedupe"
	"github.com/sells-group/platter/internal/model"
	"github.com/sells-group/platter/internal/query"
	"github.com/sells-group/platter/internal/resilience"
	"github.com/sells-group/platter/internal/session"
	"github.com/sells-group/platter/pkg/google"
)

// run owns one session for its whole lifetime. Every mutation goes through
// mu and is followed by a snapshot save.
type run struct {
	svc  *Service
	log  *zap.Logger
	mu   sync.Mutex
	sess *session.Session
}

func newRun(svc *Service, sess *session.Session) *run {
	return &run{
		svc:  svc,
		sess: sess,
		log:  zap.L().With(zap.String("search_id", sess.ID)),
	}
}

// mutate applies fn under the lock and saves the result.
func (r *run) mutate(fn func(s *session.Session, now time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.sess, r.svc.now())
	r.saveLocked()
}

func (r *run) saveLocked() {
	// The caller's context may be gone; snapshots must still land.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.svc.deps.Sessions.Save(ctx, r.sess.Clone()); err != nil {
		r.log.Warn("pipeline: save session", zap.Error(err))
	}
}

func (r *run) logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.mutate(func(s *session.Session, now time.Time) {
		s.Log(now, msg)
	})
	r.log.Info(msg)
}

// finishSession moves the session to a terminal status once.
func (r *run) finishSession(to session.Status, msg string) {
	var final *session.Session
	r.mutate(func(s *session.Session, now time.Time) {
		if s.Status.Terminal() {
			return
		}
		s.Log(now, msg)
		if err := s.Transition(to, now); err != nil {
			r.log.Error("pipeline: finish session", zap.Error(err))
			return
		}
		r.svc.deps.Metrics.SessionFinished(string(to))
		final = s.Clone()
	})
	if final == nil {
		return
	}
	r.log.Info(msg, zap.String("status", string(to)))
	if obs := r.svc.deps.Observer; obs != nil {
		obs.SessionFinished(final)
	}
}

// finishCandidate counts one candidate as done and completes the session
// when it was the last one.
func (r *run) finishCandidate(card *model.Card) {
	var done bool
	r.mutate(func(s *session.Session, now time.Time) {
		done = s.Finish(card, now)
	})
	if done {
		r.finishSession(session.StatusCompleted, fmt.Sprintf("Search complete: %d businesses processed", r.total()))
	}
}

func (r *run) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.Total
}

func (r *run) execute(ctx context.Context) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("pipeline: run panicked", zap.Any("panic", v), zap.Stack("stack"))
			r.finishSession(session.StatusFailed, fmt.Sprintf("Search failed: %v", v))
		}
	}()

	var transitioned bool
	r.mutate(func(s *session.Session, now time.Time) {
		if err := s.Transition(session.StatusProcessing, now); err != nil {
			r.log.Error("pipeline: start session", zap.Error(err))
			return
		}
		transitioned = true
		s.Log(now, fmt.Sprintf("Searching for %q", s.Query))
	})
	if !transitioned {
		return
	}

	places, err := r.search(ctx)
	if err != nil {
		r.log.Error("pipeline: discovery failed", zap.Error(err))
		r.finishSession(session.StatusFailed, fmt.Sprintf("Search failed: %v", err))
		return
	}
	r.logf("Found %d places", len(places))

	candidates := r.details(ctx, places)
	candidates = r.dropKnown(ctx, candidates)

	r.mutate(func(s *session.Session, now time.Time) {
		s.SetTotal(len(candidates), now)
	})
	if len(candidates) == 0 {
		r.finishSession(session.StatusCompleted, "No new businesses without a website found")
		return
	}
	r.logf("Processing %d businesses without a website", len(candidates))

	var g errgroup.Group
	g.SetLimit(r.svc.cfg.Concurrency)
	for _, p := range candidates {
		g.Go(func() error {
			r.process(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *run) search(ctx context.Context) ([]google.Place, error) {
	cfg := r.svc.cfg
	q := query.WithDefaultRadius(r.sess.Query, cfg.DefaultRadiusMiles)
	opts := google.SearchOptions{LocationBias: cfg.LocationBias}

	retry := cfg.Retry
	retry.OnRetry = resilience.RetryLogger("text_search", zap.String("search_id", r.sess.ID))

	// partial keeps the longest prefix of pages fetched before a failure.
	var partial []google.Place
	start := time.Now()
	places, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]google.Place, error) {
		got, err := google.TextSearchAllPages(ctx, r.svc.deps.Places, q, opts, cfg.MaxResults)
		if len(got) > len(partial) {
			partial = got
		}
		return got, err
	})
	r.svc.deps.Metrics.ExternalCall("google_search", err, time.Since(start))
	if err != nil && len(partial) > 0 && ctx.Err() == nil {
		r.log.Warn("pipeline: text search stopped early", zap.Int("places", len(partial)), zap.Error(err))
		r.logf("Search stopped after %d results: %v", len(partial), err)
		return partial, nil
	}
	return places, err
}

// details looks up every place and keeps those without a website.
func (r *run) details(ctx context.Context, places []google.Place) []model.Place {
	retry := r.svc.cfg.Retry
	out := make([]model.Place, 0, len(places))
	for _, ref := range places {
		if err := r.svc.limiter.Wait(ctx); err != nil {
			r.log.Warn("pipeline: details limiter", zap.Error(err))
			break
		}

		start := time.Now()
		d, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*google.PlaceDetails, error) {
			return r.svc.deps.Places.GetDetails(ctx, ref.ID)
		})
		r.svc.deps.Metrics.ExternalCall("google_details", err, time.Since(start))
		if err != nil {
			r.logf("Could not load details for %s: %v", nameOf(ref, nil), err)
			continue
		}
		if d == nil {
			continue
		}
		if d.WebsiteURI != "" {
			r.logf("Skipping %s: already has a website", nameOf(ref, d))
			continue
		}
		out = append(out, toPlace(ref, d))
	}
	return out
}

// dropKnown filters candidates whose name and address are already stored.
func (r *run) dropKnown(ctx context.Context, candidates []model.Place) []model.Place {
	existing, err := r.svc.deps.Store.ListBusinesses(ctx)
	if err != nil {
		r.log.Warn("pipeline: list businesses", zap.Error(err))
		existing = nil
	}

	out := candidates[:0]
	for _, p := range candidates {
		if dedupe.AlreadyExists(existing, p.Name, p.Address) {
			continue
		}
		out = append(out, p)
	}
	if removed := len(candidates) - len(out); removed > 0 {
		r.logf("Skipped %d businesses already saved", removed)
	}
	return out
}

func nameOf(ref google.Place, d *google.PlaceDetails) string {
	if d != nil && d.DisplayName.Text != "" {
		return d.DisplayName.Text
	}
	if ref.DisplayName.Text != "" {
		return ref.DisplayName.Text
	}
	return "Unknown"
}

func toPlace(ref google.Place, d *google.PlaceDetails) model.Place {
	id := d.ID
	if id == "" {
		id = ref.ID
	}
	return model.Place{
		PlaceID:          id,
		Name:             nameOf(ref, d),
		Address:          d.FormattedAddress,
		Phone:            d.NationalPhoneNumber,
		Website:          d.WebsiteURI,
		Rating:           d.Rating,
		ReviewCount:      d.UserRatingCount,
		EditorialSummary: d.Summary(),
		OpeningHours:     d.Hours(),
	}
}
