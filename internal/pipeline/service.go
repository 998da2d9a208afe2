// Package pipeline runs search sessions: discovery, research, asset lookup,
// persistence and site deployment for every business without a website.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/platter/internal/assets"
	"github.com/sells-group/platter/internal/metrics"
	"github.com/sells-group/platter/internal/model"
	"github.com/sells-group/platter/internal/query"
	"github.com/sells-group/platter/internal/research"
	"github.com/sells-group/platter/internal/resilience"
	"github.com/sells-group/platter/internal/session"
	"github.com/sells-group/platter/internal/sitegen"
	"github.com/sells-group/platter/internal/store"
	"github.com/sells-group/platter/pkg/google"
)

var (
	// ErrInvalidQuery is returned by Start for a blank query. No session is
	// created.
	ErrInvalidQuery = eris.New(query.ErrEmpty)
	// ErrSessionNotFound is returned for an unknown or expired session id.
	ErrSessionNotFound = eris.New("pipeline: search not found")
)

// AssetFinder resolves a 3D model for a keyword hint. It never fails; nil
// means no model.
type AssetFinder interface {
	FindModel(ctx context.Context, keyword string) *assets.Model
}

// Deployer generates and publishes the sites for a stored record.
type Deployer interface {
	Deploy(ctx context.Context, rec model.Record) (*sitegen.Output, error)
}

// SessionObserver is told about every session that reaches a terminal
// status. It receives a copy and must not block.
type SessionObserver interface {
	SessionFinished(s *session.Session)
}

// Config tunes a Service.
type Config struct {
	// Concurrency is how many candidates are processed at once.
	Concurrency        int
	MaxResults         int
	DefaultRadiusMiles int
	LocationBias       *google.Circle
	// DetailsPerSecond throttles place detail lookups. <= 0 disables it.
	DetailsPerSecond float64
	Retry            resilience.RetryConfig
	Breaker          resilience.CircuitBreakerConfig
}

// Deps are the collaborators of a Service. Assets and Sites may be nil,
// which disables asset lookup and site generation respectively.
type Deps struct {
	Places   google.Client
	Research research.Client
	Assets   AssetFinder
	Sites    Deployer
	Store    store.Store
	Sessions session.Registry
	Metrics  *metrics.Metrics
	Observer SessionObserver
}

// StatusView is what a caller sees when polling a session.
type StatusView struct {
	Status    session.Status     `json:"status"`
	Completed int                `json:"completed"`
	Total     int                `json:"total"`
	Logs      []session.LogEntry `json:"logs"`
}

// Service starts search sessions and answers status queries.
type Service struct {
	deps    Deps
	cfg     Config
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	now     func() time.Time
	newID   func() string

	// Runs are detached from the request that started them.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService wires a Service.
func NewService(deps Deps, cfg Config) *Service {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = google.DefaultMaxResults
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker = resilience.DefaultCircuitBreakerConfig()
	}
	limit := rate.Inf
	if cfg.DetailsPerSecond > 0 {
		limit = rate.Limit(cfg.DetailsPerSecond)
	}

	base, cancel := context.WithCancel(context.Background())
	return &Service{
		deps:    deps,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
		now:     time.Now,
		newID:   uuid.NewString,
		base:    base,
		cancel:  cancel,
	}
}

// Start validates q, registers a pending session and launches its run in
// the background. It returns as soon as the session is saved.
func (s *Service) Start(ctx context.Context, q string) (string, error) {
	if !query.Validate(q).Valid {
		return "", ErrInvalidQuery
	}

	sess := session.New(s.newID(), q, s.now())
	if err := s.deps.Sessions.Save(ctx, sess); err != nil {
		return "", eris.Wrap(err, "pipeline: save session")
	}
	s.deps.Metrics.SessionStarted()

	r := newRun(s, sess)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		r.execute(s.base)
	}()
	return sess.ID, nil
}

// Get returns a snapshot of the session.
func (s *Service) Get(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.deps.Sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, eris.Wrap(err, "pipeline: get session")
	}
	return sess, nil
}

// Status reports progress and the log entries strictly after since.
func (s *Service) Status(ctx context.Context, id string, since time.Time) (*StatusView, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		Status:    sess.Status,
		Completed: sess.Completed,
		Total:     sess.Total,
		Logs:      sess.LogsSince(since),
	}, nil
}

// Results returns the cards finished so far.
func (s *Service) Results(ctx context.Context, id string) ([]model.Card, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Businesses == nil {
		return []model.Card{}, nil
	}
	return sess.Businesses, nil
}

// Wait polls the session every interval until it is terminal or ctx ends.
func (s *Service) Wait(ctx context.Context, id string, every time.Duration) (*session.Session, error) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess.Status.Terminal() {
			return sess, nil
		}
		select {
		case <-ctx.Done():
			return sess, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown waits for running sessions to finish. When ctx ends first, the
// runs are cancelled and ctx's error is returned once they have unwound.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		zap.L().Warn("pipeline: cancelling running searches")
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// BreakerState exposes the site generation breaker for health reporting.
func (s *Service) BreakerState() resilience.CircuitState {
	return s.breaker.State()
}
