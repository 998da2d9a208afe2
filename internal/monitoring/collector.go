package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/platter/internal/model"
	"github.com/sells-group/platter/internal/resilience"
	"github.com/sells-group/platter/internal/session"
	"github.com/sells-group/platter/internal/store"
)

// maxSummaries caps the in-memory session window.
const maxSummaries = 1000

// MetricsSnapshot holds a point-in-time view of search health.
type MetricsSnapshot struct {
	// Sessions finished within the lookback window.
	SessionsTotal     int     `json:"sessions_total"`
	SessionsCompleted int     `json:"sessions_completed"`
	SessionsFailed    int     `json:"sessions_failed"`
	SessionFailRate   float64 `json:"session_fail_rate"`

	// Candidates processed by those sessions.
	Candidates     int     `json:"candidates"`
	Deployed       int     `json:"deployed"`
	DeployFailRate float64 `json:"deploy_fail_rate"`

	// Store totals.
	PendingBusinesses int `json:"pending_businesses"`
	SitesGenerated    int `json:"sites_generated"`

	BreakerOpen bool `json:"breaker_open"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// SessionSummary is what the collector keeps of a finished session.
type SessionSummary struct {
	ID         string
	Query      string
	Status     session.Status
	Candidates int
	Cards      int
	Deployed   int
	FinishedAt time.Time
}

// Summarize reduces a finished session to its counts.
func Summarize(s *session.Session) SessionSummary {
	sum := SessionSummary{
		ID:         s.ID,
		Query:      s.Query,
		Status:     s.Status,
		Candidates: s.Completed,
		Cards:      len(s.Businesses),
		FinishedAt: s.UpdatedAt,
	}
	for _, c := range s.Businesses {
		if c.Status == model.StatusDeployed {
			sum.Deployed++
		}
	}
	return sum
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithBreakerState reports the generation breaker in each snapshot.
func WithBreakerState(fn func() resilience.CircuitState) CollectorOption {
	return func(c *Collector) { c.breaker = fn }
}

// WithGeneration tells the collector that site generation is enabled, so
// undeployed candidates count against the deploy failure rate.
func WithGeneration(enabled bool) CollectorOption {
	return func(c *Collector) { c.generation = enabled }
}

// Collector gathers finished-session summaries and store totals. It
// implements pipeline.SessionObserver.
type Collector struct {
	store      store.Store
	breaker    func() resilience.CircuitState
	generation bool
	now        func() time.Time

	mu        sync.Mutex
	summaries []SessionSummary
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store, opts ...CollectorOption) *Collector {
	c := &Collector{store: st, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SessionFinished records a terminal session.
func (c *Collector) SessionFinished(s *session.Session) {
	if s == nil {
		return
	}
	sum := Summarize(s)
	if sum.FinishedAt.IsZero() {
		sum.FinishedAt = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = append(c.summaries, sum)
	if n := len(c.summaries); n > maxSummaries {
		c.summaries = append([]SessionSummary(nil), c.summaries[n-maxSummaries:]...)
	}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	c.mu.Lock()
	kept := c.summaries[:0]
	for _, s := range c.summaries {
		if s.FinishedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, s)

		snap.SessionsTotal++
		switch s.Status {
		case session.StatusCompleted:
			snap.SessionsCompleted++
		case session.StatusFailed:
			snap.SessionsFailed++
		}
		snap.Candidates += s.Candidates
		snap.Deployed += s.Deployed
	}
	c.summaries = kept
	c.mu.Unlock()

	if snap.SessionsTotal > 0 {
		snap.SessionFailRate = float64(snap.SessionsFailed) / float64(snap.SessionsTotal)
	}
	if c.generation && snap.Candidates > 0 {
		snap.DeployFailRate = float64(snap.Candidates-snap.Deployed) / float64(snap.Candidates)
	}
	if c.breaker != nil {
		snap.BreakerOpen = c.breaker() == resilience.CircuitOpen
	}

	if c.store != nil {
		recs, err := c.store.ListBusinesses(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list businesses")
		}
		for _, r := range recs {
			if r.Status == model.StatusPending {
				snap.PendingBusinesses++
			}
		}

		sites, err := c.store.ListSites(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list sites")
		}
		snap.SitesGenerated = len(sites)
	}

	return snap, nil
}
