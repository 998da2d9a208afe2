// Package metrics defines the Prometheus instruments exported at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "platter"

// Candidate outcomes.
const (
	OutcomeDeployed         = "deployed"
	OutcomeSaved            = "saved"
	OutcomeDuplicate        = "duplicate"
	OutcomeResearchFailed   = "research_failed"
	OutcomeGenerationFailed = "generation_failed"
	OutcomeStoreFailed      = "store_failed"
	OutcomePanic            = "panic"
)

// Metrics holds every instrument. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted   prometheus.Counter
	SessionsFinished  *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
	Candidates        *prometheus.CounterVec
	CandidateDuration prometheus.Histogram
	ExternalCalls     *prometheus.HistogramVec
	StoreOps          *prometheus.HistogramVec
	HTTPRequests      *prometheus.CounterVec
	LLMTokens         *prometheus.CounterVec
	LLMCost           *prometheus.CounterVec
}

// New registers all instruments on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Search sessions accepted.",
		}),
		SessionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Search sessions that reached a terminal status.",
		}, []string{"status"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently running.",
		}),
		Candidates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Candidates processed, by outcome.",
		}, []string{"outcome"}),
		CandidateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidate_duration_seconds",
			Help:      "Wall time to research, generate and deploy one candidate.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		ExternalCalls: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_duration_seconds",
			Help:      "Latency of calls to upstream services.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "result"}),
		StoreOps: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_op_duration_seconds",
			Help:      "Time spent holding a data file lock, queue wait included.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op", "resource"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route pattern, method and status code.",
		}, []string{"route", "method", "code"}),
		LLMTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by site generation, by model and kind.",
		}, []string{"model", "kind"}),
		LLMCost: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Estimated site generation spend in US dollars.",
		}, []string{"model"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// SessionStarted records a new running session.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// SessionFinished records a session reaching status.
func (m *Metrics) SessionFinished(status string) {
	if m == nil {
		return
	}
	m.SessionsFinished.WithLabelValues(status).Inc()
	m.ActiveSessions.Dec()
}

// Candidate records one processed candidate.
func (m *Metrics) Candidate(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Candidates.WithLabelValues(outcome).Inc()
	m.CandidateDuration.Observe(d.Seconds())
}

// ExternalCall records the latency of one upstream call.
func (m *Metrics) ExternalCall(service string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ExternalCalls.WithLabelValues(service, result).Observe(d.Seconds())
}

// StoreOp matches the jsonstore observer signature.
func (m *Metrics) StoreOp(op, resource string, d time.Duration) {
	if m == nil {
		return
	}
	m.StoreOps.WithLabelValues(op, resource).Observe(d.Seconds())
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(route, method string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}

// LLMUsage records the tokens and estimated cost of one generation call.
func (m *Metrics) LLMUsage(model string, input, output, cacheWrite, cacheRead int64, costUSD float64) {
	if m == nil {
		return
	}
	for kind, n := range map[string]int64{
		"input":       input,
		"output":      output,
		"cache_write": cacheWrite,
		"cache_read":  cacheRead,
	} {
		if n > 0 {
			m.LLMTokens.WithLabelValues(model, kind).Add(float64(n))
		}
	}
	if costUSD > 0 {
		m.LLMCost.WithLabelValues(model).Add(costUSD)
	}
}
