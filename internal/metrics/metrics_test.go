package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	m := New()
	m.SessionStarted()
	m.SessionStarted()
	m.SessionFinished("completed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsFinished.WithLabelValues("completed")))
}

func TestCandidateAndCalls(t *testing.T) {
	m := New()
	m.Candidate(OutcomeDeployed, 3*time.Second)
	m.Candidate(OutcomeResearchFailed, time.Second)
	m.Candidate(OutcomeDeployed, time.Second)
	m.ExternalCall("google", nil, 100*time.Millisecond)
	m.ExternalCall("google", errors.New("x"), 100*time.Millisecond)
	m.StoreOp("mutate", "businesses.json", time.Millisecond)
	m.HTTPRequest("/api/search", "POST", 200)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Candidates.WithLabelValues(OutcomeDeployed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Candidates.WithLabelValues(OutcomeResearchFailed)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ExternalCalls))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StoreOps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/search", "POST", "200")))
}

func TestLLMUsage(t *testing.T) {
	m := New()
	m.LLMUsage("claude-sonnet-4-5", 1200, 8000, 0, 3000, 0.125)
	m.LLMUsage("claude-sonnet-4-5", 800, 2000, 500, 0, 0.05)

	assert.Equal(t, 2000.0, testutil.ToFloat64(m.LLMTokens.WithLabelValues("claude-sonnet-4-5", "input")))
	assert.Equal(t, 10000.0, testutil.ToFloat64(m.LLMTokens.WithLabelValues("claude-sonnet-4-5", "output")))
	assert.Equal(t, 500.0, testutil.ToFloat64(m.LLMTokens.WithLabelValues("claude-sonnet-4-5", "cache_write")))
	assert.Equal(t, 3000.0, testutil.ToFloat64(m.LLMTokens.WithLabelValues("claude-sonnet-4-5", "cache_read")))
	assert.InDelta(t, 0.175, testutil.ToFloat64(m.LLMCost.WithLabelValues("claude-sonnet-4-5")), 1e-9)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionStarted()
		m.SessionFinished("failed")
		m.Candidate(OutcomePanic, time.Second)
		m.ExternalCall("yutori", nil, time.Second)
		m.StoreOp("write", "generated.json", time.Second)
		m.HTTPRequest("/health", "GET", 200)
		m.LLMUsage("claude-sonnet-4-5", 1, 1, 0, 0, 0.01)
	})
	assert.NotNil(t, m.Handler())
}

func TestNewIsIsolated(t *testing.T) {
	// Separate registries mean repeated construction never collides.
	a, b := New(), New()
	a.SessionStarted()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.SessionsStarted))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SessionStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "platter_sessions_started_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}
