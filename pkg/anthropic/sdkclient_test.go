package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/platter/internal/resilience"
)

func newTestClient(baseURL string) *sdkClient {
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey("test-key"),
			option.WithBaseURL(baseURL),
			option.WithMaxRetries(0),
		),
	}
}

func messageJSON(w http.ResponseWriter, text, stop string, usage map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"id":          "msg_site_001",
		"type":        "message",
		"role":        "assistant",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"model":       "claude-sonnet-4-5-20250929",
		"stop_reason": stop,
		"usage":       usage,
	})
}

func TestSDKClient_Complete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 1)
		assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
		_, hasSystem := body["system"]
		assert.False(t, hasSystem)

		messageJSON(w, "<!DOCTYPE html><html></html>", "end_turn", map[string]any{
			"input_tokens":  10,
			"output_tokens": 5,
		})
	}))
	defer ts.Close()

	resp, err := newTestClient(ts.URL).Complete(context.Background(), Request{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		Prompt:    "Business name: Blue Door Cafe",
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_site_001", resp.ID)
	assert.Equal(t, "claude-sonnet-4-5-20250929", resp.Model)
	assert.Equal(t, "<!DOCTYPE html><html></html>", resp.Text)
	assert.False(t, resp.Truncated())
	assert.Equal(t, Usage{Input: 10, Output: 5}, resp.Usage)
}

func TestSDKClient_Complete_CachedSystemAndTemperature(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		system, ok := body["system"].([]any)
		require.True(t, ok)
		require.Len(t, system, 1)
		block := system[0].(map[string]any)
		assert.Equal(t, "You design landing pages.", block["text"])
		cc := block["cache_control"].(map[string]any)
		assert.Equal(t, "ephemeral", cc["type"])
		assert.Equal(t, "1h", cc["ttl"])
		assert.InDelta(t, 0.5, body["temperature"], 0.001)

		messageJSON(w, "<html>", "max_tokens", map[string]any{
			"input_tokens":                50,
			"output_tokens":               128,
			"cache_creation_input_tokens": 5000,
		})
	}))
	defer ts.Close()

	temp := 0.5
	resp, err := newTestClient(ts.URL).Complete(context.Background(), Request{
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   128,
		System:      "You design landing pages.",
		CacheSystem: true,
		Prompt:      "Business name: Bay Bait",
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.True(t, resp.Truncated())
	assert.Equal(t, int64(5000), resp.Usage.CacheWrite)
}

func TestSDKClient_Complete_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type":  "error",
			"error": map[string]any{"type": "api_error", "message": "Internal server error"},
		})
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Complete(context.Background(), Request{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		Prompt:    "Hello",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: complete")
}

func TestSDKClient_Complete_TransientStatus(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)) //nolint:errcheck
		}))

		_, err := newTestClient(ts.URL).Complete(context.Background(), Request{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 16,
			Prompt:    "hi",
		})
		ts.Close()

		require.Error(t, err)
		assert.True(t, resilience.IsTransient(err), "status %d", code)
	}
}

func TestSDKClient_Complete_BadRequestIsPermanent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)) //nolint:errcheck
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Complete(context.Background(), Request{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 16,
		Prompt:    "hi",
	})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}
