package yutori

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/platter/internal/resilience"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestCreateTask(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/research/tasks", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req CreateTaskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "find Luxe Nails", req.Query)

		json.NewEncoder(w).Encode(CreateTaskResponse{TaskID: "task-1"})
	})

	resp, err := c.CreateTask(context.Background(), CreateTaskRequest{Query: "find Luxe Nails"})
	require.NoError(t, err)
	assert.Equal(t, "task-1", resp.TaskID)
}

func TestCreateTask_EmptyID(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	_, err := c.CreateTask(context.Background(), CreateTaskRequest{Query: "q"})
	assert.Error(t, err)
}

func TestCreateTask_Errors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{"unauthorized", http.StatusUnauthorized, false},
		{"bad request", http.StatusBadRequest, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":"nope"}`))
			})
			_, err := c.CreateTask(context.Background(), CreateTaskRequest{Query: "q"})
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, resilience.IsTransient(err))

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestGetTask(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/research/tasks/task-1", r.URL.Path)
		json.NewEncoder(w).Encode(Task{TaskID: "task-1", Status: StatusSucceeded, Result: "Email: a@b.co"})
	})

	task, err := c.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.True(t, task.Terminal())
	assert.Equal(t, "Email: a@b.co", task.Result)
}

func TestGetTask_BadJSON(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})
	_, err := c.GetTask(context.Background(), "x")
	assert.Error(t, err)
}
