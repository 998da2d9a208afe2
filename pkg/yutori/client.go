// Package yutori is a client for the Yutori asynchronous research API.
package yutori

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/platter/internal/resilience"
)

const defaultBaseURL = "https://api.yutori.com/v1"

// Task statuses reported by GET /research/tasks/{id}.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client defines the Yutori research operations.
type Client interface {
	CreateTask(ctx context.Context, req CreateTaskRequest) (*CreateTaskResponse, error)
	GetTask(ctx context.Context, id string) (*Task, error)
}

// CreateTaskRequest is the body for POST /research/tasks.
type CreateTaskRequest struct {
	Query string `json:"query"`
	// OutputFormat asks for labeled plain-text lines.
	OutputFormat string `json:"output_format,omitempty"`
}

// CreateTaskResponse is the response from POST /research/tasks.
type CreateTaskResponse struct {
	TaskID string `json:"task_id"`
}

// Task is the response from GET /research/tasks/{id}.
type Task struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Terminal reports whether the task will not change again.
func (t *Task) Terminal() bool {
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}

// APIError is returned when Yutori responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("yutori: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Yutori client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) CreateTask(ctx context.Context, req CreateTaskRequest) (*CreateTaskResponse, error) {
	var resp CreateTaskResponse
	if err := c.send(ctx, http.MethodPost, "/research/tasks", req, &resp); err != nil {
		return nil, eris.Wrap(err, "yutori: create task")
	}
	if resp.TaskID == "" {
		return nil, eris.New("yutori: create task: empty task_id")
	}
	return &resp, nil
}

func (c *httpClient) GetTask(ctx context.Context, id string) (*Task, error) {
	var resp Task
	if err := c.send(ctx, http.MethodGet, "/research/tasks/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "yutori: get task %s", id)
	}
	return &resp, nil
}

func (c *httpClient) send(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
