// Package render triggers redeploys of a static site through a Render
// deploy hook URL.
package render

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/platter/internal/resilience"
)

// Client triggers deploys.
type Client interface {
	TriggerDeploy(ctx context.Context) (*Deploy, error)
}

// Deploy is the hook response body.
type Deploy struct {
	ID string `json:"id"`
}

type hookResponse struct {
	Deploy Deploy `json:"deploy"`
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	hookURL string
	http    *http.Client
}

// NewClient creates a client for the given deploy hook URL. The URL embeds
// its own secret, so no key is needed.
func NewClient(hookURL string, opts ...Option) Client {
	c := &httpClient{
		hookURL: hookURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) TriggerDeploy(ctx context.Context) (*Deploy, error) {
	if c.hookURL == "" {
		return nil, eris.New("render: deploy hook url is not set")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.hookURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "render: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "render: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "render: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := fmt.Errorf("render: deploy hook status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, eris.Wrap(statusErr, "render: trigger deploy")
	}

	var out hookResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, eris.Wrap(err, "render: unmarshal response")
		}
	}
	return &out.Deploy, nil
}
