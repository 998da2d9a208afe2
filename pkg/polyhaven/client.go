// Package polyhaven is a client for the Poly Haven public asset API.
package polyhaven

import (
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

const (
	defaultBaseURL   = "https://api.polyhaven.com"
	defaultUserAgent = "Platter-v1"
)

// Client lists Poly Haven models and resolves their downloadable files.
type Client interface {
	ListModels(ctx context.Context) (map[string]Asset, error)
	// GetFiles returns the glTF URL for an asset, preferring the 1k
	// resolution, or "" when none is published.
	GetFiles(ctx context.Context, assetID string) (string, error)
}

// Asset is a catalog entry from GET /assets.
type Asset struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
}

// Files is the subset of GET /files/{id} this package reads.
type Files struct {
	GLTF map[string]struct {
		GLTF *struct {
			URL string `json:"url"`
		} `json:"gltf"`
	} `json:"gltf"`
}

// GLTFURL returns the 1k glTF URL, else the 2k one, else "".
func (f *Files) GLTFURL() string {
	if f == nil {
		return ""
	}
	for _, res := range []string{"1k", "2k"} {
		if r, ok := f.GLTF[res]; ok && r.GLTF != nil && r.GLTF.URL != "" {
			return r.GLTF.URL
		}
	}
	return ""
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithUserAgent overrides the User-Agent header Poly Haven asks callers to set.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient creates a Poly Haven client. The API needs no key.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   defaultBaseURL,
		userAgent: defaultUserAgent,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) ListModels(ctx context.Context) (map[string]Asset, error) {
	body, status, err := c.get(ctx, "/assets?t=models")
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError("list models", status, body)
	}

	var assets map[string]Asset
	if err := json.Unmarshal(body, &assets); err != nil {
		return nil, eris.Wrap(err, "polyhaven: unmarshal assets")
	}
	return assets, nil
}

func (c *httpClient) GetFiles(ctx context.Context, assetID string) (string, error) {
	body, status, err := c.get(ctx, "/files/"+url.PathEscape(assetID))
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", nil
	}
	if status != http.StatusOK {
		return "", statusError("files "+assetID, status, body)
	}

	var files Files
	if err := json.Unmarshal(body, &files); err != nil {
		return "", eris.Wrapf(err, "polyhaven: unmarshal files %s", assetID)
	}
	return files.GLTFURL(), nil
}

func (c *httpClient) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "polyhaven: create request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "polyhaven: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, eris.Wrap(err, "polyhaven: read response")
	}
	return body, resp.StatusCode, nil
}

func statusError(op string, status int, body []byte) error {
	err := fmt.Errorf("polyhaven: %s: unexpected status %d: %s", op, status, string(body))
	if resilience.IsTransientHTTPStatus(status) {
		return resilience.NewTransientError(err, status)
	}
	return eris.Wrap(err, "polyhaven")
}
