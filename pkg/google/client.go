// Package google is a client for the Google Places API (New), covering text
// search with pagination and per-place detail lookups.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/platter/internal/resilience"
)

const (
	defaultBaseURL = "https://places.googleapis.com/v1"

	// DefaultMaxResults is the most results Text Search will page through.
	DefaultMaxResults = 60

	searchFieldMask  = "places.id,places.displayName,nextPageToken"
	detailsFieldMask = "id,displayName,formattedAddress,nationalPhoneNumber,websiteUri,rating,userRatingCount,editorialSummary,regularOpeningHours"
)

// ErrRequestDenied is returned when the API rejects the key or project.
var ErrRequestDenied = eris.New("google: request denied")

// Client performs Google Places API operations.
type Client interface {
	TextSearch(ctx context.Context, query string, opts SearchOptions) (*TextSearchResponse, error)
	GetDetails(ctx context.Context, placeID string) (*PlaceDetails, error)
}

// SearchOptions tunes a single Text Search page.
type SearchOptions struct {
	PageToken    string
	PageSize     int
	LocationBias *Circle
}

// Circle biases results toward a point.
type Circle struct {
	Lat          float64
	Lng          float64
	RadiusMeters float64
}

// TextSearchResponse is one page of Places Text Search results.
type TextSearchResponse struct {
	Places        []Place `json:"places"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// Place is a search hit: just enough to fetch details.
type Place struct {
	ID          string      `json:"id"`
	DisplayName DisplayName `json:"displayName"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// PlaceDetails is the detail record for a single place.
type PlaceDetails struct {
	ID                  string        `json:"id"`
	DisplayName         DisplayName   `json:"displayName"`
	FormattedAddress    string        `json:"formattedAddress"`
	NationalPhoneNumber string        `json:"nationalPhoneNumber"`
	WebsiteURI          string        `json:"websiteUri"`
	Rating              *float64      `json:"rating,omitempty"`
	UserRatingCount     int           `json:"userRatingCount"`
	EditorialSummary    *LocalText    `json:"editorialSummary,omitempty"`
	RegularOpeningHours *OpeningHours `json:"regularOpeningHours,omitempty"`
}

// LocalText is a localized string.
type LocalText struct {
	Text string `json:"text"`
}

// OpeningHours carries the human-readable weekly schedule.
type OpeningHours struct {
	WeekdayDescriptions []string `json:"weekdayDescriptions"`
}

// Summary returns the editorial summary text, or "".
func (d *PlaceDetails) Summary() string {
	if d == nil || d.EditorialSummary == nil {
		return ""
	}
	return d.EditorialSummary.Text
}

// Hours joins the weekday descriptions with "; ", or returns "".
func (d *PlaceDetails) Hours() string {
	if d == nil || d.RegularOpeningHours == nil {
		return ""
	}
	return strings.Join(d.RegularOpeningHours.WeekdayDescriptions, "; ")
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

// WithHTTPClient overrides the default http.Client.
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

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type textSearchRequest struct {
	TextQuery    string        `json:"textQuery"`
	PageSize     int           `json:"pageSize,omitempty"`
	PageToken    string        `json:"pageToken,omitempty"`
	LocationBias *locationBias `json:"locationBias,omitempty"`
}

type locationBias struct {
	Circle circle `json:"circle"`
}

type circle struct {
	Center latLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c *httpClient) TextSearch(ctx context.Context, query string, opts SearchOptions) (*TextSearchResponse, error) {
	in := textSearchRequest{
		TextQuery: query,
		PageSize:  opts.PageSize,
		PageToken: opts.PageToken,
	}
	if b := opts.LocationBias; b != nil {
		in.LocationBias = &locationBias{Circle: circle{
			Center: latLng{Latitude: b.Lat, Longitude: b.Lng},
			Radius: b.RadiusMeters,
		}}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, status, err := c.do(req, searchFieldMask)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError("text search", status, respBody)
	}

	var result TextSearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "google: unmarshal response")
	}
	return &result, nil
}

// GetDetails fetches a place by id. A place the API does not know returns
// (nil, nil).
func (c *httpClient) GetDetails(ctx context.Context, placeID string) (*PlaceDetails, error) {
	if placeID == "" {
		return nil, eris.New("google: empty place id")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/places/"+url.PathEscape(placeID), nil)
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}

	respBody, status, err := c.do(req, detailsFieldMask)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, statusError("details "+placeID, status, respBody)
	}

	var result PlaceDetails
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "google: unmarshal details")
	}
	return &result, nil
}

func (c *httpClient) do(req *http.Request, fieldMask string) ([]byte, int, error) {
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, eris.Wrap(err, "google: read response")
	}
	return respBody, resp.StatusCode, nil
}

func statusError(op string, status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return eris.Wrapf(ErrRequestDenied, "google: %s: status %d: %s", op, status, string(body))
	case resilience.IsTransientHTTPStatus(status):
		return resilience.NewTransientError(fmt.Errorf("google: %s: status %d: %s", op, status, string(body)), status)
	default:
		return eris.Errorf("google: %s: unexpected status %d: %s", op, status, string(body))
	}
}

// TextSearchAllPages follows nextPageToken until the results run out or
// maxResults unique places are collected. maxResults <= 0 means
// DefaultMaxResults.
func TextSearchAllPages(ctx context.Context, c Client, query string, opts SearchOptions, maxResults int) ([]Place, error) {
	if maxResults <= 0 || maxResults > DefaultMaxResults {
		maxResults = DefaultMaxResults
	}

	seen := make(map[string]struct{})
	var out []Place
	opts.PageToken = ""
	for {
		page, err := c.TextSearch(ctx, query, opts)
		if err != nil {
			return out, err
		}
		for _, p := range page.Places {
			if p.ID == "" {
				continue
			}
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
			if len(out) >= maxResults {
				return out, nil
			}
		}
		if page.NextPageToken == "" || page.NextPageToken == opts.PageToken {
			return out, nil
		}
		opts.PageToken = page.NextPageToken
	}
}
