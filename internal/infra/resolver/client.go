// Package resolver provides a client for the stream resolver service.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/arai051/tunebox/internal/domain/media"
)

// ErrServiceError means the resolver answered with a server-side
// failure. Stale upstream credentials are the usual cause.
var ErrServiceError = errors.New("resolver service error")

// Client is a resolver service client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config represents resolver client configuration.
type Config struct {
	URL     string
	Timeout time.Duration
}

// SearchResult represents one entry of a search response.
type SearchResult struct {
	Title     string  `json:"title"`
	Uploader  string  `json:"uploader"`
	URL       string  `json:"url"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}

// resolveResponse is the resolver's wire format. Older deployments
// answer streamUrl instead of audioUrl.
type resolveResponse struct {
	Title     string  `json:"title"`
	Thumbnail string  `json:"thumbnail"`
	AudioURL  string  `json:"audioUrl"`
	StreamURL string  `json:"streamUrl"`
	Duration  float64 `json:"duration"`
	Source    string  `json:"source"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

// New creates a new resolver client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("resolver URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 35 * time.Second
	}
	return &Client{
		baseURL:    cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Resolve asks the resolver to turn a page URL into a playable stream.
func (c *Client) Resolve(ctx context.Context, mediaURL string) (*media.Resolved, error) {
	if mediaURL == "" {
		return nil, errors.New("media URL is required")
	}

	body, err := c.post(ctx, map[string]string{"url": mediaURL})
	if err != nil {
		return nil, err
	}

	var response resolveResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, "failed to parse response")
	}

	streamURL := response.AudioURL
	if streamURL == "" {
		streamURL = response.StreamURL
	}
	if streamURL == "" {
		return nil, errors.New("resolver response carries no stream URL")
	}

	zlog.Debug().Str("title", response.Title).Str("source", response.Source).Msg("Resolved media URL")

	return &media.Resolved{
		Title:     response.Title,
		Thumbnail: response.Thumbnail,
		StreamURL: streamURL,
		Duration:  response.Duration,
		Source:    response.Source,
	}, nil
}

// Search asks the resolver's search variant for track candidates.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if query == "" {
		return nil, errors.New("search query is required")
	}

	body, err := c.post(ctx, map[string]string{"query": query})
	if err != nil {
		return nil, err
	}

	var response searchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, "failed to parse response")
	}
	return response.Results, nil
}

// post sends a JSON payload and classifies the response status: 5xx
// wraps ErrServiceError, other non-200 is a plain error.
func (c *Client) post(ctx context.Context, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, errors.Wrapf(ErrServiceError, "resolver returned %d: %s", resp.StatusCode, snippet(body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("resolver returned %d: %s", resp.StatusCode, snippet(body))
	}
	return body, nil
}

// SuggestsStaleCredentials reports whether a resolution failure looks
// like the resolver's upstream credentials went stale: server-side
// failures and transport-level errors rather than anything about the
// submitted URL itself.
func SuggestsStaleCredentials(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrServiceError) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
