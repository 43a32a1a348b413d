// Package search queries a SearXNG instance for live web results, used to
// supplement the local index when it has little to say about a question.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veillehq/veille/internal/security"
)

// ErrDisabled is returned when no SearXNG instance is configured.
var ErrDisabled = errors.New("search: no searxng instance configured")

// maxResponseBytes caps a search response body.
const maxResponseBytes = 2 * 1024 * 1024

// Result is one web search hit.
type Result struct {
	URL     string
	Title   string
	Snippet string
	Engine  string
	Score   float64
}

// Client queries the SearXNG JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	validator  *security.URL
	logger     *slog.Logger
}

// New creates a Client for the given SearXNG base URL. An empty baseURL
// yields a disabled client whose Search always returns ErrDisabled.
func New(baseURL string, validator *security.URL, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: validator.SafeClient(15 * time.Second),
		validator:  validator,
		logger:     logger,
	}
}

// Enabled reports whether a SearXNG instance is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// searxngResponse mirrors the fields we use from the SearXNG JSON API.
type searxngResponse struct {
	Results []struct {
		URL     string  `json:"url"`
		Title   string  `json:"title"`
		Content string  `json:"content"`
		Engine  string  `json:"engine"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search runs one query and returns up to limit results. Result URLs that
// fail SSRF validation are dropped; they may be fetched later.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	endpoint := c.baseURL + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searching %q: unexpected status %d", query, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}

	var parsed searxngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]Result, 0, min(limit, len(parsed.Results)))
	for _, r := range parsed.Results {
		if len(results) >= limit {
			break
		}
		if err := c.validator.Validate(r.URL); err != nil {
			c.logger.Warn("dropping unsafe search result", "url", r.URL, "error", err)
			continue
		}
		results = append(results, Result{
			URL:     r.URL,
			Title:   strings.TrimSpace(r.Title),
			Snippet: strings.TrimSpace(r.Content),
			Engine:  r.Engine,
			Score:   r.Score,
		})
	}

	c.logger.Debug("web search completed", "query_len", len(query), "results", len(results))
	return results, nil
}
