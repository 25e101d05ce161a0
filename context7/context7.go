// Package context7 is the client for the Context7 documentation API,
// used to enrich generated prompts with library docs.
package context7

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL = "https://context7.com/api/v1"
	// DefaultTimeout bounds each request.
	DefaultTimeout = 15 * time.Second

	docType      = "txt"
	sourceHeader = "litsync-server"
)

// APIError is a non-2xx or unparsable API response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("context7: %s (status %d)", e.Message, e.Status)
	}
	return "context7: " + e.Message
}

// RateLimitError is the 429 case, surfaced separately so callers can
// back off instead of failing the whole operation.
type RateLimitError struct {
	APIError
}

// SearchResult is one library hit.
type SearchResult struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Branch         string   `json:"branch"`
	LastUpdateDate string   `json:"lastUpdateDate"`
	State          string   `json:"state"`
	TotalTokens    int      `json:"totalTokens"`
	TotalSnippets  int      `json:"totalSnippets"`
	TotalPages     int      `json:"totalPages"`
	Stars          *int     `json:"stars,omitempty"`
	TrustScore     *float64 `json:"trustScore,omitempty"`
	Versions       []string `json:"versions,omitempty"`
}

// SearchResponse is the full search reply.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Error   string         `json:"error,omitempty"`
}

// Config for a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the docs API. Safe for concurrent use.
type Client struct {
	baseURL string
	hc      *http.Client
	logger  *slog.Logger
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		hc:      cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

// Search finds libraries matching query.
func (c *Client) Search(ctx context.Context, query string) (*SearchResponse, error) {
	body, status, err := c.get(ctx, "/search", url.Values{"query": {query}})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError(status)
	}

	var out SearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &APIError{Message: fmt.Sprintf("parse search response: %v", err)}
	}
	return &out, nil
}

// FetchOptions tunes a documentation fetch.
type FetchOptions struct {
	Tokens int
	Topic  string
}

// FetchDocumentation returns the documentation text for a library, or
// "" with a nil error when the library has none (404 or the API's
// empty-content sentinels).
func (c *Client) FetchDocumentation(ctx context.Context, libraryID string, opts FetchOptions) (string, error) {
	libraryID = strings.TrimLeft(libraryID, "/")

	params := url.Values{"type": {docType}}
	if opts.Tokens > 0 {
		params.Set("tokens", strconv.Itoa(opts.Tokens))
	}
	if opts.Topic != "" {
		params.Set("topic", opts.Topic)
	}

	body, status, err := c.get(ctx, "/"+libraryID, params)
	if err != nil {
		return "", err
	}
	switch {
	case status == http.StatusNotFound:
		c.logger.Warn("context7: documentation not found", "library_id", libraryID)
		return "", nil
	case status != http.StatusOK:
		return "", statusError(status)
	}

	text := string(body)
	switch strings.TrimSpace(text) {
	case "", "No content available", "No context data available":
		c.logger.Info("context7: empty documentation", "library_id", libraryID)
		return "", nil
	}
	return text, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, int, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("context7: build request: %w", err)
	}
	req.Header.Set("X-Context7-Source", sourceHeader)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("context7: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("context7: read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func statusError(status int) error {
	if status == http.StatusTooManyRequests {
		return &RateLimitError{APIError{
			Status:  status,
			Message: "rate limited due to too many requests",
		}}
	}
	return &APIError{Status: status, Message: "api request failed"}
}
