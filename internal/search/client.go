package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultPageSize       = 10
	defaultRequestTimeout = 20 * time.Second
	maxResponseBytes      = 4 * 1024 * 1024
)

type ClientOptions struct {
	Endpoint       string
	APIKey         string
	PageSize       int
	RatePerSecond  float64
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// Client talks to an external search API over JSON. The limiter spaces out
// requests so a long gather phase does not trip provider rate limits.
type Client struct {
	endpoint       string
	apiKey         string
	pageSize       int
	requestTimeout time.Duration
	httpClient     *http.Client
	limiter        *rate.Limiter
}

var _ Searcher = (*Client)(nil)

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("search endpoint is required")
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	ratePerSecond := opts.RatePerSecond
	if ratePerSecond <= 0 {
		ratePerSecond = 2
	}

	return &Client{
		endpoint:       opts.Endpoint,
		apiKey:         opts.APIKey,
		pageSize:       pageSize,
		requestTimeout: requestTimeout,
		httpClient:     httpClient,
		limiter:        rate.NewLimiter(rate.Limit(ratePerSecond), 1),
	}, nil
}

type searchRequest struct {
	Query    string `json:"query"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

func (c *Client) Search(ctx context.Context, query string, page int) ([]Hit, error) {
	if c == nil {
		return nil, fmt.Errorf("search client is not initialized")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(searchRequest{
		Query:    query,
		Page:     page,
		PageSize: c.pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search API status %d: %s", resp.StatusCode, truncateForError(body))
	}

	var decoded searchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]Hit, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if r.URL == "" {
			continue
		}
		hits = append(hits, Hit{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: r.Snippet,
			Query:   query,
		})
	}
	return hits, nil
}

// PageSize reports the configured page size so callers can detect a short
// page as end-of-results.
func (c *Client) PageSize() int {
	if c == nil {
		return 0
	}
	return c.pageSize
}

func truncateForError(body []byte) string {
	const limit = 200
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
