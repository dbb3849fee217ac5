// Package classifier is the HTTP client for the external text-classification
// service. Every operation posts a JSON request and strictly validates the
// JSON result against a schema; a malformed payload is returned as an error
// so the caller can apply its conservative fallback.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	schema "horse.fit/amscreen/schema"
)

const (
	DefaultRequestTimeout = 60 * time.Second
	maxResponseBytes      = 8 * 1024 * 1024
)

type TriageItem struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

type ConsolidateItem struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	Severity string `json:"severity"`
}

type Options struct {
	Endpoint       string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

type Client struct {
	endpoint       string
	apiKey         string
	model          string
	requestTimeout time.Duration
	httpClient     *http.Client
}

func NewClient(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("classifier endpoint is required")
	}
	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		endpoint:       opts.Endpoint,
		apiKey:         opts.APIKey,
		model:          opts.Model,
		requestTimeout: requestTimeout,
		httpClient:     httpClient,
	}, nil
}

type classifyRequest struct {
	Operation string `json:"operation"`
	Model     string `json:"model,omitempty"`
	Subject   string `json:"subject"`
	Query     string `json:"query,omitempty"`
	Items     any    `json:"items,omitempty"`
	Text      string `json:"text,omitempty"`
}

func (c *Client) Triage(ctx context.Context, items []TriageItem, subject string) (*schema.TriageResult, error) {
	raw, err := c.call(ctx, classifyRequest{
		Operation: "triage",
		Model:     c.model,
		Subject:   subject,
		Items:     items,
	})
	if err != nil {
		return nil, err
	}
	return schema.DecodeTriageResult(raw, len(items))
}

func (c *Client) GroupTitles(ctx context.Context, titles []string, subject string) ([][]int, error) {
	raw, err := c.call(ctx, classifyRequest{
		Operation: "group_titles",
		Model:     c.model,
		Subject:   subject,
		Items:     titles,
	})
	if err != nil {
		return nil, err
	}
	groups, err := schema.DecodeTitleGroups(raw, len(titles))
	if err != nil {
		return nil, err
	}
	return groups.Groups, nil
}

func (c *Client) ClusterIncidents(ctx context.Context, titles []string, subject string) ([][]int, []string, error) {
	raw, err := c.call(ctx, classifyRequest{
		Operation: "cluster_incidents",
		Model:     c.model,
		Subject:   subject,
		Items:     titles,
	})
	if err != nil {
		return nil, nil, err
	}
	result, err := schema.DecodeClusterResult(raw, len(titles))
	if err != nil {
		return nil, nil, err
	}
	return result.Groups, result.Labels, nil
}

func (c *Client) Analyze(ctx context.Context, text, subject, query string) (*schema.AnalyzeResult, error) {
	raw, err := c.call(ctx, classifyRequest{
		Operation: "analyze",
		Model:     c.model,
		Subject:   subject,
		Query:     query,
		Text:      text,
	})
	if err != nil {
		return nil, err
	}
	return schema.DecodeAnalyzeResult(raw)
}

func (c *Client) Consolidate(ctx context.Context, items []ConsolidateItem, subject string) (*schema.ConsolidateResult, error) {
	raw, err := c.call(ctx, classifyRequest{
		Operation: "consolidate",
		Model:     c.model,
		Subject:   subject,
		Items:     items,
	})
	if err != nil {
		return nil, err
	}
	return schema.DecodeConsolidateResult(raw, len(items))
}

func (c *Client) call(ctx context.Context, request classifyRequest) (json.RawMessage, error) {
	if c == nil {
		return nil, fmt.Errorf("classifier client is not initialized")
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", request.Operation, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", request.Operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute %s request: %w", request.Operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", request.Operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("classifier %s status %d", request.Operation, resp.StatusCode)
	}

	return json.RawMessage(body), nil
}
