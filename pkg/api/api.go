// pkg/api/api.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valpere/ScrapeSentry/pkg/types"
)

// Client is a thin HTTP client for the ScrapeSentry REST API
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewClient creates an API client for the given base URL,
// e.g. "http://localhost:8080"
func NewClient(baseURL string) (*Client, error) {
	u, err := types.NewURL(baseURL)
	if err != nil {
		return nil, err
	}
	if !u.IsValid() {
		return nil, fmt.Errorf("base URL must include scheme and host: %s", baseURL)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// WithAuthToken attaches a Bearer token to every request
func (c *Client) WithAuthToken(token string) *Client {
	c.authToken = token
	return c
}

// WithHTTPClient replaces the underlying HTTP client
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// WithTimeout sets the per-request timeout
func (c *Client) WithTimeout(d types.Duration) *Client {
	if d > 0 {
		c.httpClient.Timeout = d.ToDuration()
	}
	return c
}

// Health fetches the aggregate health report. A degraded or unhealthy
// service still returns a report rather than an error.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, c.statusError(resp)
	}

	var health HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decoding health report: %w", err)
	}
	return &health, nil
}

// Executions lists recorded scraper runs, newest last
func (c *Client) Executions(ctx context.Context, filter ExecutionFilter) ([]ExecutionRecord, error) {
	query := url.Values{}
	if filter.ScraperName != "" {
		query.Set("scraper", filter.ScraperName)
	}
	if !filter.Since.IsZero() {
		query.Set("since", filter.Since.UTC().Format(time.RFC3339))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}

	var out ExecutionsResponse
	if err := c.get(ctx, "/api/v1/executions", query, &out); err != nil {
		return nil, err
	}
	return out.Executions, nil
}

// RecordExecution reports one scraper run. The server acknowledges with
// 202 Accepted; ingestion is best effort and never blocks the caller on
// storage.
func (c *Client) RecordExecution(ctx context.Context, rec ExecutionRecord) error {
	return c.post(ctx, "/api/v1/executions", rec, nil, http.StatusAccepted)
}

// Changes lists recorded structure change events, oldest first
func (c *Client) Changes(ctx context.Context, filter ChangeFilter) ([]ChangeEvent, error) {
	if filter.Severity != "" && !filter.Severity.IsValid() {
		return nil, fmt.Errorf("invalid severity filter: %s", filter.Severity)
	}

	query := url.Values{}
	if filter.URL != "" {
		query.Set("url", filter.URL)
	}
	if filter.Severity != "" {
		query.Set("severity", filter.Severity.String())
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}

	var out ChangesResponse
	if err := c.get(ctx, "/api/v1/changes", query, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// Patterns lists failure patterns from the most recent analysis pass
func (c *Client) Patterns(ctx context.Context, limit int) ([]FailurePattern, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var out PatternsResponse
	if err := c.get(ctx, "/api/v1/patterns", query, &out); err != nil {
		return nil, err
	}
	return out.Patterns, nil
}

// Stats fetches aggregate change activity for a trailing window
func (c *Client) Stats(ctx context.Context, windowDays int) (*StatsReport, error) {
	query := url.Values{}
	if windowDays > 0 {
		query.Set("days", strconv.Itoa(windowDays))
	}

	var out StatsReport
	if err := c.get(ctx, "/api/v1/stats", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Baselines lists the accepted baseline for every watched page
func (c *Client) Baselines(ctx context.Context) ([]BaselineSummary, error) {
	var out BaselinesResponse
	if err := c.get(ctx, "/api/v1/baselines", nil, &out); err != nil {
		return nil, err
	}
	return out.Baselines, nil
}

// Escalations lists pages parked for manual intervention
func (c *Client) Escalations(ctx context.Context) ([]string, error) {
	var out EscalationsResponse
	if err := c.get(ctx, "/api/v1/escalations", nil, &out); err != nil {
		return nil, err
	}
	return out.Escalations, nil
}

// Mappings lists adopted selector repairs, optionally for one page
func (c *Client) Mappings(ctx context.Context, pageURL string) ([]SelectorMapping, error) {
	query := url.Values{}
	if pageURL != "" {
		query.Set("url", pageURL)
	}

	var out MappingsResponse
	if err := c.get(ctx, "/api/v1/mappings", query, &out); err != nil {
		return nil, err
	}
	return out.Mappings, nil
}

// ResetBaseline rebuilds the baseline for one page from its configured
// selectors, clearing adopted mappings and any escalation
func (c *Client) ResetBaseline(ctx context.Context, pageURL string) (*ResetResponse, error) {
	var out ResetResponse
	if err := c.post(ctx, "/api/v1/baselines/reset", ResetRequest{URL: pageURL}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}, want int) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.statusError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// statusError turns a non-2xx response into an error, preferring the
// server's own message when the body carries one
func (c *Client) statusError(resp *http.Response) error {
	var apiErr ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
	}
	return fmt.Errorf("unexpected status %s", resp.Status)
}
