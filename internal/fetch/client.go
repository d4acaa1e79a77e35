// internal/fetch/client.go

// Package fetch retrieves tracked pages with bounded timeouts, bounded
// retries, and per-host rate limiting.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/config"
	"github.com/valpere/ScrapeSentry/internal/utils"
)

// Fetcher is the page-fetch capability consumed by the structure engine.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*internal.PageResult, error)
}

// Client fetches pages over plain HTTP. JS-heavy targets use the
// chromedp-backed BrowserFetcher instead.
type Client struct {
	httpClient *http.Client
	limiter    *utils.HostLimiter
	retry      utils.RetryPolicy
	userAgents []string
	uaIndex    atomic.Uint32
	logger     utils.Logger
}

// NewClient creates a Client from fetch configuration.
func NewClient(cfg config.FetchConfig) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	retry := utils.DefaultRetryPolicy()
	retry.MaxRetries = cfg.MaxRetries

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout(),
		},
		limiter:    utils.NewHostLimiter(cfg.RateLimit, cfg.Burst),
		retry:      retry,
		userAgents: cfg.UserAgents,
		logger:     utils.NewComponentLogger("fetch"),
	}
}

// WithRetryPolicy overrides the retry schedule, primarily for tests.
func (c *Client) WithRetryPolicy(policy utils.RetryPolicy) *Client {
	c.retry = policy
	return c
}

// Fetch retrieves one page. Transient failures (network errors, 5xx, 429)
// are retried per the policy; exhaustion surfaces as TRANSIENT_FETCH.
// Other non-2xx statuses fail immediately as FETCH_DENIED.
func (c *Client) Fetch(ctx context.Context, pageURL string) (*internal.PageResult, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, utils.NewError(utils.ErrCodeConfig, "invalid url").
			WithCause(err).WithContext("url", pageURL).Build()
	}

	if err := c.limiter.Wait(ctx, parsed.Host); err != nil {
		return nil, err
	}

	var result *internal.PageResult
	err = c.retry.Execute(ctx, "fetch "+parsed.Host, func(ctx context.Context) error {
		var attemptErr error
		result, attemptErr = c.fetchOnce(ctx, pageURL)
		return attemptErr
	})
	if err != nil {
		c.logger.WithField("url", pageURL).Warnf("fetch failed: %v", err)
		return nil, err
	}
	return result, nil
}

func (c *Client) fetchOnce(ctx context.Context, pageURL string) (*internal.PageResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, utils.NewError(utils.ErrCodeConfig, "build request").
			WithCause(err).WithContext("url", pageURL).Build()
	}
	req.Header.Set("User-Agent", c.nextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, utils.NewTransientFetchError(pageURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, utils.NewTransientFetchError(pageURL, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, utils.NewError(utils.ErrCodeTransientFetch,
			fmt.Sprintf("server returned %s", resp.Status)).
			WithContext("url", pageURL).
			WithContext("status", resp.StatusCode).
			WithRetryable(true).
			Build()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, utils.NewError(utils.ErrCodeFetchDenied,
			fmt.Sprintf("server returned %s", resp.Status)).
			WithContext("url", pageURL).
			WithContext("status", resp.StatusCode).
			Build()
	}

	return &internal.PageResult{
		URL:        pageURL,
		StatusCode: resp.StatusCode,
		HTML:       string(body),
		FetchedAt:  start.UTC(),
		Duration:   time.Since(start),
	}, nil
}

// nextUserAgent rotates through the configured user agents.
func (c *Client) nextUserAgent() string {
	if len(c.userAgents) == 0 {
		return "ScrapeSentry/1.0"
	}
	idx := c.uaIndex.Add(1) - 1
	return c.userAgents[int(idx)%len(c.userAgents)]
}

// NewFetcher builds the fetcher the configuration asks for: the rendered
// browser session when enabled, the plain HTTP client otherwise.
func NewFetcher(cfg config.FetchConfig) Fetcher {
	if cfg.Browser.Enabled {
		return NewBrowserFetcher(cfg)
	}
	return NewClient(cfg)
}
