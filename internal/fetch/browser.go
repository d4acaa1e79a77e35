// internal/fetch/browser.go

package fetch

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/valpere/ScrapeSentry/internal"
	"github.com/valpere/ScrapeSentry/internal/config"
	"github.com/valpere/ScrapeSentry/internal/utils"
)

// BrowserFetcher renders pages in headless Chrome before capturing the
// DOM. Use it for targets that assemble their markup with JavaScript;
// the plain Client is cheaper for static pages.
type BrowserFetcher struct {
	allocOpts []chromedp.ExecAllocatorOption
	timeout   time.Duration
	waitExtra time.Duration
	logger    utils.Logger
}

// NewBrowserFetcher creates a BrowserFetcher from fetch configuration.
func NewBrowserFetcher(cfg config.FetchConfig) *BrowserFetcher {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Browser.IsHeadless()),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
	)
	if len(cfg.UserAgents) > 0 {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgents[0]))
	}

	waitExtra := time.Duration(cfg.Browser.WaitSeconds) * time.Second

	return &BrowserFetcher{
		allocOpts: opts,
		timeout:   cfg.Timeout(),
		waitExtra: waitExtra,
		logger:    utils.NewComponentLogger("browser"),
	}
}

// Fetch navigates to the page, waits for the document to settle, and
// returns the rendered markup. Chrome does not expose the navigation
// status code through this path, so a successful render reports 200.
func (b *BrowserFetcher) Fetch(ctx context.Context, pageURL string) (*internal.PageResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, b.allocOpts...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	start := time.Now()

	tasks := chromedp.Tasks{
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
	}
	if b.waitExtra > 0 {
		tasks = append(tasks, chromedp.Sleep(b.waitExtra))
	}
	var html string
	tasks = append(tasks, chromedp.OuterHTML("html", &html))

	if err := chromedp.Run(taskCtx, tasks); err != nil {
		b.logger.WithField("url", pageURL).Warnf("browser fetch failed: %v", err)
		return nil, utils.NewTransientFetchError(pageURL, err)
	}

	return &internal.PageResult{
		URL:        pageURL,
		StatusCode: 200,
		HTML:       html,
		FetchedAt:  start.UTC(),
		Duration:   time.Since(start),
	}, nil
}
