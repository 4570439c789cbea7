// Package render loads JavaScript-driven pages in headless Chrome.
package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const defaultMaxTabs = 4

// Chrome renders pages in tabs of one shared browser
type Chrome struct {
	allocCtx context.Context
	cancel   context.CancelFunc
	timeout  time.Duration
	tabs     *semaphore.Weighted
	log      zerolog.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	starts        int
}

type Options struct {
	// RemoteURL is a DevTools websocket URL. Empty starts a local browser.
	RemoteURL string
	UserAgent string
	Timeout   time.Duration
	MaxTabs   int64
	Logger    zerolog.Logger
}

// NewChrome prepares the browser allocator. The browser itself starts on
// the first Render and every later Render opens a tab in it.
func NewChrome(opts Options) *Chrome {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxTabs <= 0 {
		opts.MaxTabs = defaultMaxTabs
	}

	var (
		allocCtx context.Context
		cancel   context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, cancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.DisableGPU,
			chromedp.NoSandbox,
		)
		if opts.UserAgent != "" {
			execOpts = append(execOpts, chromedp.UserAgent(opts.UserAgent))
		}
		allocCtx, cancel = chromedp.NewExecAllocator(context.Background(), execOpts...)
	}

	return &Chrome{
		allocCtx: allocCtx,
		cancel:   cancel,
		timeout:  opts.Timeout,
		tabs:     semaphore.NewWeighted(opts.MaxTabs),
		log:      opts.Logger,
	}
}

// Render opens url in a new tab, waits for selector to be present and
// returns the page's outer HTML.
func (c *Chrome) Render(ctx context.Context, url, selector string) (string, error) {
	if err := c.tabs.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.tabs.Release(1)

	browserCtx, err := c.browser()
	if err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, c.timeout)
	defer cancelTimeout()

	// the tab hangs off the browser, not the caller, so tie them together
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	start := time.Now()
	var html string
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctxErr := tabCtx.Err(); ctxErr != nil {
			return "", fmt.Errorf("render %s: %w", url, ctxErr)
		}
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	c.log.Debug().Str("url", url).Dur("took", time.Since(start)).Int("bytes", len(html)).Msg("rendered")
	return html, nil
}

// browser starts the shared browser on first use. A failed start is not
// kept, so the next Render tries again.
func (c *Chrome) browser() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browserCtx != nil {
		return c.browserCtx, nil
	}

	ctx, cancel := chromedp.NewContext(c.allocCtx)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	c.starts++
	c.browserCtx, c.cancelBrowser = ctx, cancel
	c.log.Info().Msg("browser started")
	return ctx, nil
}

// Close shuts the browser down
func (c *Chrome) Close() {
	c.mu.Lock()
	if c.cancelBrowser != nil {
		c.cancelBrowser()
		c.browserCtx, c.cancelBrowser = nil, nil
	}
	c.mu.Unlock()
	c.cancel()
}
