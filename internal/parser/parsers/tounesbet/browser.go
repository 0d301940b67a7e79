package tounesbet

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserFetcher renders pages in headless Chrome so the cookie gate script
// runs natively. Used only when the HTTP bypass loop runs out of hops.
type BrowserFetcher struct {
	userAgent string
	timeout   time.Duration
	settle    time.Duration

	mu sync.Mutex
}

// NewBrowserFetcher creates a headless Chrome fetcher.
func NewBrowserFetcher(userAgent string, timeout time.Duration) *BrowserFetcher {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BrowserFetcher{userAgent: userAgent, timeout: timeout, settle: 3 * time.Second}
}

// Fetch navigates to rawURL, waits for the gate redirect to settle and
// returns the rendered document.
func (b *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	chromeDir, err := os.MkdirTemp("", "tounesbet_chrome_")
	if err != nil {
		return nil, fmt.Errorf("create chrome temp dir: %w", err)
	}
	defer os.RemoveAll(chromeDir)

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserDataDir(chromeDir),
		chromedp.UserAgent(b.userAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, v ...interface{}) {
		slog.Debug("chromedp", "message", fmt.Sprintf(format, v...))
	}))
	defer cancelBrowser()

	var finalURL, html string
	err = chromedp.Run(browserCtx,
		chromedp.Navigate(rawURL),
		chromedp.Sleep(b.settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp navigation: %w", err)
	}

	// Still on the gate page: give the redirect one more chance.
	if _, _, _, gated := detectChallenge(html); gated {
		err = chromedp.Run(browserCtx,
			chromedp.Sleep(2*b.settle),
			chromedp.Location(&finalURL),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
		if err != nil {
			return nil, fmt.Errorf("chromedp wait: %w", err)
		}
	}

	return &FetchResult{
		Status:      200,
		FinalURL:    finalURL,
		Text:        html,
		ContentType: "text/html",
	}, nil
}
