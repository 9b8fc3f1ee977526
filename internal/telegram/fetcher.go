// Package telegram scrapes public channel previews from the t.me web
// interface and writes partitioned message files plus archived photos.
package telegram

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/gocolly/colly/v2"
)

// PageFetcher retrieves the HTML of one channel preview page.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
}

// FetchConfig controls page fetching behavior.
type FetchConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyFetcher is the fast path: a plain HTTP GET via a colly collector.
type CollyFetcher struct {
	cfg  FetchConfig
	base *colly.Collector
}

// NewCollyFetcher builds the fast-path fetcher.
func NewCollyFetcher(cfg FetchConfig) *CollyFetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &CollyFetcher{cfg: cfg, base: c}
}

// FetchPage executes a single GET and returns the response body.
func (f *CollyFetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("page fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", url, err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
		return body, nil
	}
}

// ChromedpFetcher renders the page in headless Chrome. It is the fallback
// for channels whose preview comes back as a JavaScript app shell with no
// message markup.
type ChromedpFetcher struct {
	cfg         FetchConfig
	navTimeout  time.Duration
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedpFetcher creates the headless fallback fetcher.
func NewChromedpFetcher(cfg FetchConfig, navTimeout time.Duration) *ChromedpFetcher {
	if navTimeout <= 0 {
		navTimeout = 45 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &ChromedpFetcher{
		cfg:         cfg,
		navTimeout:  navTimeout,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close cancels the allocator context.
func (f *ChromedpFetcher) Close() {
	f.allocCancel()
}

// FetchPage navigates with a headless browser and returns the rendered DOM.
func (f *ChromedpFetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout)
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-taskCtx.Done():
		}
	}()

	var html string
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return []byte(html), nil
}

func (f *ChromedpFetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
