// Package headless contains the fetch session that renders pages in headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/crisiswatch/crisis-collector/internal/crisis"
)

// ErrClosed is returned by Fetch once the session has been closed.
var ErrClosed = errors.New("headless session closed")

const defaultNavTimeout = 45 * time.Second

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// Settle is how long to wait after the body is ready so late scripts can populate it.
	Settle time.Duration
}

// Fetcher implements crisis.Session using chromedp. Every render runs on its own
// goroutine; Fetch only waits for the result, the deadline, or Close.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	closeOnce   sync.Once
	run         func(ctx context.Context, url string) (string, string, error)
}

// NewChromedp creates a headless fetcher. The browser process starts on the first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
	f.run = f.runHeadless
	return f, nil
}

// Close terminates the browser and aborts renders still in flight. It is idempotent.
func (f *Fetcher) Close() error {
	f.closeOnce.Do(f.allocCancel)
	return nil
}

type renderResult struct {
	html     string
	finalURL string
	err      error
}

// Fetch navigates to url and returns the rendered DOM once the body has materialized.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crisis.Page, error) {
	if f.allocator.Err() != nil {
		return crisis.Page{}, ErrClosed
	}
	if err := f.acquire(ctx); err != nil {
		return crisis.Page{}, err
	}

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout())

	start := time.Now()
	results := make(chan renderResult, 1)
	go func() {
		html, finalURL, err := f.run(taskCtx, url)
		cancel()
		taskCancel()
		// The slot is free before the caller sees the result.
		f.release()
		results <- renderResult{html: html, finalURL: finalURL, err: err}
	}()

	select {
	case <-ctx.Done():
		cancel()
		return crisis.Page{}, fmt.Errorf("headless fetch canceled: %w", ctx.Err())
	case res := <-results:
		if res.err != nil {
			if f.allocator.Err() != nil {
				return crisis.Page{}, ErrClosed
			}
			return crisis.Page{}, res.err
		}
		finalURL := res.finalURL
		if finalURL == "" {
			finalURL = url
		}
		return crisis.Page{
			URL:        finalURL,
			StatusCode: 200,
			Body:       []byte(res.html),
			Duration:   time.Since(start),
			Rendered:   true,
		}, nil
	}
}

func (f *Fetcher) runHeadless(ctx context.Context, url string) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.settle()),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
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

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

func (f *Fetcher) settle() time.Duration {
	if f.cfg.Settle > 0 {
		return f.cfg.Settle
	}
	return 500 * time.Millisecond
}
