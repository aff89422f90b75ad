// Package headless renders pages in headless Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultWaitTimeout       = 10 * time.Second
)

// Config controls the behavior of the headless browser.
type Config struct {
	UserAgent string
	// ExecPath overrides the Chrome binary chromedp would otherwise locate.
	ExecPath          string
	Headless          bool
	MaxParallel       int
	NavigationTimeout time.Duration
	// Limiter paces renders per host; nil disables pacing.
	Limiter crawler.HostLimiter
}

// Browser implements crawler.Browser on top of a single Chrome process.
// Each Render opens its own tab.
type Browser struct {
	cfg     Config
	logger  *zap.Logger
	limiter chan struct{}

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// New validates cfg. Chrome is not launched until Start or the first Render.
func New(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Browser{cfg: cfg, logger: logger, limiter: limiter}, nil
}

// Start launches Chrome. Calling it on a started browser is a no-op.
func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if b.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("chromedp warmup: %w", err)
	}
	b.browserCtx = browserCtx
	b.browserCancel = browserCancel
	b.allocCancel = allocCancel
	b.logger.Info("browser started", zap.Bool("headless", b.cfg.Headless))
	return nil
}

// Close shuts Chrome down. Closing an unstarted or closed browser is a no-op.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx == nil {
		return nil
	}
	b.browserCancel()
	b.allocCancel()
	b.browserCtx = nil
	b.browserCancel = nil
	b.allocCancel = nil
	b.logger.Info("browser closed")
	return nil
}

// Render navigates to req.URL in a fresh tab and snapshots the DOM. When
// WaitSelector never appears the page is still returned with SelectorFound
// set to false.
func (b *Browser) Render(ctx context.Context, req crawler.RenderRequest) (crawler.RenderedPage, error) {
	start := time.Now()

	page, err := b.render(ctx, req)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case !page.SelectorFound:
		outcome = "selector_timeout"
	}
	page.Duration = time.Since(start)
	metrics.ObserveRender(req.URL, outcome, page.Duration)
	return page, err
}

func (b *Browser) render(ctx context.Context, req crawler.RenderRequest) (crawler.RenderedPage, error) {
	if err := b.Start(ctx); err != nil {
		return crawler.RenderedPage{}, err
	}
	if err := b.acquire(ctx); err != nil {
		return crawler.RenderedPage{}, err
	}
	defer b.release()

	if err := b.waitHostBudget(ctx, req.URL); err != nil {
		return crawler.RenderedPage{}, fmt.Errorf("render rate limit: %w", err)
	}

	b.mu.Lock()
	parent := b.browserCtx
	b.mu.Unlock()
	if parent == nil {
		return crawler.RenderedPage{}, errors.New("browser closed during render")
	}

	tabCtx, cancelTab := chromedp.NewContext(parent)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, b.navTimeout())
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	if err := chromedp.Run(taskCtx,
		b.networkSetupAction(),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return crawler.RenderedPage{}, fmt.Errorf("navigate %s: %w", req.URL, err)
	}

	found := true
	if req.WaitSelector != "" {
		wait := req.WaitTimeout
		if wait <= 0 {
			wait = defaultWaitTimeout
		}
		waitCtx, cancelWait := context.WithTimeout(taskCtx, wait)
		err := chromedp.Run(waitCtx, chromedp.WaitVisible(req.WaitSelector, chromedp.ByQuery))
		cancelWait()
		if err != nil {
			if taskCtx.Err() != nil {
				return crawler.RenderedPage{}, fmt.Errorf("wait for %q: %w", req.WaitSelector, taskCtx.Err())
			}
			found = false
			b.logger.Debug("wait selector not found",
				zap.String("url", req.URL),
				zap.String("selector", req.WaitSelector),
				zap.Duration("timeout", wait),
			)
		}
	}

	var html, location string
	if err := chromedp.Run(taskCtx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return crawler.RenderedPage{}, fmt.Errorf("snapshot %s: %w", req.URL, err)
	}

	status, finalURL := meta.snapshotWithFallbacks(req.URL, location)
	return crawler.RenderedPage{
		URL:           req.URL,
		FinalURL:      finalURL,
		StatusCode:    status,
		HTML:          html,
		SelectorFound: found,
	}, nil
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

func (b *Browser) waitHostBudget(ctx context.Context, rawURL string) error {
	if b.cfg.Limiter == nil {
		return nil
	}
	if err := b.cfg.Limiter.Wait(ctx, rawURL); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// The first document response is the navigation; later ones are iframes.
	if m.status != 0 {
		return
	}
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, location string) (int, string) {
	m.mu.RLock()
	status, final := m.status, m.url
	m.mu.RUnlock()

	switch {
	case location != "" && location != "about:blank":
		final = location
	case final != "":
	default:
		final = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, final
}

var _ crawler.Browser = (*Browser)(nil)
