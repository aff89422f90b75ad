// Package extract turns rendered category and product pages into product
// links and normalized product records.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const (
	defaultMaxAttempts     = 3
	defaultSelectorTimeout = 10 * time.Second

	// DefaultListingSelector is awaited on category pages.
	DefaultListingSelector = `.product-grid, .product-list, .products, .product-card, [data-testid="product-grid"]`
	// DefaultTitleSelector is awaited on product pages.
	DefaultTitleSelector = `h1, [itemprop="name"], .product-title, .product-name, [data-testid="product-title"]`
)

// Config tunes extraction.
type Config struct {
	UserAgent string
	// RequestDelay is the politeness pause after each page and before each retry.
	RequestDelay        time.Duration
	MaxAttempts         int
	SelectorTimeout     time.Duration
	ProductPathSegments []string
	DefaultCurrency     string
	Vendor              string
	ListingSelector     string
	TitleSelector       string
	ArchivePrefix       string
}

// Extractor implements crawler.ProductExtractor.
type Extractor struct {
	cfg     Config
	browser crawler.Browser
	policy  crawler.PolicyEvaluator
	static  crawler.StaticFetcher
	archive crawler.BlobStore
	pauser  crawler.Pauser
	clock   crawler.Clock
	logger  *zap.Logger
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithStaticFetcher enables the script-free backfill pass.
func WithStaticFetcher(f crawler.StaticFetcher) Option {
	return func(e *Extractor) { e.static = f }
}

// WithArchive stores the rendered HTML of every extracted product page.
func WithArchive(b crawler.BlobStore) Option {
	return func(e *Extractor) { e.archive = b }
}

// WithPauser replaces the timer based pauser.
func WithPauser(p crawler.Pauser) Option {
	return func(e *Extractor) { e.pauser = p }
}

// WithClock sets the clock used for LastUpdated and archive paths.
func WithClock(c crawler.Clock) Option {
	return func(e *Extractor) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// New builds an Extractor, filling unset config with defaults.
func New(cfg Config, browser crawler.Browser, policy crawler.PolicyEvaluator, opts ...Option) *Extractor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.SelectorTimeout <= 0 {
		cfg.SelectorTimeout = defaultSelectorTimeout
	}
	if len(cfg.ProductPathSegments) == 0 {
		cfg.ProductPathSegments = DefaultProductPathSegments
	}
	if cfg.ListingSelector == "" {
		cfg.ListingSelector = DefaultListingSelector
	}
	if cfg.TitleSelector == "" {
		cfg.TitleSelector = DefaultTitleSelector
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "pages"
	}
	e := &Extractor{
		cfg:     cfg,
		browser: browser,
		policy:  policy,
		pauser:  crawler.TimerPauser{},
		clock:   system.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractCategory renders a listing page and returns its product links and
// the next page, if any.
func (e *Extractor) ExtractCategory(ctx context.Context, rawURL string) crawler.CategoryResult {
	start := time.Now()
	delay, err := e.checkPolicy(ctx, rawURL)
	if err != nil {
		metrics.ObserveExtraction("category", "denied")
		return crawler.CategoryResult{Err: err}
	}

	page, err := e.browser.Render(ctx, crawler.RenderRequest{
		URL:          rawURL,
		WaitSelector: e.cfg.ListingSelector,
		WaitTimeout:  e.cfg.SelectorTimeout,
	})
	if err == nil && page.StatusCode >= http.StatusBadRequest {
		err = fmt.Errorf("unexpected status %d", page.StatusCode)
	}
	if err != nil {
		metrics.ObserveExtraction("category", "error")
		e.logger.Warn("category render failed", zap.String("url", rawURL), zap.Error(err))
		return crawler.CategoryResult{Err: fmt.Errorf("render category %s: %w", rawURL, err)}
	}
	if !page.SelectorFound {
		e.logger.Warn("listing selector not found; extracting anyway",
			zap.String("url", rawURL),
			zap.String("selector", e.cfg.ListingSelector),
		)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		metrics.ObserveExtraction("category", "error")
		return crawler.CategoryResult{Err: fmt.Errorf("parse category %s: %w", rawURL, err)}
	}
	base := baseURL(doc, page)
	links := productLinks(doc, base, e.cfg.ProductPathSegments)
	next := nextPage(doc, base)

	if err := e.pauser.Pause(ctx, delay); err != nil {
		return crawler.CategoryResult{Err: fmt.Errorf("politeness delay: %w", err)}
	}

	metrics.ObserveExtraction("category", "ok")
	e.logger.Info("category extracted",
		zap.String("url", rawURL),
		zap.Int("products", len(links)),
		zap.String("next", next),
		zap.Duration("duration", time.Since(start)),
	)
	return crawler.CategoryResult{Success: true, ProductURLs: links, NextPageURL: next}
}

// ExtractProduct renders a product page and normalizes what it finds,
// retrying failed attempts after the politeness delay.
func (e *Extractor) ExtractProduct(ctx context.Context, rawURL string) crawler.ProductResult {
	start := time.Now()
	delay, err := e.checkPolicy(ctx, rawURL)
	if err != nil {
		metrics.ObserveExtraction("product", "denied")
		return crawler.ProductResult{Err: err}
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			metrics.ObserveRetry()
			if err := e.pauser.Pause(ctx, delay); err != nil {
				lastErr = fmt.Errorf("retry delay: %w", err)
				break
			}
		}
		attempts = attempt
		product, err := e.attemptProduct(ctx, rawURL)
		if err == nil {
			if perr := e.pauser.Pause(ctx, delay); perr != nil {
				e.logger.Debug("politeness delay interrupted", zap.String("url", rawURL), zap.Error(perr))
			}
			e.logger.Info("product extracted",
				zap.String("url", rawURL),
				zap.String("product_id", product.ID),
				zap.Int("attempt", attempt),
				zap.Duration("duration", time.Since(start)),
			)
			return crawler.ProductResult{Success: true, Product: &product}
		}
		lastErr = err
		e.logger.Warn("product extraction attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.cfg.MaxAttempts),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			break
		}
	}

	metrics.ObserveExtraction("product", "failed")
	return crawler.ProductResult{
		Err: fmt.Errorf("extract product %s: gave up after %d attempts: %w", rawURL, attempts, lastErr),
	}
}

func (e *Extractor) attemptProduct(ctx context.Context, rawURL string) (crawler.Product, error) {
	page, err := e.browser.Render(ctx, crawler.RenderRequest{
		URL:          rawURL,
		WaitSelector: e.cfg.TitleSelector,
		WaitTimeout:  e.cfg.SelectorTimeout,
	})
	if err != nil {
		return crawler.Product{}, fmt.Errorf("render: %w", err)
	}
	if !page.SelectorFound {
		return crawler.Product{}, fmt.Errorf("%w: %s", crawler.ErrRenderTimeout, e.cfg.TitleSelector)
	}
	if page.StatusCode >= http.StatusBadRequest {
		return crawler.Product{}, fmt.Errorf("unexpected status %d", page.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return crawler.Product{}, fmt.Errorf("parse html: %w", err)
	}

	partial := Fold(jsonLDLayer(doc), metaLayer(doc), domLayer(doc))
	if partial.Name == nil || partial.PriceText == nil {
		partial = Fold(partial, e.staticPass(ctx, rawURL))
	}

	now := e.clock.Now()
	product := Normalize(partial, rawURL, NormalizeOptions{
		Vendor:          e.cfg.Vendor,
		DefaultCurrency: e.cfg.DefaultCurrency,
		Now:             now,
	})
	if partial.Empty() {
		metrics.ObserveExtraction("product", "empty")
		e.logger.Warn("extraction empty",
			zap.String("url", rawURL),
			zap.String("product_id", product.ID),
			zap.Error(crawler.ErrExtractionEmpty),
		)
	} else {
		metrics.ObserveExtraction("product", "ok")
	}
	e.archivePage(ctx, product.ID, page.HTML, now)
	return product, nil
}

func (e *Extractor) staticPass(ctx context.Context, rawURL string) Partial {
	if e.static == nil {
		return Partial{}
	}
	body, err := e.static.FetchHTML(ctx, rawURL)
	if err != nil {
		e.logger.Debug("static backfill fetch failed", zap.String("url", rawURL), zap.Error(err))
		return Partial{}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Partial{}
	}
	return staticLayer(doc)
}

func (e *Extractor) archivePage(ctx context.Context, productID, html string, now time.Time) {
	if e.archive == nil {
		return
	}
	path := fmt.Sprintf("%s/%s/%s.html", e.cfg.ArchivePrefix, productID, now.UTC().Format("20060102T150405Z"))
	uri, err := e.archive.PutObject(ctx, path, "text/html; charset=utf-8", strings.NewReader(html))
	if err != nil {
		e.logger.Warn("archive page failed", zap.String("product_id", productID), zap.Error(err))
		return
	}
	e.logger.Debug("page archived", zap.String("product_id", productID), zap.String("uri", uri))
}

// checkPolicy returns the delay to apply for this call: the configured delay
// or the site's crawl-delay, whichever is longer.
func (e *Extractor) checkPolicy(ctx context.Context, rawURL string) (time.Duration, error) {
	delay := e.cfg.RequestDelay
	if e.policy == nil {
		return delay, nil
	}
	verdict := e.policy.Evaluate(ctx, rawURL, e.cfg.UserAgent)
	if !verdict.Allowed {
		e.logger.Info("fetch refused by robots policy",
			zap.String("url", rawURL),
			zap.String("rule", verdict.MatchedRule),
		)
		return 0, &crawler.PolicyDeniedError{URL: rawURL, Rule: verdict.MatchedRule}
	}
	if verdict.HasCrawlDelay && verdict.CrawlDelay > delay {
		delay = verdict.CrawlDelay
	}
	return delay, nil
}

// baseURL honors a <base href> and otherwise resolves against the page itself.
func baseURL(doc *goquery.Document, page crawler.RenderedPage) *url.URL {
	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = page.URL
	}
	base, _ := url.Parse(pageURL)
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			if base == nil {
				return ref
			}
			return base.ResolveReference(ref)
		}
	}
	return base
}

var _ crawler.ProductExtractor = (*Extractor)(nil)
