package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	pubmemory "github.com/JakeFAU/catalog-crawler/internal/publisher/memory"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	"github.com/JakeFAU/catalog-crawler/internal/walker"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newClock() *tickClock {
	return &tickClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

// fixtureBrowser serves canned HTML by URL.
type fixtureBrowser struct {
	mu       sync.Mutex
	pages    map[string]string
	starts   int
	closes   int
	startErr error
}

func (b *fixtureBrowser) Start(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	return b.startErr
}

func (b *fixtureBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return nil
}

func (b *fixtureBrowser) Render(_ context.Context, req crawler.RenderRequest) (crawler.RenderedPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	html, ok := b.pages[req.URL]
	if !ok {
		return crawler.RenderedPage{}, fmt.Errorf("no fixture for %s", req.URL)
	}
	return crawler.RenderedPage{
		URL:           req.URL,
		FinalURL:      req.URL,
		StatusCode:    200,
		HTML:          html,
		SelectorFound: true,
	}, nil
}

func (b *fixtureBrowser) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts, b.closes
}

type allowAll struct{}

func (allowAll) Evaluate(context.Context, string, string) crawler.Verdict {
	return crawler.Verdict{Allowed: true}
}

type noPause struct{}

func (noPause) Pause(context.Context, time.Duration) error { return nil }

// scriptedExtractor returns canned product results; unknown URLs fail.
type scriptedExtractor struct {
	mu       sync.Mutex
	products map[string]crawler.ProductResult
	calls    []string
	onCall   func(url string)
}

func (e *scriptedExtractor) ExtractCategory(context.Context, string) crawler.CategoryResult {
	return crawler.CategoryResult{Err: errors.New("not used")}
}

func (e *scriptedExtractor) ExtractProduct(_ context.Context, rawURL string) crawler.ProductResult {
	e.mu.Lock()
	e.calls = append(e.calls, rawURL)
	hook := e.onCall
	res, ok := e.products[rawURL]
	e.mu.Unlock()
	if hook != nil {
		hook(rawURL)
	}
	if !ok {
		return crawler.ProductResult{Err: fmt.Errorf("render %s: boom", rawURL)}
	}
	return res
}

type mapWalker struct {
	mu      sync.Mutex
	links   map[string][]string
	visited []string
}

func (w *mapWalker) WalkCategory(_ context.Context, startURL string, _ int) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.visited = append(w.visited, startURL)
	return w.links[startURL]
}

// countingJobs counts progress-only updates on top of the memory store.
type countingJobs struct {
	*memory.JobStore
	mu       sync.Mutex
	progress []int
}

func (c *countingJobs) UpdateJob(ctx context.Context, id string, update crawler.JobUpdate) (crawler.Job, error) {
	if update.Status == nil && update.ProductsProcessed != nil {
		c.mu.Lock()
		c.progress = append(c.progress, *update.ProductsProcessed)
		c.mu.Unlock()
	}
	return c.JobStore.UpdateJob(ctx, id, update)
}

func product(id, price string) crawler.ProductResult {
	d := decimal.RequireFromString(price)
	return crawler.ProductResult{Success: true, Product: &crawler.Product{
		ID: id, Name: id, Price: &d, Currency: "USD", Unit: crawler.UnitEach, IsActive: true,
	}}
}

type harness struct {
	svc       *Service
	jobs      *countingJobs
	products  *memory.ProductStore
	browser   *fixtureBrowser
	extractor *scriptedExtractor
	walker    *mapWalker
	publisher *pubmemory.Publisher
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clock := newClock()
	h := &harness{
		jobs:      &countingJobs{JobStore: memory.NewJobStore(&seqIDs{}, clock)},
		products:  memory.NewProductStore(clock),
		browser:   &fixtureBrowser{},
		extractor: &scriptedExtractor{products: map[string]crawler.ProductResult{}},
		walker:    &mapWalker{links: map[string][]string{}},
		publisher: pubmemory.New(),
	}
	if cfg.PriceTopic == "" {
		cfg.PriceTopic = "price-changes"
	}
	svc, err := New(cfg, Deps{
		Products:  h.products,
		Jobs:      h.jobs,
		Browser:   h.browser,
		Extractor: h.extractor,
		Walker:    h.walker,
		Publisher: h.publisher,
		Clock:     clock,
	}, zap.NewNop())
	require.NoError(t, err)
	h.svc = svc
	return h
}

const (
	categoryFixture = `<html><body><div class="product-grid">
<a href="/p/widget">Widget</a>
<a href="/p/gadget-2">Gadget</a>
<a href="/p/blank">Blank</a>
<a href="/p/widget">Widget again</a>
</div></body></html>`

	widgetFixture = `<html><head>
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Product",
"name":"Widget","sku":"W-1","offers":{"@type":"Offer","price":"$19.99","priceCurrency":"USD"}}</script>
</head><body><h1>Widget</h1></body></html>`

	metaFixture = `<html><head>
<meta property="og:title" content="Gadget">
<meta property="product:price:amount" content="7.50">
</head><body><h1></h1></body></html>`

	blankFixture = `<html><body><h1></h1></body></html>`
)

func TestCategoryCrawlEndToEnd(t *testing.T) {
	t.Parallel()

	const categoryURL = "https://shop.test/c/tools"
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	clock := newClock()

	browser := &fixtureBrowser{pages: map[string]string{
		categoryURL:                     categoryFixture,
		"https://shop.test/p/widget":   widgetFixture,
		"https://shop.test/p/gadget-2": metaFixture,
		"https://shop.test/p/blank":    blankFixture,
	}}
	ext := extract.New(
		extract.Config{Vendor: "shop", DefaultCurrency: "USD"},
		browser,
		allowAll{},
		extract.WithPauser(noPause{}),
		extract.WithClock(clock),
		extract.WithLogger(logger.Named("extractor")),
	)
	walk := walker.New(ext, logger.Named("walker"))

	urls := walk.WalkCategory(context.Background(), categoryURL, 10)
	require.Equal(t, []string{
		"https://shop.test/p/widget",
		"https://shop.test/p/gadget-2",
		"https://shop.test/p/blank",
	}, urls)

	jobs := memory.NewJobStore(&seqIDs{}, clock)
	products := memory.NewProductStore(clock)
	pub := pubmemory.New()
	svc, err := New(Config{PriceTopic: "price-changes"}, Deps{
		Products:  products,
		Jobs:      jobs,
		Browser:   browser,
		Extractor: ext,
		Walker:    walk,
		Publisher: pub,
		Clock:     clock,
	}, logger.Named("orchestrator"))
	require.NoError(t, err)

	job, err := svc.RunCategoryCrawl(context.Background(), categoryURL)
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusCompleted, job.Status)
	assert.Equal(t, crawler.JobTypeCategory, job.Type)
	assert.Equal(t, 3, job.ProductsProcessed)
	assert.Equal(t, 3, job.ProductsUpdated)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)

	widget, err := products.GetProduct(context.Background(), "w-1")
	require.NoError(t, err)
	assert.Equal(t, "Widget", widget.Name)
	assert.Equal(t, crawler.UnitEach, widget.Unit)
	assert.True(t, decimal.RequireFromString("19.99").Equal(*widget.Price))

	_, err = products.GetProduct(context.Background(), "gadget-gadget-2")
	require.NoError(t, err)
	placeholder, err := products.GetProduct(context.Background(), "unknown-product-blank")
	require.NoError(t, err)
	assert.Equal(t, extract.UnknownProductName, placeholder.Name)

	assert.Equal(t, 1, logs.FilterMessage("extraction empty").Len())
	assert.Len(t, pub.Topic("price-changes"), 3)

	starts, closes := browser.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, closes)

	running, err := svc.RunningJob(context.Background())
	require.NoError(t, err)
	assert.Nil(t, running)
}

func TestFullCrawlRejectedWhileAnotherJobRuns(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Categories: []string{"https://shop.test/c/a"}})
	ctx := context.Background()
	other, err := h.jobs.CreateJob(ctx, crawler.JobTypeProduct, "https://shop.test/p/x", nil)
	require.NoError(t, err)
	_, err = h.jobs.UpdateJob(ctx, other.ID, crawler.StatusUpdate(crawler.JobStatusRunning))
	require.NoError(t, err)

	_, err = h.svc.RunFullCrawl(ctx)
	require.ErrorIs(t, err, crawler.ErrCrawlInProgress)
	var already *crawler.AlreadyRunningError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, other.ID, already.JobID)

	jobs, err := h.svc.RecentJobs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	starts, _ := h.browser.counts()
	assert.Zero(t, starts)
	assert.Empty(t, h.walker.visited)
}

func TestFullCrawlToleratesItemFailuresAndSavesProgress(t *testing.T) {
	t.Parallel()

	categories := []string{"https://shop.test/c/a", "https://shop.test/c/empty", "https://shop.test/c/b"}
	h := newHarness(t, Config{Categories: categories})
	for i := 1; i <= 12; i++ {
		u := fmt.Sprintf("https://shop.test/p/%d", i)
		if i <= 7 {
			h.walker.links[categories[0]] = append(h.walker.links[categories[0]], u)
		} else {
			h.walker.links[categories[2]] = append(h.walker.links[categories[2]], u)
		}
		if i != 4 {
			h.extractor.products[u] = product(fmt.Sprintf("p-%d", i), "1.00")
		}
	}

	job, err := h.svc.RunFullCrawl(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusCompleted, job.Status)
	assert.Equal(t, 12, job.ProductsProcessed)
	assert.Equal(t, 11, job.ProductsUpdated)
	assert.Equal(t, map[string]any{"categories": categories}, job.Metadata)
	assert.Equal(t, categories, h.walker.visited)
	assert.Equal(t, []int{10}, h.jobs.progress)
	assert.Len(t, h.publisher.Messages(), 11)

	starts, closes := h.browser.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, closes)
}

func TestCategoryCrawlProgressCadence(t *testing.T) {
	t.Parallel()

	const categoryURL = "https://shop.test/c/a"
	h := newHarness(t, Config{})
	for i := 1; i <= 11; i++ {
		u := fmt.Sprintf("https://shop.test/p/%d", i)
		h.walker.links[categoryURL] = append(h.walker.links[categoryURL], u)
		h.extractor.products[u] = product(fmt.Sprintf("p-%d", i), "2.00")
	}

	job, err := h.svc.RunCategoryCrawl(context.Background(), categoryURL)
	require.NoError(t, err)
	assert.Equal(t, 11, job.ProductsProcessed)
	assert.Equal(t, []int{5, 10}, h.jobs.progress)
	assert.Equal(t, categoryURL, job.TargetURL)
}

func TestProductRefresh(t *testing.T) {
	t.Parallel()

	const productURL = "https://shop.test/p/widget"

	t.Run("Success", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{})
		h.extractor.products[productURL] = product("w-1", "19.99")

		job, err := h.svc.RunProductRefresh(context.Background(), productURL)
		require.NoError(t, err)
		assert.Equal(t, crawler.JobStatusCompleted, job.Status)
		assert.Equal(t, 1, job.ProductsProcessed)
		assert.Equal(t, 1, job.ProductsUpdated)

		msgs := h.publisher.Topic("price-changes")
		require.Len(t, msgs, 1)
		ev, ok := msgs[0].Payload.(PriceEvent)
		require.True(t, ok)
		assert.Equal(t, "19.99", ev.Price)
		assert.True(t, ev.Initial)
		assert.Equal(t, job.ID, ev.JobID)
	})

	t.Run("ExtractorFailureFailsJob", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{})

		job, err := h.svc.RunProductRefresh(context.Background(), productURL)
		require.Error(t, err)
		assert.Equal(t, crawler.JobStatusFailed, job.Status)
		assert.Contains(t, job.ErrorMessage, "boom")
		assert.NotNil(t, job.CompletedAt)

		stored, err := h.svc.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, crawler.JobStatusFailed, stored.Status)
		_, closes := h.browser.counts()
		assert.Equal(t, 1, closes)
	})

	t.Run("NoProductFailsJob", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{})
		h.extractor.products[productURL] = crawler.ProductResult{Success: true}

		job, err := h.svc.RunProductRefresh(context.Background(), productURL)
		require.ErrorContains(t, err, "no product")
		assert.Equal(t, crawler.JobStatusFailed, job.Status)
	})

	t.Run("PriceChangeCarriesPrevious", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, Config{})
		h.extractor.products[productURL] = product("w-1", "19.99")
		_, err := h.svc.RunProductRefresh(context.Background(), productURL)
		require.NoError(t, err)

		h.extractor.products[productURL] = product("w-1", "17.50")
		_, err = h.svc.RunProductRefresh(context.Background(), productURL)
		require.NoError(t, err)

		msgs := h.publisher.Topic("price-changes")
		require.Len(t, msgs, 2)
		ev := msgs[1].Payload.(PriceEvent)
		assert.False(t, ev.Initial)
		require.NotNil(t, ev.PreviousPrice)
		assert.Equal(t, "19.99", *ev.PreviousPrice)
		assert.Equal(t, "17.50", ev.Price)
	})
}

func TestPanicMarksJobFailed(t *testing.T) {
	t.Parallel()

	const categoryURL = "https://shop.test/c/a"
	h := newHarness(t, Config{})
	h.walker.links[categoryURL] = []string{"https://shop.test/p/1"}
	h.extractor.onCall = func(string) { panic("selector engine exploded") }

	job, err := h.svc.RunCategoryCrawl(context.Background(), categoryURL)
	require.ErrorContains(t, err, "selector engine exploded")
	assert.Equal(t, crawler.JobStatusFailed, job.Status)
	_, closes := h.browser.counts()
	assert.Equal(t, 1, closes)
}

func TestBrowserStartFailureFailsJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.browser.startErr = errors.New("chrome missing")

	job, err := h.svc.RunCategoryCrawl(context.Background(), "https://shop.test/c/a")
	require.ErrorContains(t, err, "chrome missing")
	assert.Equal(t, crawler.JobStatusFailed, job.Status)
	assert.Empty(t, h.walker.visited)
}

func TestCanceledRunIsRecordedAsFailed(t *testing.T) {
	t.Parallel()

	const categoryURL = "https://shop.test/c/a"
	h := newHarness(t, Config{})
	h.walker.links[categoryURL] = []string{"https://shop.test/p/1", "https://shop.test/p/2"}
	h.extractor.products["https://shop.test/p/1"] = product("p-1", "1")
	h.extractor.products["https://shop.test/p/2"] = product("p-2", "2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.extractor.onCall = func(string) { cancel() }

	job, err := h.svc.RunCategoryCrawl(ctx, categoryURL)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, crawler.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.ProductsProcessed)

	stored, err := h.svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusFailed, stored.Status)
}

func TestLaunchRunsInBackground(t *testing.T) {
	t.Parallel()

	const productURL = "https://shop.test/p/widget"
	h := newHarness(t, Config{})
	h.extractor.products[productURL] = product("w-1", "3.00")

	job, err := h.svc.Launch(context.Background(), Request{Type: crawler.JobTypeProduct, URL: productURL})
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusRunning, job.Status)

	h.svc.Wait()
	done, err := h.svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusCompleted, done.Status)
	require.NoError(t, h.svc.Shutdown(context.Background()))
}

func TestRequestValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	_, err := h.svc.RunCategoryCrawl(context.Background(), "")
	require.Error(t, err)
	_, err = h.svc.RunProductRefresh(context.Background(), "")
	require.Error(t, err)
	_, err = h.svc.Run(context.Background(), Request{Type: "weekly"})
	require.Error(t, err)

	jobs, err := h.svc.RecentJobs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	_, err = New(Config{}, Deps{}, nil)
	require.Error(t, err)
}
