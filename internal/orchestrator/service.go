// Package orchestrator runs crawl jobs: it owns the job lifecycle, drives the
// category walker and product extractor, and persists what they find.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Progress cadences, in processed products.
const (
	DefaultFullProgressEvery     = 10
	DefaultCategoryProgressEvery = 5
)

const finalizeTimeout = 10 * time.Second

// Config controls what a full crawl covers and how often progress is saved.
type Config struct {
	Categories            []string
	MaxCategoryPages      int
	FullProgressEvery     int
	CategoryProgressEvery int
	// PriceTopic receives an event for every recorded price snapshot. Events
	// are skipped when it is empty or no publisher is configured.
	PriceTopic string
}

// Deps are the collaborators a Service drives.
type Deps struct {
	Products  crawler.ProductStore
	Jobs      crawler.JobStore
	Browser   crawler.Browser
	Extractor crawler.ProductExtractor
	Walker    crawler.CategoryWalker
	Publisher crawler.Publisher
	Clock     crawler.Clock
}

// Service runs at most one crawl job at a time across everything that shares
// its job store.
type Service struct {
	products  crawler.ProductStore
	jobs      crawler.JobStore
	browser   crawler.Browser
	extractor crawler.ProductExtractor
	walker    crawler.CategoryWalker
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// New validates deps and returns a Service.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Products == nil:
		return nil, errors.New("product store is required")
	case deps.Jobs == nil:
		return nil, errors.New("job store is required")
	case deps.Browser == nil:
		return nil, errors.New("browser is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Walker == nil:
		return nil, errors.New("category walker is required")
	}
	if cfg.FullProgressEvery <= 0 {
		cfg.FullProgressEvery = DefaultFullProgressEvery
	}
	if cfg.CategoryProgressEvery <= 0 {
		cfg.CategoryProgressEvery = DefaultCategoryProgressEvery
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Service{
		products:  deps.Products,
		jobs:      deps.Jobs,
		browser:   deps.Browser,
		extractor: deps.Extractor,
		walker:    deps.Walker,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("github.com/JakeFAU/catalog-crawler/internal/orchestrator"),
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
	}, nil
}

// Request names one crawl. URL is ignored for full crawls.
type Request struct {
	Type crawler.JobType
	URL  string
}

// RunFullCrawl crawls every configured category and returns the finished job.
func (s *Service) RunFullCrawl(ctx context.Context) (crawler.Job, error) {
	return s.Run(ctx, Request{Type: crawler.JobTypeFull})
}

// RunCategoryCrawl crawls one category listing and its products.
func (s *Service) RunCategoryCrawl(ctx context.Context, categoryURL string) (crawler.Job, error) {
	return s.Run(ctx, Request{Type: crawler.JobTypeCategory, URL: categoryURL})
}

// RunProductRefresh re-extracts one product page. Any failure fails the job.
func (s *Service) RunProductRefresh(ctx context.Context, productURL string) (crawler.Job, error) {
	return s.Run(ctx, Request{Type: crawler.JobTypeProduct, URL: productURL})
}

// Run executes req to completion.
func (s *Service) Run(ctx context.Context, req Request) (crawler.Job, error) {
	r, err := s.begin(ctx, req)
	if err != nil {
		return crawler.Job{}, err
	}
	return s.complete(ctx, r)
}

// Launch claims the single running slot for req and returns the running job;
// the crawl itself continues in the background until it finishes or Shutdown
// is called.
func (s *Service) Launch(ctx context.Context, req Request) (crawler.Job, error) {
	r, err := s.begin(ctx, req)
	if err != nil {
		return crawler.Job{}, err
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		// complete logs and records the outcome.
		_, _ = s.complete(s.bgCtx, r)
	}()
	return r.job, nil
}

// Wait blocks until every launched crawl has finished.
func (s *Service) Wait() {
	s.bg.Wait()
}

// Shutdown cancels launched crawls and waits for them to record their final
// state, or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.bgCancel()
	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for crawls: %w", ctx.Err())
	}
}

// GetJob returns a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (crawler.Job, error) {
	return s.jobs.GetJob(ctx, id)
}

// RecentJobs returns the newest jobs first.
func (s *Service) RecentJobs(ctx context.Context, limit int) ([]crawler.Job, error) {
	return s.jobs.RecentJobs(ctx, limit)
}

// RunningJob returns the running job, or nil.
func (s *Service) RunningJob(ctx context.Context) (*crawler.Job, error) {
	return s.jobs.GetRunningJob(ctx)
}

// run is the mutable state of one crawl.
type run struct {
	req       Request
	job       crawler.Job
	every     int
	processed int
	updated   int
	started   time.Time
}

// begin performs the single-flight check, creates the job and moves it to
// running.
func (s *Service) begin(ctx context.Context, req Request) (*run, error) {
	metadata, every, err := s.plan(req)
	if err != nil {
		return nil, err
	}

	running, err := s.jobs.GetRunningJob(ctx)
	if err != nil {
		return nil, fmt.Errorf("check running job: %w", err)
	}
	if running != nil {
		s.logger.Warn("crawl rejected",
			zap.String("job_type", string(req.Type)),
			zap.String("running_job_id", running.ID),
		)
		return nil, &crawler.AlreadyRunningError{JobID: running.ID}
	}

	job, err := s.jobs.CreateJob(ctx, req.Type, req.URL, metadata)
	if err != nil {
		return nil, fmt.Errorf("create %s job: %w", req.Type, err)
	}
	started, err := s.jobs.UpdateJob(ctx, job.ID, crawler.StatusUpdate(crawler.JobStatusRunning))
	if err != nil {
		// Another run won the race between the check and this update.
		msg := err.Error()
		failed := crawler.JobStatusFailed
		if _, ferr := s.jobs.UpdateJob(ctx, job.ID, crawler.JobUpdate{Status: &failed, ErrorMessage: &msg}); ferr != nil {
			s.logger.Error("abandon job", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		return nil, fmt.Errorf("start job %s: %w", job.ID, err)
	}
	return &run{req: req, job: started, every: every, started: time.Now()}, nil
}

func (s *Service) plan(req Request) (map[string]any, int, error) {
	switch req.Type {
	case crawler.JobTypeFull:
		categories := append([]string(nil), s.cfg.Categories...)
		return map[string]any{"categories": categories}, s.cfg.FullProgressEvery, nil
	case crawler.JobTypeCategory:
		if req.URL == "" {
			return nil, 0, errors.New("category url is required")
		}
		return map[string]any{"max_pages": s.cfg.MaxCategoryPages}, s.cfg.CategoryProgressEvery, nil
	case crawler.JobTypeProduct:
		if req.URL == "" {
			return nil, 0, errors.New("product url is required")
		}
		return nil, 1, nil
	default:
		return nil, 0, fmt.Errorf("unknown job type %q", req.Type)
	}
}

// complete executes the crawl body and records the terminal state.
func (s *Service) complete(ctx context.Context, r *run) (crawler.Job, error) {
	log := s.logger.With(zap.String("job_id", r.job.ID), zap.String("job_type", string(r.req.Type)))
	ctx, span := s.tracer.Start(ctx, "crawl."+string(r.req.Type), trace.WithAttributes(
		attribute.String("job.id", r.job.ID),
		attribute.String("job.target_url", r.req.URL),
	))
	defer span.End()
	log.Info("job started", zap.String("target_url", r.req.URL))

	runErr := s.execute(ctx, r, log)

	status := crawler.JobStatusCompleted
	update := crawler.Progress(r.processed, r.updated)
	update.Status = &status
	if runErr != nil {
		status = crawler.JobStatusFailed
		msg := runErr.Error()
		update.ErrorMessage = &msg
	}

	// The run's context may already be canceled; the outcome is still recorded.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	job, err := s.jobs.UpdateJob(finalCtx, r.job.ID, update)
	if err != nil {
		log.Error("finalize job", zap.Error(err))
		job = r.job
		job.Status = status
		if runErr == nil {
			runErr = fmt.Errorf("finalize job %s: %w", r.job.ID, err)
		}
	}

	duration := time.Since(r.started)
	metrics.ObserveJob(string(r.req.Type), string(status), duration)
	metrics.AddProducts(string(r.req.Type), r.processed, r.updated)
	span.SetAttributes(
		attribute.Int("job.products_processed", r.processed),
		attribute.Int("job.products_updated", r.updated),
	)

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		log.Error("job failed",
			zap.Duration("duration", duration),
			zap.Int("products_processed", r.processed),
			zap.Error(runErr),
		)
		return job, runErr
	}
	log.Info("job completed",
		zap.Duration("duration", duration),
		zap.Int("products_processed", r.processed),
		zap.Int("products_updated", r.updated),
	)
	return job, nil
}

// execute holds the browser for the whole run and turns a panic in the crawl
// body into an error.
func (s *Service) execute(ctx context.Context, r *run, log *zap.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("crawl panicked", zap.Any("panic", p), zap.Stack("stack"))
			err = fmt.Errorf("crawl panicked: %v", p)
		}
	}()

	if err := s.browser.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if cerr := s.browser.Close(); cerr != nil {
			log.Warn("close browser", zap.Error(cerr))
		}
	}()

	switch r.req.Type {
	case crawler.JobTypeFull:
		for _, category := range s.cfg.Categories {
			if err := s.crawlCategory(ctx, r, category, log); err != nil {
				return err
			}
		}
		return nil
	case crawler.JobTypeCategory:
		return s.crawlCategory(ctx, r, r.req.URL, log)
	default:
		return s.refreshProduct(ctx, r, log)
	}
}

func (s *Service) crawlCategory(ctx context.Context, r *run, categoryURL string, log *zap.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := s.tracer.Start(ctx, "crawl.category", trace.WithAttributes(attribute.String("category.url", categoryURL)))
	defer span.End()

	urls := s.walker.WalkCategory(ctx, categoryURL, s.cfg.MaxCategoryPages)
	if len(urls) == 0 {
		log.Warn("category yielded no products", zap.String("category_url", categoryURL))
	}
	for _, productURL := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.crawlProduct(ctx, r, productURL, log)
		if r.processed%r.every == 0 {
			if err := s.saveProgress(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// crawlProduct extracts and stores one product. Failures are logged and the
// crawl moves on.
func (s *Service) crawlProduct(ctx context.Context, r *run, productURL string, log *zap.Logger) {
	r.processed++
	res := s.extractor.ExtractProduct(ctx, productURL)
	if !res.Success || res.Product == nil {
		log.Warn("product extraction failed", zap.String("url", productURL), zap.Error(res.Err))
		return
	}
	if err := s.store(ctx, r, *res.Product, log); err != nil {
		log.Warn("product upsert failed", zap.String("url", productURL), zap.Error(err))
	}
}

func (s *Service) refreshProduct(ctx context.Context, r *run, log *zap.Logger) error {
	r.processed++
	res := s.extractor.ExtractProduct(ctx, r.req.URL)
	if !res.Success || res.Product == nil {
		err := res.Err
		if err == nil {
			err = errors.New("extractor returned no product")
		}
		return fmt.Errorf("refresh %s: %w", r.req.URL, err)
	}
	if err := s.store(ctx, r, *res.Product, log); err != nil {
		return fmt.Errorf("refresh %s: %w", r.req.URL, err)
	}
	return nil
}

func (s *Service) store(ctx context.Context, r *run, product crawler.Product, log *zap.Logger) error {
	res, err := s.products.UpsertProduct(ctx, product)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", product.ID, err)
	}
	r.updated++
	if res.Snapshot != nil {
		if res.PriceChanged {
			metrics.ObservePriceChange()
		}
		s.publishPrice(ctx, r.job.ID, res, log)
	}
	return nil
}

func (s *Service) saveProgress(ctx context.Context, r *run) error {
	if _, err := s.jobs.UpdateJob(ctx, r.job.ID, crawler.Progress(r.processed, r.updated)); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	s.logger.Debug("job progress saved",
		zap.String("job_id", r.job.ID),
		zap.Int("products_processed", r.processed),
		zap.Int("products_updated", r.updated),
	)
	return nil
}
