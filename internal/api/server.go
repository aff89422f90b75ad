package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/orchestrator"
)

const (
	defaultJobLimit     = 20
	maxJobLimit         = 200
	defaultPriceLimit   = 100
	defaultRouteTimeout = 30 * time.Second
)

// Crawls is the orchestrator surface the API drives.
type Crawls interface {
	Launch(ctx context.Context, req orchestrator.Request) (crawler.Job, error)
	GetJob(ctx context.Context, id string) (crawler.Job, error)
	RecentJobs(ctx context.Context, limit int) ([]crawler.Job, error)
	RunningJob(ctx context.Context) (*crawler.Job, error)
}

// Options configures the server middleware.
type Options struct {
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the orchestrator and product store.
type Server struct {
	router   chi.Router
	crawls   Crawls
	products crawler.ProductStore
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. An empty APIKey
// disables authentication.
func NewServer(crawls Crawls, products crawler.ProductStore, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRouteTimeout
	}
	s := &Server{
		crawls:   crawls,
		products: products,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/full", s.startFullCrawl)
			r.Post("/category", s.startURLCrawl(crawler.JobTypeCategory))
			r.Post("/product", s.startURLCrawl(crawler.JobTypeProduct))
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Get("/running", s.runningJob)
			r.Get("/{job_id}", s.getJob)
		})
		r.Route("/products/{product_id}", func(r chi.Router) {
			r.Get("/", s.getProduct)
			r.Get("/prices", s.priceHistory)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz checks that the job store answers.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.crawls.RunningJob(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	URL string `json:"url"`
}

func (s *Server) startFullCrawl(w http.ResponseWriter, r *http.Request) {
	s.launch(w, r, orchestrator.Request{Type: crawler.JobTypeFull})
}

func (s *Server) startURLCrawl(jobType crawler.JobType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req crawlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		target, err := crawler.ResolveURL(nil, req.URL)
		if err != nil || !hasHost(target) {
			writeError(w, http.StatusBadRequest, "url must be an absolute http(s) url")
			return
		}
		s.launch(w, r, orchestrator.Request{Type: jobType, URL: target})
	}
}

func (s *Server) launch(w http.ResponseWriter, r *http.Request, req orchestrator.Request) {
	job, err := s.crawls.Launch(r.Context(), req)
	var running *crawler.AlreadyRunningError
	switch {
	case errors.As(err, &running):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":          "crawl already in progress",
			"running_job_id": running.JobID,
		})
	case errors.Is(err, crawler.ErrCrawlInProgress):
		writeError(w, http.StatusConflict, "crawl already in progress")
	case err != nil:
		s.logger.Error("launch crawl", zap.String("job_type", string(req.Type)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start crawl")
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r, defaultJobLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	jobs, err := s.crawls.RecentJobs(r.Context(), min(limit, maxJobLimit))
	if err != nil {
		s.logger.Error("list jobs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) runningJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.crawls.RunningJob(r.Context())
	if err != nil {
		s.logger.Error("running job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read running job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !uuid.Valid(jobID) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	job, err := s.crawls.GetJob(r.Context(), jobID)
	if s.notFoundOrError(w, err, "job") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.products.GetProduct(r.Context(), chi.URLParam(r, "product_id"))
	if s.notFoundOrError(w, err, "product") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (s *Server) priceHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r, defaultPriceLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	productID := chi.URLParam(r, "product_id")
	history, err := s.products.ListPriceHistory(r.Context(), productID, limit)
	if s.notFoundOrError(w, err, "product") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": productID, "prices": history})
}

// notFoundOrError writes a response for err and reports whether it did.
func (s *Server) notFoundOrError(w http.ResponseWriter, err error, kind string) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, crawler.ErrNotFound):
		writeError(w, http.StatusNotFound, kind+" not found")
	default:
		s.logger.Error("lookup failed", zap.String("kind", kind), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load "+kind)
	}
	return true
}

func hasHost(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Host != ""
}

func parseLimit(r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
