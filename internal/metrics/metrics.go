// Package metrics exposes Prometheus collectors for the catalog crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	policyLookupsTotal         *prometheus.CounterVec
	policyFallbacksTotal       *prometheus.CounterVec
	policyDeniedTotal          prometheus.Counter
	renderDurationSeconds      *prometheus.HistogramVec
	extractionsTotal           *prometheus.CounterVec
	extractionRetriesTotal     prometheus.Counter
	hostWaitSeconds            *prometheus.HistogramVec
	productsTotal              *prometheus.CounterVec
	priceChangesTotal          prometheus.Counter
	jobsTotal                  *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		policyLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_policy_lookups_total",
				Help: "Robots policy cache lookups, labeled by result (hit, miss).",
			},
			[]string{"result"},
		)

		policyFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_policy_fallbacks_total",
				Help: "Times a permissive policy was substituted, labeled by reason.",
			},
			[]string{"reason"},
		)

		policyDeniedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_policy_denied_total",
				Help: "Fetches refused by robots policy before any request was made.",
			},
		)

		renderDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_render_duration_seconds",
				Help:    "Headless render latency, labeled by site and outcome.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site", "outcome"},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_extractions_total",
				Help: "Extraction attempts, labeled by page kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		extractionRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_extraction_retries_total",
				Help: "Product extraction attempts that were retried.",
			},
		)

		productsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_products_total",
				Help: "Products handled by crawl jobs, labeled by job type and result (processed, updated).",
			},
			[]string{"job_type", "result"},
		)

		priceChangesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_price_changes_total",
				Help: "Price snapshots recorded after an upsert detected a price change.",
			},
		)

		hostWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_host_wait_seconds",
				Help:    "Time spent waiting for a per-host request budget, labeled by site.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_jobs_total",
				Help: "Crawl jobs finished, labeled by type and status.",
			},
			[]string{"job_type", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_job_duration_seconds",
				Help:    "Crawl job wall time, labeled by type.",
				Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"job_type"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePolicyLookup records a robots cache hit or miss.
func ObservePolicyLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	policyLookupsTotal.WithLabelValues(result).Inc()
}

// ObservePolicyFallback records a permissive policy substitution.
func ObservePolicyFallback(reason string) {
	Init()
	policyFallbacksTotal.WithLabelValues(reason).Inc()
}

// ObservePolicyDenied records a fetch refused by robots policy.
func ObservePolicyDenied() {
	Init()
	policyDeniedTotal.Inc()
}

// ObserveRender records one headless render.
func ObserveRender(site, outcome string, duration time.Duration) {
	Init()
	renderDurationSeconds.WithLabelValues(SanitizeSite(site), outcome).Observe(duration.Seconds())
}

// ObserveExtraction records an extraction outcome for a page kind.
func ObserveExtraction(kind, outcome string) {
	Init()
	extractionsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRetry records a retried product extraction attempt.
func ObserveRetry() {
	Init()
	extractionRetriesTotal.Inc()
}

// ObserveHostWait records time blocked on a per-host request budget.
func ObserveHostWait(site string, duration time.Duration) {
	Init()
	hostWaitSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// AddProducts adds processed and updated product counts for a job type.
func AddProducts(jobType string, processed, updated int) {
	Init()
	if processed > 0 {
		productsTotal.WithLabelValues(jobType, "processed").Add(float64(processed))
	}
	if updated > 0 {
		productsTotal.WithLabelValues(jobType, "updated").Add(float64(updated))
	}
}

// ObservePriceChange records a new price snapshot.
func ObservePriceChange() {
	Init()
	priceChangesTotal.Inc()
}

// ObserveJob records a finished job and its wall time.
func ObserveJob(jobType, status string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(jobType, status).Inc()
	jobDurationSeconds.WithLabelValues(jobType).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
