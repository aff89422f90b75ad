package crawler

import (
	"context"
	"io"
	"time"
)

// ProductStore persists normalized products and their price history.
type ProductStore interface {
	UpsertProduct(ctx context.Context, product Product) (UpsertResult, error)
	GetProduct(ctx context.Context, id string) (Product, error)
	ListPriceHistory(ctx context.Context, productID string, limit int) ([]PriceSnapshot, error)
}

// JobStore persists crawl job records.
type JobStore interface {
	CreateJob(ctx context.Context, jobType JobType, targetURL string, metadata map[string]any) (Job, error)
	UpdateJob(ctx context.Context, id string, update JobUpdate) (Job, error)
	// GetRunningJob returns nil when no job is running.
	GetRunningJob(ctx context.Context) (*Job, error)
	GetJob(ctx context.Context, id string) (Job, error)
	RecentJobs(ctx context.Context, limit int) ([]Job, error)
}

// Browser renders pages with JavaScript enabled. Start and Close are idempotent.
type Browser interface {
	Start(ctx context.Context) error
	Render(ctx context.Context, req RenderRequest) (RenderedPage, error)
	Close() error
}

// StaticFetcher fetches raw HTML without executing scripts.
type StaticFetcher interface {
	FetchHTML(ctx context.Context, rawURL string) ([]byte, error)
}

// HostLimiter blocks until the host of rawURL may be requested again.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// PolicyEvaluator answers robots policy questions for a URL.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, rawURL, agent string) Verdict
}

// ProductExtractor pulls category listings and product records from pages.
type ProductExtractor interface {
	ExtractCategory(ctx context.Context, rawURL string) CategoryResult
	ExtractProduct(ctx context.Context, rawURL string) ProductResult
}

// CategoryWalker follows category pagination and collects product URLs.
type CategoryWalker interface {
	WalkCategory(ctx context.Context, startURL string, maxPages int) []string
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes price-change events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Verdict is the outcome of a robots policy evaluation.
type Verdict struct {
	Allowed       bool
	CrawlDelay    time.Duration
	HasCrawlDelay bool
	MatchedRule   string
}
