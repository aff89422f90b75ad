package crawler

import (
	"time"

	"github.com/shopspring/decimal"
)

// Unit is the unit of sale for a product.
type Unit string

// Supported units of sale.
const (
	UnitEach Unit = "each"
	UnitFoot Unit = "foot"
	UnitPack Unit = "pack"
)

// Product is the canonical record produced by a successful extraction.
type Product struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	SKU            string            `json:"sku,omitempty"`
	Vendor         string            `json:"vendor"`
	Category       string            `json:"category,omitempty"`
	Unit           Unit              `json:"unit"`
	Price          *decimal.Decimal  `json:"price"`
	Currency       string            `json:"currency"`
	SourceURL      string            `json:"source_url"`
	ImageURLs      []string          `json:"image_urls"`
	Description    string            `json:"description,omitempty"`
	Specifications map[string]string `json:"specifications,omitempty"`
	IsActive       bool              `json:"is_active"`
	LastUpdated    time.Time         `json:"last_updated"`
}

// PriceSnapshot is an append-only price history row.
type PriceSnapshot struct {
	ProductID  string          `json:"product_id"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	CapturedAt time.Time       `json:"captured_at"`
}

// UpsertResult reports what a product upsert changed.
type UpsertResult struct {
	Product Product
	Created bool
	// PriceChanged is true when an existing product's price moved.
	PriceChanged  bool
	PreviousPrice *decimal.Decimal
	// Snapshot is set whenever a snapshot was appended, including the
	// initial one recorded on insert.
	Snapshot *PriceSnapshot
}

// JobType selects the crawl scope.
type JobType string

// Crawl job types.
const (
	JobTypeFull     JobType = "full"
	JobTypeCategory JobType = "category"
	JobTypeProduct  JobType = "product"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition may leave the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the persisted record of a crawl run.
type Job struct {
	ID                string         `json:"id"`
	Type              JobType        `json:"type"`
	Status            JobStatus      `json:"status"`
	TargetURL         string         `json:"target_url,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	ProductsProcessed int            `json:"products_processed"`
	ProductsUpdated   int            `json:"products_updated"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// JobUpdate carries a partial update; nil fields are left untouched.
type JobUpdate struct {
	Status            *JobStatus
	ProductsProcessed *int
	ProductsUpdated   *int
	ErrorMessage      *string
}

// ProductResult is returned by ProductExtractor.ExtractProduct.
type ProductResult struct {
	Success bool
	Product *Product
	Err     error
}

// CategoryResult is returned by ProductExtractor.ExtractCategory.
type CategoryResult struct {
	Success     bool
	ProductURLs []string
	NextPageURL string
	Err         error
}

// RenderRequest describes a single page render.
type RenderRequest struct {
	URL          string
	WaitSelector string
	WaitTimeout  time.Duration
}

// RenderedPage is the DOM snapshot produced by a Browser.
type RenderedPage struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
	// SelectorFound is false when WaitSelector did not appear before WaitTimeout.
	SelectorFound bool
	Duration      time.Duration
}
