package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// PriceEvent is published for every recorded price snapshot.
type PriceEvent struct {
	JobID         string    `json:"job_id"`
	ProductID     string    `json:"product_id"`
	Name          string    `json:"name"`
	SourceURL     string    `json:"source_url"`
	Price         string    `json:"price"`
	PreviousPrice *string   `json:"previous_price,omitempty"`
	Currency      string    `json:"currency"`
	Initial       bool      `json:"initial"`
	CapturedAt    time.Time `json:"captured_at"`
	PublishedAt   time.Time `json:"published_at"`
}

func newPriceEvent(jobID string, res crawler.UpsertResult, now time.Time) PriceEvent {
	ev := PriceEvent{
		JobID:       jobID,
		ProductID:   res.Snapshot.ProductID,
		Name:        res.Product.Name,
		SourceURL:   res.Product.SourceURL,
		Price:       res.Snapshot.Price.StringFixed(2),
		Currency:    res.Snapshot.Currency,
		Initial:     !res.PriceChanged,
		CapturedAt:  res.Snapshot.CapturedAt,
		PublishedAt: now,
	}
	if res.PreviousPrice != nil {
		prev := res.PreviousPrice.StringFixed(2)
		ev.PreviousPrice = &prev
	}
	return ev
}

// publishPrice is best effort: a failed publish never fails the crawl.
func (s *Service) publishPrice(ctx context.Context, jobID string, res crawler.UpsertResult, log *zap.Logger) {
	if s.publisher == nil || s.cfg.PriceTopic == "" {
		return
	}
	ev := newPriceEvent(jobID, res, s.clock.Now())
	id, err := s.publisher.Publish(ctx, s.cfg.PriceTopic, ev)
	if err != nil {
		log.Warn("price event publish failed", zap.String("product_id", ev.ProductID), zap.Error(err))
		return
	}
	log.Debug("price event published", zap.String("product_id", ev.ProductID), zap.String("message_id", id))
}
