package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// ProductStore keeps products and their price history in memory.
type ProductStore struct {
	mu        sync.RWMutex
	clock     crawler.Clock
	products  map[string]crawler.Product
	snapshots map[string][]crawler.PriceSnapshot
}

// NewProductStore constructs a ProductStore.
func NewProductStore(clock crawler.Clock) *ProductStore {
	return &ProductStore{
		clock:     clock,
		products:  make(map[string]crawler.Product),
		snapshots: make(map[string][]crawler.PriceSnapshot),
	}
}

// UpsertProduct inserts or replaces the product keyed by ID and appends a
// price snapshot when the price changed.
func (s *ProductStore) UpsertProduct(_ context.Context, product crawler.Product) (crawler.UpsertResult, error) {
	if product.ID == "" {
		return crawler.UpsertResult{}, fmt.Errorf("upsert product: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *crawler.Product
	if existing, ok := s.products[product.ID]; ok {
		prev = &existing
	}
	result := crawler.UpsertResult{Created: prev == nil}
	if crawler.NeedsSnapshot(prev, product) {
		snap := crawler.PriceSnapshot{
			ProductID:  product.ID,
			Price:      *product.Price,
			Currency:   product.Currency,
			CapturedAt: s.clock.Now(),
		}
		s.snapshots[product.ID] = append(s.snapshots[product.ID], snap)
		result.Snapshot = &snap
		if prev != nil && prev.Price != nil {
			previous := *prev.Price
			result.PriceChanged = true
			result.PreviousPrice = &previous
		}
	}
	stored := cloneProduct(product)
	s.products[product.ID] = stored
	result.Product = cloneProduct(stored)
	return result, nil
}

// GetProduct fetches a product by ID.
func (s *ProductStore) GetProduct(_ context.Context, id string) (crawler.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.products[id]
	if !ok {
		return crawler.Product{}, fmt.Errorf("product %s: %w", id, crawler.ErrNotFound)
	}
	return cloneProduct(product), nil
}

// ListPriceHistory returns up to limit snapshots, newest first.
func (s *ProductStore) ListPriceHistory(_ context.Context, productID string, limit int) ([]crawler.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.products[productID]; !ok {
		return nil, fmt.Errorf("product %s: %w", productID, crawler.ErrNotFound)
	}
	history := s.snapshots[productID]
	out := make([]crawler.PriceSnapshot, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func cloneProduct(p crawler.Product) crawler.Product {
	if p.Price != nil {
		price := *p.Price
		p.Price = &price
	}
	p.ImageURLs = append([]string(nil), p.ImageURLs...)
	if p.Specifications != nil {
		specs := make(map[string]string, len(p.Specifications))
		for k, v := range p.Specifications {
			specs[k] = v
		}
		p.Specifications = specs
	}
	return p
}

var _ crawler.ProductStore = (*ProductStore)(nil)
