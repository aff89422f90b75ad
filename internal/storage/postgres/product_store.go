package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const (
	selectPriceForUpdate = `SELECT price::text FROM products WHERE id = $1 FOR UPDATE`

	upsertProductSQL = `
INSERT INTO products (
	id, name, sku, vendor, category, unit, price, currency, source_url,
	image_urls, description, specifications, is_active, last_updated
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	sku = EXCLUDED.sku,
	vendor = EXCLUDED.vendor,
	category = EXCLUDED.category,
	unit = EXCLUDED.unit,
	price = EXCLUDED.price,
	currency = EXCLUDED.currency,
	source_url = EXCLUDED.source_url,
	image_urls = EXCLUDED.image_urls,
	description = EXCLUDED.description,
	specifications = EXCLUDED.specifications,
	is_active = EXCLUDED.is_active,
	last_updated = EXCLUDED.last_updated`

	insertSnapshotSQL = `
INSERT INTO price_snapshots (product_id, price, currency, captured_at)
VALUES ($1, $2, $3, $4)`

	selectProductSQL = `
SELECT id, name, sku, vendor, category, unit, price::text, currency, source_url,
	image_urls, description, specifications, is_active, last_updated
FROM products
WHERE id = $1`

	productExistsSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`

	selectHistorySQL = `
SELECT product_id, price::text, currency, captured_at
FROM price_snapshots
WHERE product_id = $1
ORDER BY captured_at DESC, id DESC
LIMIT NULLIF($2, 0)`
)

// ProductStore persists products and price snapshots in Postgres.
type ProductStore struct {
	db    DB
	clock crawler.Clock
}

// NewProductStore constructs a store from an existing pool or pgxmock.
func NewProductStore(db DB, clock crawler.Clock) (*ProductStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProductStore{db: db, clock: clock}, nil
}

// UpsertProduct writes product and, in the same transaction, appends a price
// snapshot when the price changed. The existing row is locked for the
// duration so concurrent upserts of one product serialize.
func (s *ProductStore) UpsertProduct(ctx context.Context, product crawler.Product) (crawler.UpsertResult, error) {
	if product.ID == "" {
		return crawler.UpsertResult{}, fmt.Errorf("upsert product: empty id")
	}
	product.Price = roundPrice(product.Price)
	specs, err := json.Marshal(nonNilSpecs(product.Specifications))
	if err != nil {
		return crawler.UpsertResult{}, fmt.Errorf("marshal specifications: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return crawler.UpsertResult{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer rollback(ctx, tx)

	var prev *crawler.Product
	var prevPrice *string
	switch err := tx.QueryRow(ctx, selectPriceForUpdate, product.ID).Scan(&prevPrice); {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return crawler.UpsertResult{}, fmt.Errorf("lock product %s: %w", product.ID, err)
	default:
		price, err := parseNullablePrice(prevPrice)
		if err != nil {
			return crawler.UpsertResult{}, err
		}
		prev = &crawler.Product{ID: product.ID, Price: price}
	}

	images := product.ImageURLs
	if images == nil {
		images = []string{}
	}
	if _, err := tx.Exec(ctx, upsertProductSQL,
		product.ID,
		product.Name,
		product.SKU,
		product.Vendor,
		product.Category,
		string(product.Unit),
		priceText(product.Price),
		product.Currency,
		product.SourceURL,
		images,
		product.Description,
		specs,
		product.IsActive,
		product.LastUpdated,
	); err != nil {
		return crawler.UpsertResult{}, fmt.Errorf("upsert product %s: %w", product.ID, err)
	}

	result := crawler.UpsertResult{Product: product, Created: prev == nil}
	if crawler.NeedsSnapshot(prev, product) {
		snap := crawler.PriceSnapshot{
			ProductID:  product.ID,
			Price:      *product.Price,
			Currency:   product.Currency,
			CapturedAt: s.clock.Now(),
		}
		if _, err := tx.Exec(ctx, insertSnapshotSQL,
			snap.ProductID, priceText(&snap.Price), snap.Currency, snap.CapturedAt,
		); err != nil {
			return crawler.UpsertResult{}, fmt.Errorf("insert price snapshot %s: %w", product.ID, err)
		}
		result.Snapshot = &snap
		if prev != nil && prev.Price != nil {
			result.PriceChanged = true
			result.PreviousPrice = prev.Price
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return crawler.UpsertResult{}, fmt.Errorf("commit upsert %s: %w", product.ID, err)
	}
	return result, nil
}

// GetProduct fetches a product by ID.
func (s *ProductStore) GetProduct(ctx context.Context, id string) (crawler.Product, error) {
	var (
		p     crawler.Product
		unit  string
		price *string
		specs []byte
	)
	err := s.db.QueryRow(ctx, selectProductSQL, id).Scan(
		&p.ID,
		&p.Name,
		&p.SKU,
		&p.Vendor,
		&p.Category,
		&unit,
		&price,
		&p.Currency,
		&p.SourceURL,
		&p.ImageURLs,
		&p.Description,
		&specs,
		&p.IsActive,
		&p.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Product{}, fmt.Errorf("product %s: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Product{}, fmt.Errorf("get product %s: %w", id, err)
	}
	p.Unit = crawler.Unit(unit)
	if p.Price, err = parseNullablePrice(price); err != nil {
		return crawler.Product{}, err
	}
	if len(specs) > 0 {
		if err := json.Unmarshal(specs, &p.Specifications); err != nil {
			return crawler.Product{}, fmt.Errorf("decode specifications: %w", err)
		}
	}
	return p, nil
}

// ListPriceHistory returns up to limit snapshots, newest first. A limit of
// zero returns all of them.
func (s *ProductStore) ListPriceHistory(ctx context.Context, productID string, limit int) ([]crawler.PriceSnapshot, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, productExistsSQL, productID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check product %s: %w", productID, err)
	}
	if !exists {
		return nil, fmt.Errorf("product %s: %w", productID, crawler.ErrNotFound)
	}
	if limit < 0 {
		limit = 0
	}
	rows, err := s.db.Query(ctx, selectHistorySQL, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}
	defer rows.Close()

	history := []crawler.PriceSnapshot{}
	for rows.Next() {
		var (
			snap  crawler.PriceSnapshot
			price string
		)
		if err := rows.Scan(&snap.ProductID, &price, &snap.Currency, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan price snapshot: %w", err)
		}
		if snap.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse snapshot price %q: %w", price, err)
		}
		history = append(history, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price history: %w", err)
	}
	return history, nil
}

// priceScale matches the NUMERIC(12, 2) price columns. Prices are rounded
// before comparison so the stored and incoming values agree.
const priceScale = 2

func roundPrice(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	r := d.Round(priceScale)
	return &r
}

func priceText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseNullablePrice(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("parse price %q: %w", *s, err)
	}
	return &d, nil
}

func nonNilSpecs(specs map[string]string) map[string]string {
	if specs == nil {
		return map[string]string{}
	}
	return specs
}

var _ crawler.ProductStore = (*ProductStore)(nil)
