package extract

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func TestParsePrice(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"$19.99":     "19.99",
		"1,299.50":   "1299.5",
		" 7 USD ":    "7",
		"abc":        "0",
		"":           "0",
		"$.":         "0",
		"1.2.3":      "0",
		"Now $5.00!": "5",
	}
	for in, want := range cases {
		assert.True(t, decimal.RequireFromString(want).Equal(ParsePrice(in)), "%q -> %s", in, ParsePrice(in))
	}
}

func TestParseUnit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, crawler.UnitFoot, ParseUnit("per ft"))
	assert.Equal(t, crawler.UnitFoot, ParseUnit("Linear Foot"))
	assert.Equal(t, crawler.UnitFoot, ParseUnit("10 feet"))
	assert.Equal(t, crawler.UnitPack, ParseUnit("6-Pack"))
	assert.Equal(t, crawler.UnitPack, ParseUnit("PKG of 10"))
	assert.Equal(t, crawler.UnitEach, ParseUnit("ea"))
	assert.Equal(t, crawler.UnitEach, ParseUnit(""))
	assert.Equal(t, crawler.UnitFoot, ParseUnit("10ft"))
	assert.Equal(t, crawler.UnitFoot, ParseUnit("$1.25/ft."))
	assert.Equal(t, crawler.UnitEach, ParseUnit("Soft-Start Kit"))
	assert.Equal(t, crawler.UnitEach, ParseUnit("Left Bracket"))
	assert.Equal(t, crawler.UnitEach, ParseUnit("Backpack Sprayer"))
}

func TestNormalizePlaceholder(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := Normalize(Partial{}, "https://shop.test/p/mystery", NormalizeOptions{Vendor: "shop", Now: now})

	assert.Equal(t, UnknownProductName, p.Name)
	require.NotNil(t, p.Price)
	assert.True(t, p.Price.IsZero())
	assert.False(t, p.IsActive)
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, crawler.UnitEach, p.Unit)
	assert.Equal(t, "unknown-product-mystery", p.ID)
	assert.Equal(t, "shop", p.Vendor)
	assert.Equal(t, now, p.LastUpdated)
	assert.NotNil(t, p.Specifications)
}

func TestNormalizeFields(t *testing.T) {
	t.Parallel()

	partial := Partial{
		Name:      str("  Copper   Pipe "),
		SKU:       str("CP-10"),
		PriceText: str("€12,50"),
		UnitText:  str("per foot"),
		Brand:     str("Acme"),
		ImageURLs: []string{"/img/a.jpg", "https://cdn.test/b.jpg", "/img/a.jpg", "javascript:void(0)"},
		Specifications: map[string]string{
			"Length": "10 ft",
		},
	}
	p := Normalize(partial, "https://shop.test/p/copper-pipe", NormalizeOptions{DefaultCurrency: "USD"})

	assert.Equal(t, "Copper Pipe", p.Name)
	assert.Equal(t, "cp-10", p.ID)
	assert.Equal(t, "CP-10", p.SKU)
	assert.True(t, decimal.RequireFromString("1250").Equal(*p.Price))
	assert.Equal(t, "EUR", p.Currency)
	assert.Equal(t, crawler.UnitFoot, p.Unit)
	assert.True(t, p.IsActive)
	assert.Equal(t, []string{"https://shop.test/img/a.jpg", "https://cdn.test/b.jpg"}, p.ImageURLs)
	assert.Equal(t, map[string]string{"Length": "10 ft", "Brand": "Acme"}, p.Specifications)
	assert.Equal(t, map[string]string{"Length": "10 ft"}, partial.Specifications)
}

func TestFoldFirstNonEmptyWins(t *testing.T) {
	t.Parallel()

	first := Partial{Name: str("From JSON-LD")}
	second := Partial{Name: str("From meta"), PriceText: str("9.99"), ImageURLs: []string{"a.jpg"}}
	third := Partial{PriceText: str("1.00"), SKU: str("S"), ImageURLs: []string{"b.jpg"}}

	got := Fold(first, second, third)
	assert.Equal(t, "From JSON-LD", *got.Name)
	assert.Equal(t, "9.99", *got.PriceText)
	assert.Equal(t, "S", *got.SKU)
	assert.Equal(t, []string{"a.jpg"}, got.ImageURLs)
	assert.False(t, got.Empty())
	assert.True(t, Fold().Empty())
}
