package extract

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// UnknownProductName is used when no layer produced a name.
const UnknownProductName = "Unknown Product"

var (
	nonPrice   = regexp.MustCompile(`[^0-9.]`)
	whitespace = regexp.MustCompile(`\s+`)
	currencies = map[string]string{
		"$": "USD",
		"€": "EUR",
		"£": "GBP",
		"¥": "JPY",
	}
)

// NormalizeOptions carries the site-wide values a page cannot supply.
type NormalizeOptions struct {
	Vendor          string
	DefaultCurrency string
	Now             time.Time
}

// Normalize turns a folded Partial into a Product. It never fails: missing
// fields become placeholders so callers always receive a well-formed record.
func Normalize(p Partial, sourceURL string, opts NormalizeOptions) crawler.Product {
	name := UnknownProductName
	if p.Name != nil {
		name = collapseSpace(*p.Name)
	}
	if name == "" {
		name = UnknownProductName
	}

	price := decimal.Zero
	if p.PriceText != nil {
		price = ParsePrice(*p.PriceText)
	}

	currency := strings.ToUpper(strings.TrimSpace(deref(p.Currency)))
	if currency == "" && p.PriceText != nil {
		currency = currencyFromSymbol(*p.PriceText)
	}
	if currency == "" {
		currency = opts.DefaultCurrency
	}
	if currency == "" {
		currency = "USD"
	}

	sku := strings.TrimSpace(deref(p.SKU))
	product := crawler.Product{
		ID:             DeriveID(sku, name, sourceURL),
		Name:           name,
		SKU:            sku,
		Vendor:         opts.Vendor,
		Category:       strings.TrimSpace(deref(p.Category)),
		Unit:           ParseUnit(deref(p.UnitText)),
		Price:          &price,
		Currency:       currency,
		SourceURL:      sourceURL,
		ImageURLs:      absoluteImages(p.ImageURLs, sourceURL),
		Description:    strings.TrimSpace(deref(p.Description)),
		Specifications: make(map[string]string, len(p.Specifications)+1),
		IsActive:       price.GreaterThan(decimal.Zero),
		LastUpdated:    opts.Now,
	}
	for k, v := range p.Specifications {
		product.Specifications[k] = v
	}
	if p.Brand != nil {
		if _, ok := product.Specifications["Brand"]; !ok {
			product.Specifications["Brand"] = *p.Brand
		}
	}
	return product
}

// ParsePrice strips everything but digits and dots and parses the rest.
// Unparseable input yields zero.
func ParsePrice(text string) decimal.Decimal {
	cleaned := nonPrice.ReplaceAllString(text, "")
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return d
}

var (
	footWord = regexp.MustCompile(`(?:^|[^a-z])(?:ft|foot|feet)(?:[^a-z]|$)`)
	packWord = regexp.MustCompile(`(?:^|[^a-z])(?:pack|packs|pkg)(?:[^a-z]|$)`)
)

// ParseUnit maps free text onto a unit of sale. Unit words only count when
// they stand alone, so "10ft" is a foot but "soft-start kit" is not.
func ParseUnit(text string) crawler.Unit {
	t := strings.ToLower(text)
	switch {
	case footWord.MatchString(t):
		return crawler.UnitFoot
	case packWord.MatchString(t):
		return crawler.UnitPack
	default:
		return crawler.UnitEach
	}
}

func currencyFromSymbol(text string) string {
	for symbol, code := range currencies {
		if strings.Contains(text, symbol) {
			return code
		}
	}
	return ""
}

func absoluteImages(images []string, sourceURL string) []string {
	base, _ := url.Parse(sourceURL)
	seen := make(map[string]struct{}, len(images))
	out := make([]string, 0, len(images))
	for _, img := range images {
		abs, err := crawler.ResolveURL(base, img)
		if err != nil {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}

func collapseSpace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
