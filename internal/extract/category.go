package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// DefaultProductPathSegments mark a link path as a product page.
var DefaultProductPathSegments = []string{"/p/", "/product/", "/products/", "/item/", "/dp/"}

// Anchor strategies for product links on a listing page, tried in order.
var productLinkStrategies = []string{
	`a[data-testid="product-link"]`,
	`.product-card a[href], .product-tile a[href], a.product-card, a.product-link`,
	`.product-grid a[href], .product-list a[href], .products a[href]`,
	`[itemtype$="Product"] a[href]`,
	`a[href]`,
}

var nextPageSelectors = []string{
	`link[rel="next"]`,
	`a[rel="next"]`,
	`.pagination .next a`,
	`.pagination a.next`,
	`a.next`,
	`a[aria-label="Next page"]`,
	`a[aria-label="Next"]`,
}

// productLinks returns the deduplicated absolute product URLs of the first
// strategy that finds any.
func productLinks(doc *goquery.Document, base *url.URL, segments []string) []string {
	for _, strategy := range productLinkStrategies {
		links := collectLinks(doc.Find(strategy), base, segments)
		if len(links) > 0 {
			return links
		}
	}
	return nil
}

func collectLinks(sel *goquery.Selection, base *url.URL, segments []string) []string {
	seen := map[string]struct{}{}
	var out []string
	sel.Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		abs, err := crawler.ResolveURL(base, href)
		if err != nil || !isProductURL(abs, segments) {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}

func isProductURL(rawURL string, segments []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, seg := range segments {
		if strings.Contains(path, strings.ToLower(seg)) {
			return true
		}
	}
	return false
}

func nextPage(doc *goquery.Document, base *url.URL) string {
	for _, sel := range nextPageSelectors {
		href, ok := doc.Find(sel).First().Attr("href")
		if !ok {
			continue
		}
		if abs, err := crawler.ResolveURL(base, href); err == nil {
			return abs
		}
	}
	return ""
}
