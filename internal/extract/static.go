package extract

import (
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

var (
	currencyPrice = regexp.MustCompile(`(?:[$€£¥]\s?\d[\d,]*(?:\.\d{1,2})?)|(?:\d[\d,]*(?:\.\d{1,2})?\s?(?:USD|EUR|GBP|CAD))`)

	staticNameSelectors = []string{
		`h1`,
		`.product-title`,
		`.product-name`,
		`title`,
	}
	staticPriceSelectors = []string{
		`[itemprop="price"]`,
		`.product-price`,
		`.price`,
		`[class*="price"]`,
		`body`,
	}
)

// staticLayer scans HTML that was fetched without running scripts. It only
// ever supplies a name and a price.
func staticLayer(doc *goquery.Document) Partial {
	p := Partial{Name: firstText(doc, staticNameSelectors)}
	for _, sel := range staticPriceSelectors {
		var token string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			token = currencyPrice.FindString(s.Text())
			return token == ""
		})
		if token != "" {
			p.PriceText = &token
			break
		}
	}
	return p
}
