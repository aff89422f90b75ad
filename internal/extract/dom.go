package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Candidate selectors per field, most specific first.
var (
	nameSelectors = []string{
		`h1[itemprop="name"]`,
		`[data-testid="product-title"]`,
		`h1.product-title`,
		`h1.product-name`,
		`.product-title`,
		`.product-name`,
		`h1`,
	}
	priceSelectors = []string{
		`[itemprop="price"]`,
		`[data-testid="product-price"]`,
		`.price .sale`,
		`.product-price`,
		`.price-current`,
		`.price`,
	}
	skuSelectors = []string{
		`[itemprop="sku"]`,
		`[data-testid="product-sku"]`,
		`.product-sku`,
		`.sku`,
	}
	breadcrumbSelectors = []string{
		`[itemtype$="BreadcrumbList"] a`,
		`nav[aria-label="breadcrumb"] a`,
		`.breadcrumb a`,
		`.breadcrumbs a`,
	}
	unitSelectors = []string{
		`[itemprop="unitText"]`,
		`[data-testid="product-unit"]`,
		`.price-unit`,
		`.unit-of-measure`,
		`.uom`,
		`.unit`,
	}
	descriptionSelectors = []string{
		`[itemprop="description"]`,
		`[data-testid="product-description"]`,
		`.product-description`,
		`#description`,
	}
	imageSelectors = []string{
		`img[itemprop="image"]`,
		`.product-gallery img`,
		`.product-image img`,
		`.product-images img`,
	}
	specContainers = `.specifications, .specs, .product-specs, #specifications, [data-testid="product-specs"]`
)

// domLayer reads text content from the rendered DOM.
func domLayer(doc *goquery.Document) Partial {
	p := Partial{
		Name:           firstText(doc, nameSelectors),
		PriceText:      firstPriceText(doc),
		SKU:            firstText(doc, skuSelectors),
		Category:       lastBreadcrumb(doc),
		UnitText:       firstText(doc, unitSelectors),
		Description:    firstText(doc, descriptionSelectors),
		ImageURLs:      images(doc),
		Specifications: specifications(doc),
	}
	if p.SKU == nil {
		if v, ok := doc.Find(`[data-sku]`).First().Attr("data-sku"); ok {
			p.SKU = str(v)
		}
	}
	return p
}

func firstText(doc *goquery.Document, selectors []string) *string {
	for _, sel := range selectors {
		var found *string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = str(s.Text())
			return found == nil
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// firstPriceText prefers a machine readable content attribute over the
// displayed text.
func firstPriceText(doc *goquery.Document) *string {
	for _, sel := range priceSelectors {
		var found *string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if content, ok := s.Attr("content"); ok {
				found = str(content)
			}
			if found == nil {
				found = str(s.Text())
			}
			return found == nil
		})
		if found != nil {
			return found
		}
	}
	return nil
}

func lastBreadcrumb(doc *goquery.Document) *string {
	for _, sel := range breadcrumbSelectors {
		var last *string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if v := str(s.Text()); v != nil {
				last = v
			}
		})
		if last != nil {
			return last
		}
	}
	return nil
}

func images(doc *goquery.Document) []string {
	for _, sel := range imageSelectors {
		var out []string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			for _, attr := range []string{"src", "data-src", "content"} {
				if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
					out = append(out, strings.TrimSpace(v))
					return
				}
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// specifications reads th/td table rows and dt/dd pairs inside the known
// specification containers.
func specifications(doc *goquery.Document) map[string]string {
	specs := map[string]string{}
	containers := doc.Find(specContainers)
	containers.Find("tr").Each(func(_ int, row *goquery.Selection) {
		key := str(row.Find("th").First().Text())
		val := str(row.Find("td").Last().Text())
		if key == nil {
			cells := row.Find("td")
			if cells.Length() >= 2 {
				key = str(cells.First().Text())
			}
		}
		if key != nil && val != nil {
			specs[*key] = *val
		}
	})
	containers.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		key := str(dt.Text())
		val := str(dt.NextFiltered("dd").Text())
		if key != nil && val != nil {
			specs[*key] = *val
		}
	})
	if len(specs) == 0 {
		return nil
	}
	return specs
}
