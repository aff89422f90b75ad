package extract

import (
	"github.com/PuerkitoBio/goquery"
)

func metaLayer(doc *goquery.Document) Partial {
	p := Partial{
		Name:        metaContent(doc, "og:title"),
		PriceText:   metaContent(doc, "product:price:amount", "og:price:amount"),
		Currency:    metaContent(doc, "product:price:currency", "og:price:currency"),
		SKU:         metaContent(doc, "product:sku", "product:retailer_item_id"),
		Description: metaContent(doc, "og:description"),
	}
	if img := metaContent(doc, "og:image"); img != nil {
		p.ImageURLs = []string{*img}
	}
	return p
}

// metaContent returns the content of the first meta tag whose property or
// name equals one of keys.
func metaContent(doc *goquery.Document, keys ...string) *string {
	for _, key := range keys {
		sel := doc.Find(`meta[property="` + key + `"], meta[name="` + key + `"]`).First()
		if content, ok := sel.Attr("content"); ok {
			if v := str(content); v != nil {
				return v
			}
		}
	}
	return nil
}
