package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// jsonLDLayer reads the first schema.org Product found in the page's
// ld+json blocks. Blocks that fail to parse are skipped.
func jsonLDLayer(doc *goquery.Document) Partial {
	var out Partial
	found := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &raw); err != nil {
			return true
		}
		if product := findProductNode(raw); product != nil {
			out = productFromJSONLD(product)
			found = true
			return false
		}
		return true
	})
	if !found {
		return Partial{}
	}
	return out
}

func findProductNode(node any) map[string]any {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			if p := findProductNode(item); p != nil {
				return p
			}
		}
	case map[string]any:
		if isProductType(v["@type"]) {
			return v
		}
		if graph, ok := v["@graph"]; ok {
			return findProductNode(graph)
		}
	}
	return nil
}

func isProductType(t any) bool {
	switch v := t.(type) {
	case string:
		return strings.EqualFold(v, "Product")
	case []any:
		for _, item := range v {
			if isProductType(item) {
				return true
			}
		}
	}
	return false
}

func productFromJSONLD(node map[string]any) Partial {
	p := Partial{
		Name:        str(scalar(node["name"])),
		SKU:         str(scalar(node["sku"])),
		Category:    str(scalar(node["category"])),
		Description: str(scalar(node["description"])),
		ImageURLs:   imageList(node["image"]),
	}
	if p.SKU == nil {
		p.SKU = str(scalar(node["mpn"]))
	}
	switch brand := node["brand"].(type) {
	case map[string]any:
		p.Brand = str(scalar(brand["name"]))
	default:
		p.Brand = str(scalar(brand))
	}
	if offer := firstOffer(node["offers"]); offer != nil {
		price := scalar(offer["price"])
		if price == "" {
			price = scalar(offer["lowPrice"])
		}
		p.PriceText = str(price)
		p.Currency = str(scalar(offer["priceCurrency"]))
	}
	return p
}

func firstOffer(offers any) map[string]any {
	switch v := offers.(type) {
	case map[string]any:
		return v
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

func imageList(v any) []string {
	switch img := v.(type) {
	case string:
		return []string{img}
	case map[string]any:
		if u := scalar(img["url"]); u != "" {
			return []string{u}
		}
	case []any:
		var out []string
		for _, item := range img {
			out = append(out, imageList(item)...)
		}
		return out
	}
	return nil
}

// scalar renders JSON strings and numbers as text; anything else is empty.
func scalar(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	}
	return ""
}
