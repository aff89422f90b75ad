package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestJSONLDLayerGraphAndOffers(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<html><head>
<script type="application/ld+json">{ not json </script>
<script type="application/ld+json">{"@context":"https://schema.org","@graph":[
  {"@type":"BreadcrumbList","name":"crumbs"},
  {"@type":["Product","Thing"],"name":"Widget","sku":"W-1","category":"Tools",
   "description":"A fine widget","brand":{"@type":"Brand","name":"Acme"},
   "image":[{"url":"/img/1.jpg"},"/img/2.jpg"],
   "offers":[{"@type":"AggregateOffer","lowPrice":19.99,"priceCurrency":"USD"}]}
]}</script></head><body></body></html>`)

	p := jsonLDLayer(doc)
	require.NotNil(t, p.Name)
	assert.Equal(t, "Widget", *p.Name)
	assert.Equal(t, "W-1", *p.SKU)
	assert.Equal(t, "19.99", *p.PriceText)
	assert.Equal(t, "USD", *p.Currency)
	assert.Equal(t, "Tools", *p.Category)
	assert.Equal(t, "A fine widget", *p.Description)
	assert.Equal(t, "Acme", *p.Brand)
	assert.Equal(t, []string{"/img/1.jpg", "/img/2.jpg"}, p.ImageURLs)
}

func TestJSONLDLayerIgnoresNonProducts(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<script type="application/ld+json">[{"@type":"Organization","name":"Shop"}]</script>`)
	assert.True(t, jsonLDLayer(doc).Empty())
}

func TestMetaLayer(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<html><head>
<meta property="og:title" content="Gadget">
<meta property="product:price:amount" content="5.25">
<meta property="product:price:currency" content="CAD">
<meta name="product:sku" content="G-7">
<meta property="og:image" content="https://cdn.test/g.jpg">
<meta property="og:description" content="  Handy   gadget ">
</head></html>`)

	p := metaLayer(doc)
	assert.Equal(t, "Gadget", *p.Name)
	assert.Equal(t, "5.25", *p.PriceText)
	assert.Equal(t, "CAD", *p.Currency)
	assert.Equal(t, "G-7", *p.SKU)
	assert.Equal(t, "Handy gadget", *p.Description)
	assert.Equal(t, []string{"https://cdn.test/g.jpg"}, p.ImageURLs)
}

func TestDOMLayer(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<html><body>
<nav aria-label="breadcrumb"><a href="/">Home</a><a href="/c/tools">Tools</a><a href="/c/tools/pipes">Pipes</a></nav>
<h1 class="product-title">  Copper Pipe </h1>
<span itemprop="price" content="12.40">$12.40</span>
<span class="sku">CP-1</span>
<span class="price-unit">/ ft</span>
<div class="product-gallery"><img src="/a.jpg"><img data-src="/b.jpg"></div>
<div class="product-description">Type L copper.</div>
<table class="specifications">
  <tr><th>Diameter</th><td>1/2 in</td></tr>
  <tr><td>Material</td><td>Copper</td></tr>
</table>
<dl class="specs"><dt>Length</dt><dd>10 ft</dd></dl>
</body></html>`)

	p := domLayer(doc)
	assert.Equal(t, "Copper Pipe", *p.Name)
	assert.Equal(t, "12.40", *p.PriceText)
	assert.Equal(t, "CP-1", *p.SKU)
	assert.Equal(t, "Pipes", *p.Category)
	assert.Equal(t, "/ ft", *p.UnitText)
	assert.Equal(t, "Type L copper.", *p.Description)
	assert.Equal(t, []string{"/a.jpg", "/b.jpg"}, p.ImageURLs)
	assert.Equal(t, map[string]string{
		"Diameter": "1/2 in",
		"Material": "Copper",
		"Length":   "10 ft",
	}, p.Specifications)
}

func TestDOMLayerSkipsEmptyMatches(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<h1 class="product-title"> </h1><h1>Fallback Title</h1><div data-sku="D-1"></div>`)
	p := domLayer(doc)
	assert.Equal(t, "Fallback Title", *p.Name)
	assert.Equal(t, "D-1", *p.SKU)
	assert.Nil(t, p.PriceText)
	assert.Nil(t, p.Specifications)
}

func TestStaticLayerFindsCurrencyToken(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<html><head><title>Shop</title></head><body>
<h1>Static Widget</h1><div class="price">Call for price</div>
<p>Today only: $1,049.00 while supplies last</p></body></html>`)
	p := staticLayer(doc)
	assert.Equal(t, "Static Widget", *p.Name)
	assert.Equal(t, "$1,049.00", *p.PriceText)

	doc = mustDoc(t, `<div class="product-price">24.50 USD</div>`)
	assert.Equal(t, "24.50 USD", *staticLayer(doc).PriceText)

	doc = mustDoc(t, `<p>nothing here</p>`)
	assert.Nil(t, staticLayer(doc).PriceText)
}
