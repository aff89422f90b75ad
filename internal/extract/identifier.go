package extract

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const maxIDLength = 100

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9]`)
	slugStrip  = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaces = regexp.MustCompile(`[\s-]+`)
)

// DeriveID computes the stable upsert key of a product. A SKU wins; otherwise
// the name slug is joined with the slug of the URL's last path segment. The
// result never exceeds 100 characters. When no ASCII slug survives, the key
// is a hash of the normalized URL, or of the name without a URL.
func DeriveID(sku, name, rawURL string) string {
	if id := slugID(sku, name, rawURL); id != "" {
		return id
	}
	return hashID(name, rawURL)
}

func slugID(sku, name, rawURL string) string {
	if sku = strings.TrimSpace(sku); sku != "" {
		if id := nonAlnum.ReplaceAllString(strings.ToLower(sku), "-"); strings.Trim(id, "-") != "" {
			return truncate(id)
		}
	}
	nameSlug := Slug(name)
	if rawURL == "" {
		return truncate(nameSlug)
	}
	segment := ""
	if u, err := url.Parse(rawURL); err == nil {
		segment = path.Base(strings.TrimSuffix(u.Path, "/"))
		if segment == "." || segment == "/" {
			segment = ""
		}
	}
	urlSlug := Slug(segment)
	switch {
	case urlSlug == "":
		return truncate(nameSlug)
	case nameSlug == "":
		return truncate(urlSlug)
	default:
		return truncate(nameSlug + "-" + urlSlug)
	}
}

// Slug lower-cases s, drops anything but letters, digits, spaces and dashes,
// and turns runs of spaces into single dashes.
func Slug(s string) string {
	s = slugStrip.ReplaceAllString(strings.ToLower(s), "")
	s = slugSpaces.ReplaceAllString(strings.TrimSpace(s), "-")
	return strings.Trim(s, "-")
}

func hashID(name, rawURL string) string {
	key := strings.TrimSpace(rawURL)
	if normalized, err := crawler.NormalizeURL(key); err == nil {
		key = normalized
	}
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(name))
	}
	return fmt.Sprintf("p-%016x", xxhash.Sum64String(key))
}

func truncate(s string) string {
	if len(s) > maxIDLength {
		return s[:maxIDLength]
	}
	return s
}
