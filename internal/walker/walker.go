// Package walker follows category pagination and gathers product links.
package walker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// DefaultMaxPages bounds a walk when the caller passes no ceiling.
const DefaultMaxPages = 10

// Walker implements crawler.CategoryWalker.
type Walker struct {
	extractor crawler.ProductExtractor
	logger    *zap.Logger
}

// New returns a Walker that reads listing pages through extractor.
func New(extractor crawler.ProductExtractor, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{extractor: extractor, logger: logger}
}

// WalkCategory visits at most maxPages listing pages starting at startURL and
// returns the product URLs in discovery order without duplicates. A failing
// page ends the walk; what was gathered so far is still returned.
func (w *Walker) WalkCategory(ctx context.Context, startURL string, maxPages int) []string {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	start := time.Now()
	w.logger.Info("category walk started", zap.String("url", startURL), zap.Int("max_pages", maxPages))

	var (
		urls    []string
		pages   int
		current = startURL
	)
	for current != "" && pages < maxPages {
		if err := ctx.Err(); err != nil {
			w.logger.Warn("category walk interrupted", zap.String("url", current), zap.Error(err))
			break
		}
		res := w.extractor.ExtractCategory(ctx, current)
		pages++
		if !res.Success {
			w.logger.Warn("category page failed; stopping walk",
				zap.String("url", current),
				zap.Int("page", pages),
				zap.Error(res.Err),
			)
			break
		}
		urls = append(urls, res.ProductURLs...)
		current = res.NextPageURL
	}

	result := dedupe(urls)
	w.logger.Info("category walk finished",
		zap.String("url", startURL),
		zap.Int("pages", pages),
		zap.Int("products", len(result)),
		zap.Duration("duration", time.Since(start)),
	)
	return result
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

var _ crawler.CategoryWalker = (*Walker)(nil)
