// Package ratelimit keeps a token bucket per host so the browser and the
// static fetcher share one request budget for each site.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Config holds the per-host budget. PerHostQPS <= 0 disables limiting.
type Config struct {
	PerHostQPS float64
	Burst      int
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// New creates a Limiter.
func New(cfg Config) (*Limiter, error) {
	if cfg.PerHostQPS < 0 {
		return nil, fmt.Errorf("per-host qps must be >= 0")
	}
	limit := rate.Limit(cfg.PerHostQPS)
	if cfg.PerHostQPS == 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}, nil
}

// Wait blocks until rawURL's host has a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Host)

	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveHostWait(host, waited)
	}
	return nil
}
