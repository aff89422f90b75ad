package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// DefaultTTL is how long a fetched policy stays cached per origin.
const DefaultTTL = 24 * time.Hour

const maxRobotsBytes = 1 << 20

// Config controls the policy cache.
type Config struct {
	UserAgent string
	TTL       time.Duration
	Timeout   time.Duration
}

// Cache fetches robots.txt once per origin and keeps the parsed rules until
// they expire. Two callers racing on a cold origin may both fetch; the second
// write wins and both results are equivalent.
type Cache struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	clock     crawler.Clock
	logger    *zap.Logger

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	rules   Rules
	expires time.Time
}

// NewCache builds a Cache. A nil clock uses wall time.
func NewCache(cfg Config, clock crawler.Clock, logger *zap.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &fallbackTransport{base: http.DefaultTransport},
		},
		userAgent: cfg.UserAgent,
		ttl:       cfg.TTL,
		clock:     clock,
		logger:    logger,
		entries:   make(map[string]entry),
	}
}

// Evaluate reports whether agent may fetch rawURL under the origin's policy.
// Policy fetch failures never surface: a permissive rule set is used instead.
func (c *Cache) Evaluate(ctx context.Context, rawURL, agent string) crawler.Verdict {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		c.logger.Warn("policy evaluation on unparseable url; allowing", zap.String("url", rawURL), zap.Error(err))
		return crawler.Verdict{Allowed: true}
	}
	origin, err := crawler.Origin(rawURL)
	if err != nil {
		return crawler.Verdict{Allowed: true}
	}
	if agent == "" {
		agent = c.userAgent
	}

	rules := c.rules(ctx, origin)
	verdict := rules.GroupFor(agent).Evaluate(requestPath(parsed))
	if !verdict.Allowed {
		metrics.ObservePolicyDenied()
		c.logger.Debug("path disallowed",
			zap.String("url", rawURL),
			zap.String("agent", agent),
			zap.String("rule", verdict.MatchedRule),
		)
	}
	return verdict
}

// Clear drops every cached origin.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

func (c *Cache) rules(ctx context.Context, origin string) Rules {
	now := c.clock.Now()
	c.mu.RLock()
	cached, ok := c.entries[origin]
	c.mu.RUnlock()
	if ok && now.Before(cached.expires) {
		metrics.ObservePolicyLookup(true)
		return cached.rules
	}
	metrics.ObservePolicyLookup(false)

	rules, err := c.fetch(ctx, origin)
	if err != nil && ctx.Err() != nil {
		// The caller gave up; the origin's policy is still unknown.
		c.logger.Debug("robots fetch abandoned; not caching", zap.String("origin", origin), zap.Error(err))
		metrics.ObservePolicyFallback("canceled")
		return Permissive()
	}
	if err != nil {
		c.logger.Warn("robots fetch failed; allowing access", zap.String("origin", origin), zap.Error(err))
		metrics.ObservePolicyFallback("fetch_error")
		rules = Permissive()
	}

	c.mu.Lock()
	c.entries[origin] = entry{rules: rules, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return rules
}

func (c *Cache) fetch(ctx context.Context, origin string) (Rules, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", http.NoBody)
	if err != nil {
		return Rules{}, fmt.Errorf("new robots request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Rules{}, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Rules{}, fmt.Errorf("fetch robots: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return Rules{}, fmt.Errorf("read robots body: %w", err)
	}
	c.logger.Debug("robots policy cached", zap.String("origin", origin), zap.Int("bytes", len(body)))
	return ParseString(string(body)), nil
}

func requestPath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

var _ crawler.PolicyEvaluator = (*Cache)(nil)
