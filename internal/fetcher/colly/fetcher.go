// Package collyfetcher implements the static HTML fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes caps the response size; zero keeps colly's default.
	MaxBodyBytes int
	// Limiter paces requests per host; nil disables pacing.
	Limiter crawler.HostLimiter
}

// Fetcher implements crawler.StaticFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Robots policy is evaluated upstream, so the
// collector never consults robots.txt itself.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// FetchHTML executes a single HTTP GET and returns the raw body.
func (f *Fetcher) FetchHTML(ctx context.Context, rawURL string) ([]byte, error) {
	var (
		body     []byte
		fetchErr error
	)
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, rawURL); err != nil {
			return nil, fmt.Errorf("static fetch rate limit: %w", err)
		}
	}
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, &body, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("colly fetch returned an empty body")
	}
	return body, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.timeout())
	if f.transport != nil {
		collector.WithTransport(f.transport)
	}
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) timeout() time.Duration {
	if f.cfg.Timeout > 0 {
		return f.cfg.Timeout
	}
	return 15 * time.Second
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

var _ crawler.StaticFetcher = (*Fetcher)(nil)
