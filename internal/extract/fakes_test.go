package extract

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

type renderStep struct {
	page crawler.RenderedPage
	err  error
}

// fakeBrowser replays scripted renders per URL; the last step repeats.
type fakeBrowser struct {
	mu       sync.Mutex
	steps    map[string][]renderStep
	calls    map[string]int
	requests []crawler.RenderRequest
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{steps: map[string][]renderStep{}, calls: map[string]int{}}
}

func (b *fakeBrowser) page(url, html string) *fakeBrowser {
	return b.step(url, renderStep{page: crawler.RenderedPage{
		URL: url, FinalURL: url, StatusCode: 200, HTML: html, SelectorFound: true,
	}})
}

func (b *fakeBrowser) step(url string, s renderStep) *fakeBrowser {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.steps[url] = append(b.steps[url], s)
	return b
}

func (b *fakeBrowser) Start(context.Context) error { return nil }
func (b *fakeBrowser) Close() error                { return nil }

func (b *fakeBrowser) Render(_ context.Context, req crawler.RenderRequest) (crawler.RenderedPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	steps := b.steps[req.URL]
	if len(steps) == 0 {
		return crawler.RenderedPage{}, errors.New("no such page")
	}
	idx := b.calls[req.URL]
	b.calls[req.URL]++
	if idx >= len(steps) {
		idx = len(steps) - 1
	}
	return steps[idx].page, steps[idx].err
}

func (b *fakeBrowser) renders(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[url]
}

type fakePolicy struct {
	verdict crawler.Verdict
	calls   int
}

func (p *fakePolicy) Evaluate(context.Context, string, string) crawler.Verdict {
	p.calls++
	return p.verdict
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
	return nil
}

type fakeStatic struct {
	body  string
	err   error
	calls int
}

func (f *fakeStatic) FetchHTML(context.Context, string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.body), nil
}

type fakeArchive struct {
	paths []string
	body  string
}

func (a *fakeArchive) PutObject(_ context.Context, path, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	a.paths = append(a.paths, path)
	a.body = string(data)
	return "mem://" + path, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var allowAll = crawler.Verdict{Allowed: true}
