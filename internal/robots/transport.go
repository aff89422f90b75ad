package robots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const fallbackReasonTLSHandshake = "tls_handshake_timeout"

var retryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// fallbackTransport retries robots.txt requests that hit transient TLS or
// dial timeouts, then answers with a synthetic allow-all document.
type fallbackTransport struct {
	base    http.RoundTripper
	backoff []time.Duration
}

func (t *fallbackTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	backoff := t.backoff
	if backoff == nil {
		backoff = retryBackoff
	}
	maxAttempts := len(backoff) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransientTLSError(err) || req.Context().Err() != nil {
			return nil, fmt.Errorf("robots roundtrip: %w", err)
		}
		if attempt == maxAttempts-1 {
			metrics.ObservePolicyFallback(fallbackReasonTLSHandshake)
			return syntheticAllowAllResponse(req), nil
		}
		if err := sleepWithContext(req.Context(), backoff[attempt]); err != nil {
			return nil, fmt.Errorf("robots roundtrip backoff sleep: %w", err)
		}
	}
	return nil, errors.New("robots roundtrip exhausted retries")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func syntheticAllowAllResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
