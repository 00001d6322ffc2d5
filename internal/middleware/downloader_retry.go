package middleware

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/qcrawl/qcrawl/internal/types"
)

// RetryMiddleware retries a response that looks like a transient failure
// (5xx, or 429 honoring Retry-After) and a fetch that raised a retryable
// FetchError, up to MaxRetries times per request, backing off exponentially
// between attempts. Grounded on
// _examples/original_source/qcrawl/middleware/downloader/retry.py's
// `_compute_delay`/`_make_retry_request` (base * 2^retry_count capped at
// BackoffMax, +/- jitter fraction, Retry-After overriding the computed
// delay, priority lowered on each retry), relocated onto this framework's
// downloader middleware contract (spec.md §4.5.1, §8 scenario S4).
type RetryMiddleware struct {
	MaxRetries      int
	RetryStatusCode func(code int) bool
	PriorityAdjust  int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	BackoffJitter   float64
}

// NewRetryMiddleware builds a RetryMiddleware retrying 5xx and 429
// responses up to maxRetries times, with a 1s base / 60s cap / 0.3 jitter
// exponential backoff, matching the original's defaults.
func NewRetryMiddleware(maxRetries int) *RetryMiddleware {
	return &RetryMiddleware{
		MaxRetries: maxRetries,
		RetryStatusCode: func(code int) bool {
			return code == 429 || (code >= 500 && code < 600)
		},
		PriorityAdjust: -1,
		BackoffBase:    time.Second,
		BackoffMax:     60 * time.Second,
		BackoffJitter:  0.3,
	}
}

// Name implements DownloaderMiddleware.
func (m *RetryMiddleware) Name() string { return "retry" }

// ProcessResponse implements ResponseProcessor.
func (m *RetryMiddleware) ProcessResponse(ctx context.Context, req *types.Request, resp *types.Response, spider types.Spider) (Result, error) {
	if !m.RetryStatusCode(resp.StatusCode) {
		return Continue(), nil
	}
	if m.retryCount(req) >= m.MaxRetries {
		return Continue(), nil
	}
	delay := m.computeDelay(m.retryCount(req), retryAfter(resp))
	return Retry(m.makeRetryRequest(req, delay)), nil
}

// ProcessException implements ExceptionProcessor.
func (m *RetryMiddleware) ProcessException(ctx context.Context, req *types.Request, cause error, spider types.Spider) (Result, error) {
	var fetchErr *types.FetchError
	if !errors.As(cause, &fetchErr) || !fetchErr.IsRetryable() {
		return Continue(), nil
	}
	if m.retryCount(req) >= m.MaxRetries {
		return Continue(), nil
	}
	delay := m.computeDelay(m.retryCount(req), 0)
	return Retry(m.makeRetryRequest(req, delay)), nil
}

// retryAfter reads the response's Retry-After header as a number of seconds,
// 0 meaning "not present" (or not in that form).
func retryAfter(resp *types.Response) time.Duration {
	if resp == nil {
		return 0
	}
	if ra := resp.Headers.Get("Retry-After"); ra != "" {
		if secs, err := time.ParseDuration(ra + "s"); err == nil {
			return secs
		}
	}
	return 0
}

// computeDelay mirrors the original's _compute_delay: headerRetryAfter
// overrides the exponential backoff entirely when present; otherwise
// delay = min(BackoffBase * 2^retryCount, BackoffMax), then randomized
// within +/- BackoffJitter of itself.
func (m *RetryMiddleware) computeDelay(retryCount int, headerRetryAfter time.Duration) time.Duration {
	var base time.Duration
	if headerRetryAfter > 0 {
		base = headerRetryAfter
	} else {
		scaled := float64(m.BackoffBase) * math.Pow(2, float64(retryCount))
		base = time.Duration(math.Min(scaled, float64(m.BackoffMax)))
	}

	if m.BackoffJitter <= 0 {
		return base
	}
	jitter := m.BackoffJitter * float64(base)
	minDelay := math.Max(0, float64(base)-jitter)
	maxDelay := float64(base) + jitter
	return time.Duration(minDelay + rand.Float64()*(maxDelay-minDelay))
}

// makeRetryRequest clones req with retry_count incremented, retry_delay
// stamped, and priority lowered by PriorityAdjust (spec.md §8 S4: "returns
// RETRY(req') with meta.retry_delay = ... including jitter").
func (m *RetryMiddleware) makeRetryRequest(req *types.Request, delay time.Duration) *types.Request {
	n := m.retryCount(req)
	return req.Copy(
		types.WithMeta("retry_count", n+1),
		types.WithMeta("retry_delay", delay),
		types.WithPriority(req.Priority+m.PriorityAdjust),
	)
}

func (m *RetryMiddleware) retryCount(req *types.Request) int {
	n, _ := req.Meta["retry_count"].(int)
	return n
}
