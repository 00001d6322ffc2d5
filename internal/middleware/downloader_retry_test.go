package middleware

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/qcrawl/qcrawl/internal/types"
)

func TestRetryMiddleware_RetriesServerError(t *testing.T) {
	m := NewRetryMiddleware(2)
	req := types.NewRequest("https://example.com/")
	resp := &types.Response{StatusCode: 503, Request: req}

	res, err := m.ProcessResponse(context.Background(), req, resp, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action() != ActionRetry {
		t.Fatalf("action = %v, want Retry", res.Action())
	}
	if n, _ := res.NewRequest().Meta["retry_count"].(int); n != 1 {
		t.Fatalf("retry_count = %d, want 1", n)
	}
}

func TestRetryMiddleware_StopsAtMaxRetries(t *testing.T) {
	m := NewRetryMiddleware(1)
	req := types.NewRequest("https://example.com/")
	req.Meta["retry_count"] = 1
	resp := &types.Response{StatusCode: 503, Request: req}

	res, err := m.ProcessResponse(context.Background(), req, resp, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action() != ActionContinue {
		t.Fatalf("action = %v, want Continue once MaxRetries reached", res.Action())
	}
}

func TestRetryMiddleware_IgnoresSuccessResponse(t *testing.T) {
	m := NewRetryMiddleware(3)
	req := types.NewRequest("https://example.com/")
	resp := &types.Response{StatusCode: 200, Request: req}

	res, err := m.ProcessResponse(context.Background(), req, resp, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action() != ActionContinue {
		t.Fatalf("action = %v, want Continue for 200", res.Action())
	}
}

func TestRetryMiddleware_RetriesRetryableFetchError(t *testing.T) {
	m := NewRetryMiddleware(2)
	req := types.NewRequest("https://example.com/")
	cause := &types.FetchError{URL: req.URL(), Retryable: true, Err: errTest}

	res, err := m.ProcessException(context.Background(), req, cause, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action() != ActionRetry {
		t.Fatalf("action = %v, want Retry", res.Action())
	}
}

func TestRetryMiddleware_SkipsNonRetryableFetchError(t *testing.T) {
	m := NewRetryMiddleware(2)
	req := types.NewRequest("https://example.com/")
	cause := &types.FetchError{URL: req.URL(), Retryable: false, Err: errTest}

	res, err := m.ProcessException(context.Background(), req, cause, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action() != ActionContinue {
		t.Fatalf("action = %v, want Continue for non-retryable error", res.Action())
	}
}

func TestRetryMiddleware_StampsExponentialBackoffDelayAndLowersPriority(t *testing.T) {
	m := NewRetryMiddleware(5)
	m.BackoffJitter = 0 // deterministic for this assertion
	req := types.NewRequest("https://example.com/")
	req.Priority = 10
	resp := &types.Response{StatusCode: 503, Request: req}

	res, err := m.ProcessResponse(context.Background(), req, resp, nil)
	if err != nil {
		t.Fatal(err)
	}
	newReq := res.NewRequest()
	delay, ok := newReq.Meta["retry_delay"].(time.Duration)
	if !ok {
		t.Fatalf("expected retry_delay to be set, got %#v", newReq.Meta["retry_delay"])
	}
	if delay != m.BackoffBase {
		t.Fatalf("retry_delay = %v, want base backoff %v for first retry", delay, m.BackoffBase)
	}
	if newReq.Priority != 9 {
		t.Fatalf("priority = %d, want 9 (10 + PriorityAdjust -1)", newReq.Priority)
	}
}

func TestRetryMiddleware_BackoffDoublesAndCapsAtBackoffMax(t *testing.T) {
	m := NewRetryMiddleware(10)
	m.BackoffJitter = 0
	m.BackoffMax = 5 * time.Second

	if got := m.computeDelay(0, 0); got != time.Second {
		t.Fatalf("retryCount=0 delay = %v, want 1s", got)
	}
	if got := m.computeDelay(1, 0); got != 2*time.Second {
		t.Fatalf("retryCount=1 delay = %v, want 2s", got)
	}
	if got := m.computeDelay(3, 0); got != m.BackoffMax {
		t.Fatalf("retryCount=3 delay = %v, want capped at %v", got, m.BackoffMax)
	}
}

func TestRetryMiddleware_HonorsRetryAfterHeaderOverBackoff(t *testing.T) {
	m := NewRetryMiddleware(3)
	m.BackoffJitter = 0
	req := types.NewRequest("https://example.com/")
	resp := &types.Response{StatusCode: 429, Request: req, Headers: http.Header{"Retry-After": []string{"30"}}}

	res, err := m.ProcessResponse(context.Background(), req, resp, nil)
	if err != nil {
		t.Fatal(err)
	}
	delay := res.NewRequest().Meta["retry_delay"].(time.Duration)
	if delay != 30*time.Second {
		t.Fatalf("retry_delay = %v, want 30s from Retry-After", delay)
	}
}
