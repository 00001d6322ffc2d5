package handler

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/qcrawl/qcrawl/internal/types"
)

// HTTPHandler implements Handler over net/http. Adapted from
// internal/fetcher/http.go's HTTPFetcher (teacher): same cookie jar,
// transport, redirect policy, and brotli/gzip/deflate decompression, with
// its config.Config dependency replaced by the plain settings map every
// handler factory receives (spec.md §4.4's "handler-name → dotted-class-path,
// plus per-handler settings").
type HTTPHandler struct {
	client      *http.Client
	maxBodySize int64
	userAgents  []string
	uaIndex     atomic.Int64
	logger      *slog.Logger
}

// NewHTTPHandler builds an HTTPHandler. Recognized settings keys:
// max_idle_conns (int), idle_conn_timeout (time.Duration), tls_insecure
// (bool), follow_redirects (bool, default true), max_redirects (int,
// default 10), max_body_size (int64, 0 = unbounded), request_timeout
// (time.Duration), user_agents ([]string).
func NewHTTPHandler(settings map[string]any, logger *slog.Logger) (*HTTPHandler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	maxIdleConns := intSetting(settings, "max_idle_conns", 100)
	followRedirects := boolSetting(settings, "follow_redirects", true)
	maxRedirects := intSetting(settings, "max_redirects", 10)

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns / 2,
		IdleConnTimeout:     durationSetting(settings, "idle_conn_timeout", 90*time.Second),
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: boolSetting(settings, "tls_insecure", false),
		},
		DisableCompression: true, // decompression is handled explicitly below, including brotli
	}

	redirectPolicy := func(req *http.Request, via []*http.Request) error {
		if !followRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("max redirects (%d) reached", maxRedirects)
		}
		return nil
	}

	client := &http.Client{
		Transport:     transport,
		Jar:           jar,
		Timeout:       durationSetting(settings, "request_timeout", 30*time.Second),
		CheckRedirect: redirectPolicy,
	}

	return &HTTPHandler{
		client:      client,
		maxBodySize: int64(intSetting(settings, "max_body_size", 0)),
		userAgents:  stringSliceSetting(settings, "user_agents"),
		logger:      logger.With("component", "http_handler"),
	}, nil
}

// Fetch implements Handler.
func (h *HTTPHandler) Fetch(ctx context.Context, req *types.Request, spider types.Spider, extraHeaders http.Header, timeout time.Duration) (*types.Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL(), nil)
	if err != nil {
		return nil, &types.FetchError{URL: req.URL(), Err: err, Retryable: false}
	}

	httpReq.Header.Set("User-Agent", h.nextUserAgent())
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	httpReq.Header.Set("Connection", "keep-alive")

	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Set(key, v)
		}
	}
	for key, values := range extraHeaders {
		for _, v := range values {
			httpReq.Header.Set(key, v)
		}
	}

	if len(req.Body) > 0 {
		httpReq.Body = io.NopCloser(strings.NewReader(string(req.Body)))
		httpReq.ContentLength = int64(len(req.Body))
	}

	start := time.Now()
	httpResp, err := h.client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		return nil, &types.FetchError{URL: req.URL(), Err: err, Retryable: isRetryableError(err)}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(httpResp.Header.Get("Retry-After"))
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, &types.FetchError{
			URL:        req.URL(),
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("HTTP 429: rate limited (retry after %s): %s", retryAfter, strings.TrimSpace(string(body))),
			Retryable:  true,
			RetryAfter: retryAfter,
		}
	}

	if httpResp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return nil, &types.FetchError{
			URL:        req.URL(),
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, string(body)),
			Retryable:  true,
		}
	}

	var reader io.Reader = httpResp.Body
	if h.maxBodySize > 0 {
		reader = io.LimitReader(reader, h.maxBodySize)
	}
	reader, err = decompressReader(httpResp, reader)
	if err != nil {
		return nil, &types.FetchError{URL: req.URL(), Err: err, Retryable: false}
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &types.FetchError{URL: req.URL(), Err: err, Retryable: true}
	}

	resp := types.NewResponse(req, httpResp, body, duration)
	h.logger.Debug("fetch complete", "url", req.URL(), "status", resp.StatusCode, "size", len(body), "duration", duration)
	return resp, nil
}

// Close implements Handler.
func (h *HTTPHandler) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func (h *HTTPHandler) nextUserAgent() string {
	if len(h.userAgents) == 0 {
		return "qcrawl/1.0"
	}
	idx := h.uaIndex.Add(1) % int64(len(h.userAgents))
	return h.userAgents[idx]
}

func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) || errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return time.Second
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return 5 * time.Second
}

// RandomDelay returns a random delay around base (±25%), used for
// politeness jitter between requests to the same domain.
func RandomDelay(base time.Duration) time.Duration {
	jitter := float64(base) * 0.25
	return base + time.Duration(rand.Float64()*2*jitter-jitter)
}

func intSetting(settings map[string]any, key string, def int) int {
	switch v := settings[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func boolSetting(settings map[string]any, key string, def bool) bool {
	if v, ok := settings[key].(bool); ok {
		return v
	}
	return def
}

func durationSetting(settings map[string]any, key string, def time.Duration) time.Duration {
	switch v := settings[key].(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	default:
		return def
	}
}

func stringSliceSetting(settings map[string]any, key string) []string {
	v, ok := settings[key].([]string)
	if !ok {
		return nil
	}
	return v
}
