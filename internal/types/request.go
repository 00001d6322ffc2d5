package types

import (
	"fmt"
	"net/http"
	"time"

	"github.com/qcrawl/qcrawl/internal/urlnorm"
)

// Request is an outbound fetch: method, normalized URL, headers, an optional
// immutable body, a scheduling priority (smaller = more urgent), and an
// open-ended metadata map.
//
// Once scheduled, a Request is mutated only through Copy: it is owned by
// whichever of queue/worker currently holds it, and is never shared.
type Request struct {
	url       string
	Method    string
	Headers   http.Header
	Body      []byte
	Priority  int
	Meta      map[string]any
	CreatedAt time.Time
}

// NewRequest builds a Request from a raw URL, normalizing it per urlnorm. A
// normalization failure is recorded in Meta["url_normalize_error"] rather
// than failing construction, so a malformed seed URL never crashes the
// caller (qcrawl/core/request.py takes the same stance).
func NewRequest(rawURL string) *Request {
	req := &Request{
		Method:    http.MethodGet,
		Headers:   make(http.Header),
		Priority:  0,
		Meta:      make(map[string]any),
		CreatedAt: time.Now(),
	}
	normalized, err := urlnorm.Normalize(rawURL)
	if err != nil {
		req.url = rawURL
		req.Meta["url_normalize_error"] = err.Error()
		return req
	}
	req.url = normalized
	return req
}

// URL returns the request's normalized URL.
func (r *Request) URL() string { return r.url }

// Domain returns the lowercased hostname of the request URL.
func (r *Request) Domain() string { return urlnorm.Domain(r.url) }

// Depth returns the crawl depth recorded in Meta["depth"], defaulting to 0
// when absent: a raw URL yield gets depth 0 unless a Depth middleware is
// installed, which stamps it with its parent's depth + 1 (spec.md §9 open
// questions).
func (r *Request) Depth() int {
	if d, ok := r.Meta["depth"].(int); ok {
		return d
	}
	return 0
}

// SetDepth stores the crawl depth in Meta["depth"].
func (r *Request) SetDepth(d int) { r.Meta["depth"] = d }

// FingerprintMethod implements the fingerprint package's request interface.
func (r *Request) FingerprintMethod() string { return r.Method }

// FingerprintURL implements the fingerprint package's request interface.
func (r *Request) FingerprintURL() string { return r.url }

// FingerprintBody implements the fingerprint package's request interface.
func (r *Request) FingerprintBody() []byte { return r.Body }

// RequestOverride mutates a Request copy; see Copy.
type RequestOverride func(*Request)

// WithURL overrides the URL, re-normalizing it.
func WithURL(rawURL string) RequestOverride {
	return func(r *Request) {
		normalized, err := urlnorm.Normalize(rawURL)
		if err != nil {
			r.url = rawURL
			r.Meta["url_normalize_error"] = err.Error()
			return
		}
		r.url = normalized
	}
}

// WithMethod overrides the HTTP method.
func WithMethod(method string) RequestOverride {
	return func(r *Request) { r.Method = method }
}

// WithBody overrides the request body.
func WithBody(body []byte) RequestOverride {
	return func(r *Request) { r.Body = body }
}

// WithPriority overrides the scheduling priority.
func WithPriority(priority int) RequestOverride {
	return func(r *Request) { r.Priority = priority }
}

// WithMeta sets a single metadata key on the copy.
func WithMeta(key string, value any) RequestOverride {
	return func(r *Request) { r.Meta[key] = value }
}

// Copy produces a new Request with shallow-copied Headers and Meta, then
// applies overrides. This is the only sanctioned way to mutate a Request:
// retries and redirects build on it so the original stays valid while it may
// still be referenced elsewhere (e.g. in a dropped-request signal).
func (r *Request) Copy(overrides ...RequestOverride) *Request {
	clone := &Request{
		url:       r.url,
		Method:    r.Method,
		Headers:   r.Headers.Clone(),
		Body:      r.Body,
		Priority:  r.Priority,
		Meta:      make(map[string]any, len(r.Meta)),
		CreatedAt: r.CreatedAt,
	}
	for k, v := range r.Meta {
		clone.Meta[k] = v
	}
	for _, o := range overrides {
		o(clone)
	}
	return clone
}

// String implements fmt.Stringer for logging.
func (r *Request) String() string {
	return fmt.Sprintf("%s %s", r.Method, r.url)
}

// RequestDict is the round-trip wire shape for a Request (spec.md §8
// property 4: serialize then deserialize yields an equal Request).
type RequestDict struct {
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers"`
	Body     []byte            `json:"body,omitempty"`
	Priority int               `json:"priority"`
	Meta     map[string]any    `json:"meta"`
}

// ToDict serializes the Request to its wire shape.
func (r *Request) ToDict() RequestDict {
	headers := make(map[string]string, len(r.Headers))
	for k := range r.Headers {
		headers[k] = r.Headers.Get(k)
	}
	meta := make(map[string]any, len(r.Meta))
	for k, v := range r.Meta {
		meta[k] = v
	}
	return RequestDict{
		URL:      r.url,
		Method:   r.Method,
		Headers:  headers,
		Body:     r.Body,
		Priority: r.Priority,
		Meta:     meta,
	}
}

// RequestFromDict reconstructs a Request from a RequestDict produced by
// ToDict.
func RequestFromDict(d RequestDict) *Request {
	req := NewRequest(d.URL)
	if d.Method != "" {
		req.Method = d.Method
	}
	req.Priority = d.Priority
	req.Body = d.Body
	for k, v := range d.Headers {
		req.Headers.Set(k, v)
	}
	if d.Meta != nil {
		req.Meta = d.Meta
	}
	return req
}
