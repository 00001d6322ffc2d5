package types

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/qcrawl/qcrawl/internal/urlnorm"
)

// Response (called Page in the source) is the result of fetching a Request.
type Response struct {
	StatusCode    int
	Headers       http.Header
	Body          []byte
	Request       *Request
	ContentType   string
	ContentLength int64
	FinalURL      string
	FetchDuration time.Duration
	FetchedAt     time.Time
	Meta          map[string]any

	doc *goquery.Document
}

// NewResponse builds a Response from a completed http.Response and its
// already-read, already-decompressed body.
func NewResponse(req *Request, httpResp *http.Response, body []byte, duration time.Duration) *Response {
	finalURL := req.URL()
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		finalURL = httpResp.Request.URL.String()
	}
	return &Response{
		StatusCode:    httpResp.StatusCode,
		Headers:       httpResp.Header,
		Body:          body,
		Request:       req,
		ContentType:   httpResp.Header.Get("Content-Type"),
		ContentLength: int64(len(body)),
		FinalURL:      finalURL,
		FetchDuration: duration,
		FetchedAt:     time.Now(),
		Meta:          make(map[string]any),
	}
}

// NewBrowserResponse builds a Response from headless-browser output, which
// has no native header/status surface.
func NewBrowserResponse(req *Request, statusCode int, body []byte, finalURL string, duration time.Duration) *Response {
	return &Response{
		StatusCode:    statusCode,
		Headers:       make(http.Header),
		Body:          body,
		Request:       req,
		ContentType:   "text/html",
		ContentLength: int64(len(body)),
		FinalURL:      finalURL,
		FetchDuration: duration,
		FetchedAt:     time.Now(),
		Meta:          make(map[string]any),
	}
}

// Document returns a parsed goquery document, lazily initializing it. This
// is the one extraction convenience the framework provides (spec.md's
// Non-goal excludes a full DOM/extraction library, not reuse of the
// document goquery already builds for us).
func (r *Response) Document() (*goquery.Document, error) {
	if r.doc != nil {
		return r.doc, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}
	r.doc = doc
	return doc, nil
}

// Text decodes the body as text, detecting the charset from the
// Content-Type header and falling back to content sniffing.
func (r *Response) Text() (string, error) {
	reader, err := charset.NewReader(bytes.NewReader(r.Body), r.ContentType)
	if err != nil {
		return string(r.Body), nil
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return string(r.Body), nil
	}
	return string(decoded), nil
}

// Follow resolves href against the response's FinalURL and builds a child
// Request, inheriting nothing but the URL — depth, priority and headers are
// the caller's (or a Spider middleware's) responsibility to assign.
func (r *Response) Follow(href string) (*Request, error) {
	resolved, err := urlnorm.Join(r.FinalURL, href)
	if err != nil {
		return nil, err
	}
	return NewRequest(resolved), nil
}

// IsSuccess reports whether the status is 2xx.
func (r *Response) IsSuccess() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// IsRedirect reports whether the status is 3xx.
func (r *Response) IsRedirect() bool { return r.StatusCode >= 300 && r.StatusCode < 400 }

// IsClientError reports whether the status is 4xx.
func (r *Response) IsClientError() bool { return r.StatusCode >= 400 && r.StatusCode < 500 }

// IsServerError reports whether the status is 5xx.
func (r *Response) IsServerError() bool { return r.StatusCode >= 500 && r.StatusCode < 600 }
