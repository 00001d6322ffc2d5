package types

import "context"

// ParseResultKind discriminates the three shapes a Spider's Parse may yield.
type ParseResultKind int

const (
	// ItemResult carries a scraped Item.
	ItemResult ParseResultKind = iota
	// RequestResult carries a fully-built child Request.
	RequestResult
	// URLResult carries a bare URL string; the Engine (or a Spider
	// middleware) is responsible for turning it into a Request (spec.md
	// §4.6 handle_parse step 4, §9 open questions on depth inheritance).
	URLResult
)

// ParseResult is one element of a Spider's parse stream.
type ParseResult struct {
	Kind    ParseResultKind
	Item    *Item
	Request *Request
	URL     string
}

// YieldItem wraps an Item as a ParseResult.
func YieldItem(item *Item) ParseResult { return ParseResult{Kind: ItemResult, Item: item} }

// YieldRequest wraps a Request as a ParseResult.
func YieldRequest(req *Request) ParseResult { return ParseResult{Kind: RequestResult, Request: req} }

// YieldURL wraps a bare URL string as a ParseResult.
func YieldURL(url string) ParseResult { return ParseResult{Kind: URLResult, URL: url} }

// Yield is the callback a Spider (or a Spider-middleware wrapper around it)
// calls once per produced element. Returning an error aborts the stream —
// this is the Go idiom chosen over a channel-based async generator (spec.md
// §9 permits either a channel pipeline or a stream-combinator chain; a
// yield callback composes more simply across the Spider-output middleware
// chain, since each middleware just wraps the callback it was given).
type Yield func(ParseResult) error

// Spider is the user-supplied crawl definition: a name, seed URLs, and an
// async-equivalent Parse routine driven by the Engine.
type Spider interface {
	// Name identifies the spider, used in logs, stats, and signal payloads.
	Name() string

	// StartURLs returns the seed URLs. Ignored if the Spider also
	// implements StartRequester.
	StartURLs() []string

	// Parse is invoked once per fetched Response. It must call yield zero
	// or more times before returning; a non-nil return aborts processing of
	// this response's output (spec.md §4.6 handle_parse).
	Parse(ctx context.Context, resp *Response, yield Yield) error

	// OpenSpider is called once before the crawl's first request.
	OpenSpider(ctx context.Context) error

	// CloseSpider is called once after the crawl completes, successfully or
	// not; reason is "" on a clean finish.
	CloseSpider(ctx context.Context, reason string) error
}

// StartRequester is an optional Spider extension: a spider that needs
// custom seed requests (non-default priority, headers, meta) implements
// this instead of relying on the Crawler's one-Request-per-StartURL default.
type StartRequester interface {
	StartRequests(yield func(*Request) error) error
}

// SettingsOverrider is an optional Spider extension exposing per-spider
// settings overrides, merged into the crawl's settings snapshot restricted
// to known keys (spec.md §4.7.3a).
type SettingsOverrider interface {
	CustomSettings() map[string]any
}

// BaseSpider provides no-op OpenSpider/CloseSpider so concrete spiders only
// need to implement Name, StartURLs, and Parse. Embed it by value.
type BaseSpider struct{}

// OpenSpider is a no-op default.
func (BaseSpider) OpenSpider(ctx context.Context) error { return nil }

// CloseSpider is a no-op default.
func (BaseSpider) CloseSpider(ctx context.Context, reason string) error { return nil }

// DefaultStartRequests builds one Request per URL at priority 0, depth 0.
// Deliberately does not attach headers: header assembly is the downloader
// middleware chain's job, not the spider's (qcrawl/core/spider.py's
// start_requests carries the same note).
func DefaultStartRequests(urls []string) []*Request {
	reqs := make([]*Request, 0, len(urls))
	for _, u := range urls {
		req := NewRequest(u)
		req.SetDepth(0)
		reqs = append(reqs, req)
	}
	return reqs
}
