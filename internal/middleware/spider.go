package middleware

import (
	"context"
	"sort"

	"github.com/qcrawl/qcrawl/internal/types"
)

// SpiderMiddleware wraps the parse step and the initial-request stream.
// Like DownloaderMiddleware, each hook is detected through an optional
// interface.
type SpiderMiddleware interface {
	Name() string
}

// StartRequestsProcessor implements process_start_requests: may filter,
// transform, or augment the seed request list. Returning nil means
// passthrough.
type StartRequestsProcessor interface {
	ProcessStartRequests(ctx context.Context, reqs []*types.Request, spider types.Spider) ([]*types.Request, error)
}

// SpiderInputProcessor implements process_spider_input: a non-nil error
// aborts parsing for this response and is routed to the exception hook.
type SpiderInputProcessor interface {
	ProcessSpiderInput(ctx context.Context, resp *types.Response, spider types.Spider) error
}

// SpiderOutputProcessor implements process_spider_output: wraps the yield
// callback the spider's Parse was given. Output wrappers compose by
// nesting in registration order (spec.md §4.5.2).
type SpiderOutputProcessor interface {
	WrapOutput(ctx context.Context, resp *types.Response, spider types.Spider, next types.Yield) types.Yield
}

// SpiderExceptionProcessor implements process_spider_exception: optional
// recovery from a parse failure. If it recovers, it yields replacement
// output through yield and returns recovered=true.
type SpiderExceptionProcessor interface {
	ProcessSpiderException(ctx context.Context, resp *types.Response, cause error, spider types.Spider, yield types.Yield) (recovered bool, err error)
}

type spiderEntry struct {
	mw       SpiderMiddleware
	priority int
}

// SpiderManager drives the spider chain.
type SpiderManager struct {
	entries []spiderEntry
}

// NewSpiderManager builds an empty manager.
func NewSpiderManager() *SpiderManager { return &SpiderManager{} }

// Add registers mw at priority, ties breaking by insertion order.
func (m *SpiderManager) Add(mw SpiderMiddleware, priority int) {
	m.entries = append(m.entries, spiderEntry{mw: mw, priority: priority})
	sort.SliceStable(m.entries, func(i, j int) bool { return m.entries[i].priority < m.entries[j].priority })
}

// OpenSpider calls OpenSpider on every middleware that implements it.
func (m *SpiderManager) OpenSpider(ctx context.Context, spider types.Spider) error {
	for _, e := range m.entries {
		if o, ok := e.mw.(SpiderOpener); ok {
			if err := o.OpenSpider(ctx, spider); err != nil {
				return err
			}
		}
	}
	return nil
}

// CloseSpider calls CloseSpider on every middleware that implements it,
// collecting (not short-circuiting on) errors.
func (m *SpiderManager) CloseSpider(ctx context.Context, spider types.Spider) []error {
	var errs []error
	for _, e := range m.entries {
		if c, ok := e.mw.(SpiderCloser); ok {
			if err := c.CloseSpider(ctx, spider); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// BuildStartRequests runs process_start_requests hooks forward, each one
// free to replace the running request list.
func (m *SpiderManager) BuildStartRequests(ctx context.Context, base []*types.Request, spider types.Spider) ([]*types.Request, error) {
	current := base
	for _, e := range m.entries {
		srp, ok := e.mw.(StartRequestsProcessor)
		if !ok {
			continue
		}
		transformed, err := srp.ProcessStartRequests(ctx, current, spider)
		if err != nil {
			return nil, err
		}
		if transformed != nil {
			current = transformed
		}
	}
	return current, nil
}

// ProcessInput runs process_spider_input hooks forward; the first non-nil
// error aborts.
func (m *SpiderManager) ProcessInput(ctx context.Context, resp *types.Response, spider types.Spider) error {
	for _, e := range m.entries {
		ip, ok := e.mw.(SpiderInputProcessor)
		if !ok {
			continue
		}
		if err := ip.ProcessSpiderInput(ctx, resp, spider); err != nil {
			return err
		}
	}
	return nil
}

// WrapOutput nests every registered output processor around base, in
// registration order, so the first-registered middleware is the outermost
// wrapper.
func (m *SpiderManager) WrapOutput(ctx context.Context, resp *types.Response, spider types.Spider, base types.Yield) types.Yield {
	wrapped := base
	for idx := len(m.entries) - 1; idx >= 0; idx-- {
		if op, ok := m.entries[idx].mw.(SpiderOutputProcessor); ok {
			wrapped = op.WrapOutput(ctx, resp, spider, wrapped)
		}
	}
	return wrapped
}

// ProcessException runs process_spider_exception hooks in reverse order
// (mirroring the downloader exception chain), stopping at the first
// recovery.
func (m *SpiderManager) ProcessException(ctx context.Context, resp *types.Response, cause error, spider types.Spider, yield types.Yield) (bool, error) {
	for idx := len(m.entries) - 1; idx >= 0; idx-- {
		ep, ok := m.entries[idx].mw.(SpiderExceptionProcessor)
		if !ok {
			continue
		}
		recovered, err := ep.ProcessSpiderException(ctx, resp, cause, spider, yield)
		if err != nil {
			return false, err
		}
		if recovered {
			return true, nil
		}
	}
	return false, nil
}
