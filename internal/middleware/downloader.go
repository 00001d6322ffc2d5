package middleware

import (
	"context"
	"sort"

	"github.com/qcrawl/qcrawl/internal/types"
)

// DownloaderMiddleware wraps the fetch. Every phase hook is optional,
// detected via an interface type-assertion (the Go idiom for optional
// behavior — the same pattern io.ReaderFrom/io.WriterTo use — standing in
// for spec.md's "may implement any of" clause, since Go has no notion of a
// partially-implemented interface).
type DownloaderMiddleware interface {
	Name() string
}

// RequestProcessor implements the request-phase hook.
type RequestProcessor interface {
	ProcessRequest(ctx context.Context, req *types.Request, spider types.Spider) (Result, error)
}

// ResponseProcessor implements the response-phase hook.
type ResponseProcessor interface {
	ProcessResponse(ctx context.Context, req *types.Request, resp *types.Response, spider types.Spider) (Result, error)
}

// ExceptionProcessor implements the exception-phase hook, invoked for
// network-class errors (spec.md §4.5.1) and, best-effort, with the context
// error when a worker is cancelled mid-request.
type ExceptionProcessor interface {
	ProcessException(ctx context.Context, req *types.Request, cause error, spider types.Spider) (Result, error)
}

// SpiderOpener/SpiderCloser are the per-crawl lifecycle hooks a middleware
// of either chain may implement.
type SpiderOpener interface {
	OpenSpider(ctx context.Context, spider types.Spider) error
}
type SpiderCloser interface {
	CloseSpider(ctx context.Context, spider types.Spider) error
}

type downloaderEntry struct {
	mw       DownloaderMiddleware
	priority int
}

// DownloaderManager drives the downloader chain: request phase forward,
// response and exception phases reverse (spec.md §4.5.1).
type DownloaderManager struct {
	entries []downloaderEntry
}

// NewDownloaderManager builds an empty manager.
func NewDownloaderManager() *DownloaderManager { return &DownloaderManager{} }

// Len reports how many middlewares are registered, used by callers that
// need to start a response/exception chain after a real fetch (as opposed
// to a request-phase short circuit, which supplies its own stop index).
func (m *DownloaderManager) Len() int { return len(m.entries) }

// Add registers mw at priority (smaller runs earlier in the request phase).
// Ties break by insertion order (sort.SliceStable).
func (m *DownloaderManager) Add(mw DownloaderMiddleware, priority int) {
	m.entries = append(m.entries, downloaderEntry{mw: mw, priority: priority})
	sort.SliceStable(m.entries, func(i, j int) bool { return m.entries[i].priority < m.entries[j].priority })
}

// OpenSpider calls OpenSpider on every middleware that implements it, in
// chain order, returning the first error encountered.
func (m *DownloaderManager) OpenSpider(ctx context.Context, spider types.Spider) error {
	for _, e := range m.entries {
		if o, ok := e.mw.(SpiderOpener); ok {
			if err := o.OpenSpider(ctx, spider); err != nil {
				return err
			}
		}
	}
	return nil
}

// CloseSpider calls CloseSpider on every middleware that implements it.
// Errors are returned to the caller to log; closing continues regardless.
func (m *DownloaderManager) CloseSpider(ctx context.Context, spider types.Spider) []error {
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

// RunRequestChain runs process_request hooks forward. The returned index is
// where the chain stopped: len(entries) if it ran to completion
// (ActionContinue, meaning the caller should perform the actual fetch), or
// the index of the middleware that short-circuited.
func (m *DownloaderManager) RunRequestChain(ctx context.Context, req *types.Request, spider types.Spider) (Result, int, error) {
	for i, e := range m.entries {
		rp, ok := e.mw.(RequestProcessor)
		if !ok {
			continue
		}
		res, err := rp.ProcessRequest(ctx, req, spider)
		if err != nil {
			return Result{}, i, err
		}
		if !res.Valid() {
			return Result{}, i, types.ErrBadMiddlewareReturn
		}
		if res.Action() != ActionContinue {
			return res, i, nil
		}
	}
	return Continue(), len(m.entries), nil
}

// RunResponseChain runs process_response hooks in reverse starting just
// before fromIndex (the index RunRequestChain stopped at, or len(entries)
// after a real fetch). A middleware that KEEPs a response only sees the
// chain's earlier (lower-priority-number) members, mirroring: a
// short-circuiting request-phase hook already stood in for every
// middleware from its own index onward, so only the ones before it still
// need a look at the substituted response.
func (m *DownloaderManager) RunResponseChain(ctx context.Context, req *types.Request, resp *types.Response, spider types.Spider, fromIndex int) (*types.Response, Result, error) {
	current := resp
	for idx := fromIndex - 1; idx >= 0; idx-- {
		rp, ok := m.entries[idx].mw.(ResponseProcessor)
		if !ok {
			continue
		}
		res, err := rp.ProcessResponse(ctx, req, current, spider)
		if err != nil {
			return nil, Result{}, err
		}
		if !res.Valid() {
			return nil, Result{}, types.ErrBadMiddlewareReturn
		}
		switch res.Action() {
		case ActionContinue:
			continue
		case ActionKeep:
			current = res.Response()
		default:
			return nil, res, nil
		}
	}
	return current, Continue(), nil
}

// RunExceptionChain runs process_exception hooks in reverse starting just
// before fromIndex. If the chain runs out with every hook CONTINUE-ing, the
// caller must drop the request and surface cause as request_dropped.
func (m *DownloaderManager) RunExceptionChain(ctx context.Context, req *types.Request, cause error, spider types.Spider, fromIndex int) (Result, error) {
	for idx := fromIndex - 1; idx >= 0; idx-- {
		ep, ok := m.entries[idx].mw.(ExceptionProcessor)
		if !ok {
			continue
		}
		res, err := ep.ProcessException(ctx, req, cause, spider)
		if err != nil {
			return Result{}, err
		}
		if !res.Valid() {
			return Result{}, types.ErrBadMiddlewareReturn
		}
		if res.Action() != ActionContinue {
			return res, nil
		}
	}
	return Drop(), nil
}
