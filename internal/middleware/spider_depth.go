package middleware

import (
	"context"

	"github.com/qcrawl/qcrawl/internal/types"
)

// DepthMiddleware stamps each yielded Request with its parent response's
// depth + 1, and silently drops any Request beyond MaxDepth (0 = no
// limit). A yielded bare URL string is first turned into a Request, so it
// gets the same depth stamp and limit; without this middleware, a bare URL
// is scheduled at depth 0.
type DepthMiddleware struct {
	MaxDepth int
}

// NewDepthMiddleware builds a DepthMiddleware capping crawl depth at
// maxDepth (0 = unlimited).
func NewDepthMiddleware(maxDepth int) *DepthMiddleware {
	return &DepthMiddleware{MaxDepth: maxDepth}
}

// Name implements SpiderMiddleware.
func (m *DepthMiddleware) Name() string { return "depth" }

// WrapOutput implements SpiderOutputProcessor.
func (m *DepthMiddleware) WrapOutput(ctx context.Context, resp *types.Response, spider types.Spider, next types.Yield) types.Yield {
	parentDepth := resp.Request.Depth()
	return func(result types.ParseResult) error {
		if result.Kind == types.URLResult {
			result = types.YieldRequest(types.NewRequest(result.URL))
		}
		if result.Kind == types.RequestResult {
			childDepth := parentDepth + 1
			if m.MaxDepth > 0 && childDepth > m.MaxDepth {
				return nil // dropped silently, not forwarded to next
			}
			result.Request.SetDepth(childDepth)
		}
		return next(result)
	}
}
