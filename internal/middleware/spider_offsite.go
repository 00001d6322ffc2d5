package middleware

import (
	"context"
	"strings"

	"github.com/qcrawl/qcrawl/internal/signal"
	"github.com/qcrawl/qcrawl/internal/types"
	"github.com/qcrawl/qcrawl/internal/urlnorm"
)

// OffsiteMiddleware drops yielded Requests and URLs whose domain falls
// outside AllowedDomains (and any of their subdomains). An empty
// AllowedDomains disables filtering entirely.
type OffsiteMiddleware struct {
	AllowedDomains []string

	bus    *signal.Bus
	sender any
}

// NewOffsiteMiddleware builds an OffsiteMiddleware scoped to the given
// domains. bus/sender are used to emit request_dropped at the point of
// filtering (_examples/original_source/qcrawl/middleware/spider/offsite.py's
// should_follow emits it there rather than leaving it to the engine); bus may
// be nil, in which case filtering is silent.
func NewOffsiteMiddleware(allowedDomains []string, bus *signal.Bus, sender any) *OffsiteMiddleware {
	return &OffsiteMiddleware{AllowedDomains: allowedDomains, bus: bus, sender: sender}
}

// Name implements SpiderMiddleware.
func (m *OffsiteMiddleware) Name() string { return "offsite" }

// WrapOutput implements SpiderOutputProcessor.
func (m *OffsiteMiddleware) WrapOutput(ctx context.Context, resp *types.Response, spider types.Spider, next types.Yield) types.Yield {
	if len(m.AllowedDomains) == 0 {
		return next
	}
	return func(result types.ParseResult) error {
		var domain string
		switch result.Kind {
		case types.RequestResult:
			domain = result.Request.Domain()
		case types.URLResult:
			domain = urlnorm.Domain(result.URL)
		default:
			return next(result)
		}
		if !m.isAllowed(domain) {
			if m.bus != nil {
				m.bus.Send(ctx, signal.RequestDropped, m.sender, signal.Payload{})
			}
			return nil
		}
		return next(result)
	}
}

func (m *OffsiteMiddleware) isAllowed(domain string) bool {
	for _, allowed := range m.AllowedDomains {
		allowed = strings.ToLower(allowed)
		if domain == allowed || strings.HasSuffix(domain, "."+allowed) {
			return true
		}
	}
	return false
}
