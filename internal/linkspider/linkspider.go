// Package linkspider implements the default demo Spider wired by cmd/qcrawl:
// follow every same-page <a href> up to a configured depth, yielding one
// Item per page (title, meta description, heading counts, status code,
// content type) the same
// way cmd/scrapegoat/search.go's extraction used to, reworked onto the
// Spider/Parse/Yield contract (spec.md §4.2, §4.6).
package linkspider

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"

	"github.com/qcrawl/qcrawl/internal/types"
)

// Spider follows links from a set of seed URLs, extracting a small page
// summary at each stop. It implements types.StartRequester (seeds start at
// depth 0 explicitly) and types.SettingsOverrider (reporting
// allowedDomains; see CustomSettings).
type Spider struct {
	types.BaseSpider

	name           string
	seeds          []string
	maxDepth       int
	allowedDomains []string
	logger         *slog.Logger

	pagesVisited atomic.Int64
}

// New builds a link-following Spider named name, seeded from seeds, that
// stops descending past maxDepth. allowedDomains, if non-empty, is reported
// through CustomSettings; it does not configure the "offsite" middleware,
// which takes its domains from its own middleware options.
func New(name string, seeds []string, maxDepth int, allowedDomains []string, logger *slog.Logger) *Spider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Spider{
		name:           name,
		seeds:          seeds,
		maxDepth:       maxDepth,
		allowedDomains: allowedDomains,
		logger:         logger.With("spider", name),
	}
}

func (s *Spider) Name() string        { return s.name }
func (s *Spider) StartURLs() []string { return s.seeds }

// StartRequests seeds every URL at depth 0 explicitly, rather than relying
// on the Crawler's DefaultStartRequests default — a no-op here since that
// default already does exactly this, but spelled out because a real spider
// customizing seed priority/headers would hook in at this exact point.
func (s *Spider) StartRequests(yield func(*types.Request) error) error {
	for _, u := range s.seeds {
		req := types.NewRequest(u)
		req.SetDepth(0)
		if err := yield(req); err != nil {
			return err
		}
	}
	return nil
}

// CustomSettings returns allowedDomains under "allowed_domains" (spec.md
// §4.7.3a). That is not a known settings key, so the Crawler's merge
// reports it as unknown and does not apply it.
func (s *Spider) CustomSettings() map[string]any {
	if len(s.allowedDomains) == 0 {
		return nil
	}
	return map[string]any{"allowed_domains": s.allowedDomains}
}

// Parse extracts a page summary Item, then yields one Request per distinct
// <a href> found on the page, left for the depth/offsite spider-middleware
// chain to filter or drop (spec.md §4.6 handle_parse).
func (s *Spider) Parse(ctx context.Context, resp *types.Response, yield types.Yield) error {
	s.pagesVisited.Add(1)

	if !resp.IsSuccess() {
		s.logger.Debug("skipping non-2xx response", "url", resp.Request.URL(), "status", resp.StatusCode)
		return nil
	}

	doc, err := resp.Document()
	if err != nil {
		s.logger.Warn("failed to parse document", "url", resp.Request.URL(), "error", err)
		return nil
	}

	item := types.NewItem(resp.Request.URL(), s.name, resp.Request.Depth())
	item.Set("title", strings.TrimSpace(doc.Find("title").First().Text()))
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		item.Set("meta_description", strings.TrimSpace(desc))
	}
	item.Set("h1_count", doc.Find("h1").Length())
	item.Set("h2_count", doc.Find("h2").Length())
	item.Set("status_code", resp.StatusCode)
	item.Set("content_type", resp.ContentType)

	if err := yield(types.YieldItem(item)); err != nil {
		return err
	}

	if s.maxDepth >= 0 && resp.Request.Depth() >= s.maxDepth {
		return nil
	}

	return s.yieldLinks(doc, resp, yield)
}

// yieldLinks resolves each distinct <a href> against the response's final
// URL and yields a child Request at depth+1, stopping on the first yield
// error (spec.md §4.6 handle_parse: a non-nil return from yield aborts the
// rest of this response's output).
func (s *Spider) yieldLinks(doc *goquery.Document, resp *types.Response, yield types.Yield) error {
	seen := make(map[string]bool)
	var firstErr error
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return true
		}
		req, err := resp.Follow(href)
		if err != nil {
			return true
		}
		if seen[req.URL()] {
			return true
		}
		seen[req.URL()] = true
		req.SetDepth(resp.Request.Depth() + 1)
		if err := yield(types.YieldRequest(req)); err != nil {
			firstErr = err
			return false
		}
		return true
	})
	return firstErr
}
