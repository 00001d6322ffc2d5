package linkspider

import (
	"context"
	"testing"

	"github.com/qcrawl/qcrawl/internal/types"
)

const samplePage = `<html><head>
<title> Example Domain </title>
<meta name="description" content="a sample page">
</head><body>
<h1>Welcome</h1>
<a href="/about">About</a>
<a href="/about">About again, same link</a>
<a href="#section">anchor only, skipped</a>
<a href="javascript:void(0)">skipped</a>
<a href="https://other.example/page">offsite</a>
</body></html>`

func newResponse(t *testing.T, rawURL string, depth int) *types.Response {
	t.Helper()
	req := types.NewRequest(rawURL)
	req.SetDepth(depth)
	return types.NewBrowserResponse(req, 200, []byte(samplePage), rawURL, 0)
}

func TestSpider_ParseYieldsOneItemWithExtractedSummary(t *testing.T) {
	s := New("test", []string{"https://example.com"}, 3, nil, nil)
	resp := newResponse(t, "https://example.com", 0)

	var items []*types.Item
	err := s.Parse(context.Background(), resp, func(r types.ParseResult) error {
		if r.Kind == types.ItemResult {
			items = append(items, r.Item)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly 1 item, got %d", len(items))
	}
	if got := items[0].GetString("title"); got != "Example Domain" {
		t.Fatalf("expected trimmed title %q, got %q", "Example Domain", got)
	}
	if got := items[0].GetString("meta_description"); got != "a sample page" {
		t.Fatalf("unexpected meta_description: %q", got)
	}
}

func TestSpider_ParseYieldsDeduplicatedChildRequestsSkippingAnchorsAndJavascript(t *testing.T) {
	s := New("test", []string{"https://example.com"}, 3, nil, nil)
	resp := newResponse(t, "https://example.com", 0)

	var urls []string
	err := s.Parse(context.Background(), resp, func(r types.ParseResult) error {
		if r.Kind == types.RequestResult {
			urls = append(urls, r.Request.URL())
			if r.Request.Depth() != 1 {
				t.Fatalf("expected child request at depth 1, got %d", r.Request.Depth())
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("expected 2 distinct child requests (about, offsite), got %d: %v", len(urls), urls)
	}
}

func TestSpider_ParseStopsDescendingPastMaxDepth(t *testing.T) {
	s := New("test", []string{"https://example.com"}, 0, nil, nil)
	resp := newResponse(t, "https://example.com", 0)

	var requestCount int
	err := s.Parse(context.Background(), resp, func(r types.ParseResult) error {
		if r.Kind == types.RequestResult {
			requestCount++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if requestCount != 0 {
		t.Fatalf("expected no child requests at max depth, got %d", requestCount)
	}
}

func TestSpider_ParseSkipsNonSuccessResponses(t *testing.T) {
	s := New("test", []string{"https://example.com"}, 3, nil, nil)
	req := types.NewRequest("https://example.com/missing")
	resp := types.NewBrowserResponse(req, 404, []byte(samplePage), "https://example.com/missing", 0)

	var yieldCount int
	err := s.Parse(context.Background(), resp, func(r types.ParseResult) error {
		yieldCount++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if yieldCount != 0 {
		t.Fatalf("expected no yields for a non-2xx response, got %d", yieldCount)
	}
}

func TestSpider_CustomSettingsCarriesAllowedDomainsWhenSet(t *testing.T) {
	s := New("test", nil, 3, []string{"example.com"}, nil)
	custom := s.CustomSettings()
	domains, ok := custom["allowed_domains"].([]string)
	if !ok || len(domains) != 1 || domains[0] != "example.com" {
		t.Fatalf("expected allowed_domains custom setting, got %#v", custom)
	}

	empty := New("test", nil, 3, nil, nil)
	if empty.CustomSettings() != nil {
		t.Fatal("expected nil CustomSettings when no allowed domains configured")
	}
}

func TestSpider_StartRequestsSeedsAtDepthZero(t *testing.T) {
	s := New("test", []string{"https://a.example", "https://b.example"}, 3, nil, nil)
	var reqs []*types.Request
	if err := s.StartRequests(func(r *types.Request) error {
		reqs = append(reqs, r)
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 start requests, got %d", len(reqs))
	}
	for _, r := range reqs {
		if r.Depth() != 0 {
			t.Fatalf("expected depth 0, got %d", r.Depth())
		}
	}
}
