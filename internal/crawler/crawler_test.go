package crawler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/qcrawl/qcrawl/internal/config"
	"github.com/qcrawl/qcrawl/internal/middleware"
	"github.com/qcrawl/qcrawl/internal/signal"
	"github.com/qcrawl/qcrawl/internal/types"
)

// fakeSpider records lifecycle calls and yields one item per response. With
// no start URLs the crawl drains immediately without ever reaching a
// Handler, which keeps these tests focused on Crawler wiring/lifecycle
// rather than on a real network round trip.
type fakeSpider struct {
	mu           sync.Mutex
	opened       bool
	closedReason string
	closed       bool
	parsed       int
	startURLs    []string
	custom       map[string]any
}

func (s *fakeSpider) Name() string        { return "fake" }
func (s *fakeSpider) StartURLs() []string { return s.startURLs }

func (s *fakeSpider) Parse(ctx context.Context, resp *types.Response, yield types.Yield) error {
	s.mu.Lock()
	s.parsed++
	s.mu.Unlock()
	return yield(types.YieldItem(types.NewItem(resp.Request.URL(), s.Name(), 0)))
}

func (s *fakeSpider) OpenSpider(ctx context.Context) error {
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSpider) CloseSpider(ctx context.Context, reason string) error {
	s.mu.Lock()
	s.closed = true
	s.closedReason = reason
	s.mu.Unlock()
	return nil
}

func (s *fakeSpider) CustomSettings() map[string]any { return s.custom }

func (s *fakeSpider) snapshot() (opened, closed bool, reason string, parsed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.closed, s.closedReason, s.parsed
}

// recordingMiddleware counts OpenSpider/CloseSpider calls so tests can
// verify the crawler drives both lifecycle hooks on a resolved middleware.
type recordingMiddleware struct {
	name   string
	opened int
	closed int
}

func (m *recordingMiddleware) Name() string { return m.name }
func (m *recordingMiddleware) OpenSpider(ctx context.Context, spider types.Spider) error {
	m.opened++
	return nil
}
func (m *recordingMiddleware) CloseSpider(ctx context.Context, spider types.Spider) error {
	m.closed++
	return nil
}

func TestCrawler_FinalizeSettingsMergesCustomSettingsRestrictedToKnownKeys(t *testing.T) {
	spider := &fakeSpider{custom: map[string]any{
		"Engine.Concurrency": 7,
		"not.a.real.key":     "ignored",
	}}
	c := New(spider, config.DefaultSettings(), middleware.NewRegistry(), signal.New(), nil, nil)

	merged, err := c.finalizeSettings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged.Engine.Concurrency != 7 {
		t.Fatalf("expected concurrency 7 from custom_settings, got %d", merged.Engine.Concurrency)
	}
}

func TestCrawler_FinalizeSettingsRejectsInvalidMerge(t *testing.T) {
	spider := &fakeSpider{custom: map[string]any{"engine.concurrency": 0}}
	c := New(spider, config.DefaultSettings(), middleware.NewRegistry(), signal.New(), nil, nil)

	if _, err := c.finalizeSettings(); err == nil {
		t.Fatal("expected validation error for concurrency 0")
	}
}

func TestCrawler_OpensAndClosesSpiderAndMiddlewaresAroundACrawl(t *testing.T) {
	spider := &fakeSpider{}
	registry := middleware.NewRegistry()
	dlMW := &recordingMiddleware{name: "rec-dl"}
	spMW := &recordingMiddleware{name: "rec-sp"}
	registry.RegisterDownloader("rec-dl", func(settings map[string]any) (middleware.DownloaderMiddleware, error) { return dlMW, nil })
	registry.RegisterSpider("rec-sp", func(settings map[string]any) (middleware.SpiderMiddleware, error) { return spMW, nil })

	settings := config.DefaultSettings()
	settings.Engine.Concurrency = 2
	settings.Engine.RequestTimeout = time.Second
	settings.Handlers.Configured = []string{"http"}
	settings.Middlewares = []config.MiddlewareSettings{
		{Name: "rec-dl", Priority: 0},
		{Name: "rec-sp", Priority: 0},
	}

	bus := signal.New()
	var opened, closed int
	bus.Connect(signal.SpiderOpened, spider, func(ctx context.Context, payload signal.Payload) { opened++ })
	bus.Connect(signal.SpiderClosed, spider, func(ctx context.Context, payload signal.Payload) { closed++ })

	c := New(spider, settings, registry, bus, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Crawl(ctx); err != nil {
		t.Fatalf("unexpected crawl error: %v", err)
	}

	isOpened, isClosed, _, _ := spider.snapshot()
	if !isOpened {
		t.Fatal("expected spider.OpenSpider to have been called")
	}
	if !isClosed {
		t.Fatal("expected spider.CloseSpider to have been called")
	}
	if dlMW.opened != 1 || dlMW.closed != 1 {
		t.Fatalf("expected downloader middleware open/close exactly once, got open=%d close=%d", dlMW.opened, dlMW.closed)
	}
	if spMW.opened != 1 || spMW.closed != 1 {
		t.Fatalf("expected spider middleware open/close exactly once, got open=%d close=%d", spMW.opened, spMW.closed)
	}
	if opened != 1 {
		t.Fatalf("expected 1 spider_opened signal, got %d", opened)
	}
	if closed != 1 {
		t.Fatalf("expected 1 spider_closed signal, got %d", closed)
	}
}

func TestCrawler_UnresolvableMiddlewareIsSkippedNotFatal(t *testing.T) {
	spider := &fakeSpider{}
	settings := config.DefaultSettings()
	settings.Engine.Concurrency = 1
	settings.Engine.RequestTimeout = time.Second
	settings.Middlewares = []config.MiddlewareSettings{{Name: "does-not-exist", Priority: 0}}

	c := New(spider, settings, middleware.NewRegistry(), signal.New(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Crawl(ctx); err != nil {
		t.Fatalf("an unresolvable pending middleware must not fail the crawl, got: %v", err)
	}
}

func TestCrawler_FinalizeIsIdempotent(t *testing.T) {
	spider := &fakeSpider{}
	c := New(spider, config.DefaultSettings(), middleware.NewRegistry(), signal.New(), nil, nil)
	if err := c.wire(); err != nil {
		t.Fatalf("wire: %v", err)
	}
	c.registerStatsCollector()

	ctx := context.Background()
	c.Finalize(ctx, "")
	c.Finalize(ctx, "") // must not panic or run CloseSpider's side effects twice in a way tests can observe

	_, closed, _, _ := spider.snapshot()
	if !closed {
		t.Fatal("expected CloseSpider to have run")
	}
}
