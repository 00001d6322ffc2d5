// Package crawler implements the crawl lifecycle object (spec.md §4.7):
// the one-shot owner that finalizes settings, wires every other component
// together, drives a single crawl through Engine.Crawl, and tears
// everything down exactly once regardless of how the crawl ended.
package crawler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/qcrawl/qcrawl/internal/config"
	"github.com/qcrawl/qcrawl/internal/engine"
	"github.com/qcrawl/qcrawl/internal/fingerprint"
	"github.com/qcrawl/qcrawl/internal/handler"
	"github.com/qcrawl/qcrawl/internal/middleware"
	"github.com/qcrawl/qcrawl/internal/observability"
	"github.com/qcrawl/qcrawl/internal/queue"
	"github.com/qcrawl/qcrawl/internal/scheduler"
	"github.com/qcrawl/qcrawl/internal/signal"
	"github.com/qcrawl/qcrawl/internal/types"
)

// Crawler owns one crawl: a spider, a settings snapshot, and every
// component the crawl needs, released exactly once in Finalize (spec.md
// §4.7, "Resource ownership and lifetimes").
type Crawler struct {
	spider   types.Spider
	settings *config.Settings
	registry *middleware.Registry
	bus      *signal.Bus
	queue    queue.Queue
	logger   *slog.Logger

	// built by Crawl, torn down by Finalize.
	scope        *signal.Scope
	router       *handler.Router
	sched        *scheduler.Scheduler
	eng          *engine.Engine
	downloaderMW *middleware.DownloaderManager
	spiderMW     *middleware.SpiderManager
	stats        *observability.StatsCollector

	finalizeOnce sync.Once
}

// New builds a Crawler for spider, using settings as the base settings
// snapshot (spec.md §4.7 step 1) and registry to resolve pending
// middlewares (step 2). q is an optional pre-supplied queue; nil builds the
// default in-memory priority queue sized per settings.Queue.MaxSize. bus is
// the global signal bus every crawl shares.
func New(spider types.Spider, settings *config.Settings, registry *middleware.Registry, bus *signal.Bus, q queue.Queue, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = signal.New()
	}
	return &Crawler{
		spider:   spider,
		settings: settings,
		registry: registry,
		bus:      bus,
		queue:    q,
		logger:   logger.With("component", "crawler", "spider", spider.Name()),
	}
}

// Crawl runs spec.md §4.7 step 3 end to end: finalize settings, wire
// components, open everything, run the engine, then finalize exactly once
// whether it returned an error, panicked, or completed cleanly.
func (c *Crawler) Crawl(ctx context.Context) (crawlErr error) {
	finalSettings, err := c.finalizeSettings()
	if err != nil {
		return err
	}
	c.settings = finalSettings

	if err := c.wire(); err != nil {
		return err
	}
	defer func() {
		reason := ""
		if crawlErr != nil {
			reason = crawlErr.Error()
		}
		c.Finalize(context.WithoutCancel(ctx), reason)
	}()

	c.resolvePendingMiddlewares()
	c.registerStatsCollector()
	c.openMiddlewares(ctx)

	if err := c.spider.OpenSpider(ctx); err != nil {
		c.logger.Error("spider open_spider failed", "error", err)
		return err
	}
	c.bus.Send(ctx, signal.SpiderOpened, c.spider, signal.Payload{})

	startRequests, err := c.buildStartRequests(ctx)
	if err != nil {
		return err
	}

	return c.eng.Crawl(ctx, startRequests)
}

// finalizeSettings merges the spider's custom_settings (case-insensitive,
// restricted to known keys) into the base settings and validates the result
// (spec.md §4.7 step 3a).
func (c *Crawler) finalizeSettings() (*config.Settings, error) {
	base := c.settings
	if base == nil {
		base = config.DefaultSettings()
	}

	merged := base
	if overrider, ok := c.spider.(types.SettingsOverrider); ok {
		custom := overrider.CustomSettings()
		if len(custom) > 0 {
			var unknown []string
			merged, unknown = config.Merge(base, custom)
			for _, key := range unknown {
				c.logger.Warn("spider custom_settings named an unknown key, ignoring", "key", key)
			}
		}
	}

	if err := config.Validate(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// wire instantiates the Fingerprinter, Handler-Router, Scheduler, and Engine
// over the finalized settings (spec.md §4.7 step 3b).
func (c *Crawler) wire() error {
	fp, err := fingerprint.New(
		fingerprint.IgnoreQueryParams(c.settings.Fingerprinter.IgnoreQueryParams...),
		fingerprint.KeepQueryParams(c.settings.Fingerprinter.KeepQueryParams...),
		fingerprint.DigestSize(c.settings.Fingerprinter.DigestSize),
	)
	if err != nil {
		return err
	}

	if c.queue == nil {
		q, err := queue.NewMemoryQueue(c.settings.Queue.MaxSize)
		if err != nil {
			return err
		}
		c.queue = q
	}

	c.router = handler.NewRouter(c.logger)
	c.router.Register("http", func(settings map[string]any) (handler.Handler, error) {
		return handler.NewHTTPHandler(settings, c.logger)
	})
	c.router.Register("browser", func(settings map[string]any) (handler.Handler, error) {
		return handler.NewBrowserHandler(settings, c.logger)
	})
	c.router.Configure(c.settings.Handlers.Configured, c.settings.Handlers.Options)

	c.sched = scheduler.New(c.queue, fp, c.bus, c.spider, c.logger)
	c.downloaderMW = middleware.NewDownloaderManager()
	c.spiderMW = middleware.NewSpiderManager()
	c.eng = engine.New(c.sched, c.router, c.downloaderMW, c.spiderMW, c.spider, c.bus, c.settings.Engine.Concurrency, c.settings.Engine.RequestTimeout, c.logger)
	c.scope = c.bus.NewScope()

	return nil
}

// resolvePendingMiddlewares implements spec.md §4.7 step 3d: for each
// configured middleware, try the downloader registry, then the spider
// registry, then log-warn-skip.
func (c *Crawler) resolvePendingMiddlewares() {
	if c.registry == nil {
		return
	}
	for _, cfg := range c.settings.Middlewares {
		if mw, err := c.registry.ResolveDownloader(cfg.Name, cfg.Options); err == nil {
			c.downloaderMW.Add(mw, cfg.Priority)
			continue
		}
		if mw, err := c.registry.ResolveSpider(cfg.Name, cfg.Options); err == nil {
			c.spiderMW.Add(mw, cfg.Priority)
			continue
		}
		c.logger.Warn("pending middleware matched neither registry, skipping", "middleware", cfg.Name)
	}
}

// registerStatsCollector wires the StatsCollector's handlers onto the
// shared bus through this Crawler's Scope, recorded for deterministic
// disconnection at Finalize (spec.md §4.7 step 3e).
func (c *Crawler) registerStatsCollector() {
	c.stats = observability.NewStatsCollector(c.logger)
	c.stats.Connect(c.scope, c.spider)
}

// openMiddlewares calls OpenSpider on every registered middleware in both
// chains; errors are logged, never fatal (spec.md §4.7 step 3f).
func (c *Crawler) openMiddlewares(ctx context.Context) {
	if err := c.downloaderMW.OpenSpider(ctx, c.spider); err != nil {
		c.logger.Error("downloader middleware open_spider failed", "error", err)
	}
	if err := c.spiderMW.OpenSpider(ctx, c.spider); err != nil {
		c.logger.Error("spider middleware open_spider failed", "error", err)
	}
}

// buildStartRequests assembles the seed requests: a StartRequester spider
// supplies its own; otherwise one Request per StartURLs() entry at depth 0.
// The spider-middleware chain's process_start_requests then gets a final
// pass (spec.md §4.6 step 1, §4.5.2).
func (c *Crawler) buildStartRequests(ctx context.Context) ([]*types.Request, error) {
	var requests []*types.Request
	if sr, ok := c.spider.(types.StartRequester); ok {
		if err := sr.StartRequests(func(req *types.Request) error {
			requests = append(requests, req)
			return nil
		}); err != nil {
			return nil, err
		}
	} else {
		requests = types.DefaultStartRequests(c.spider.StartURLs())
	}
	return c.spiderMW.BuildStartRequests(ctx, requests, c.spider)
}

// Finalize implements spec.md §4.7 step 4: close_spider, spider_closed,
// middlewares' close_spider in reverse, log final stats, disconnect every
// registered signal handler, close the router and scheduler, drop the
// queue reference. Idempotent: safe to call (or defer) more than once.
func (c *Crawler) Finalize(ctx context.Context, reason string) {
	c.finalizeOnce.Do(func() {
		if err := c.spider.CloseSpider(ctx, reason); err != nil {
			c.logger.Error("spider close_spider failed", "error", err)
		}
		c.bus.Send(ctx, signal.SpiderClosed, c.spider, signal.Payload{"reason": reason})

		for _, err := range c.spiderMW.CloseSpider(ctx, c.spider) {
			c.logger.Warn("spider middleware close_spider error", "error", err)
		}
		for _, err := range c.downloaderMW.CloseSpider(ctx, c.spider) {
			c.logger.Warn("downloader middleware close_spider error", "error", err)
		}

		if c.stats != nil {
			c.stats.LogFinal(c.spider.Name())
		}
		if c.scope != nil {
			c.scope.Close()
		}
		if c.router != nil {
			c.router.Close()
		}
		if c.sched != nil {
			c.sched.Close()
		}
		c.queue = nil
	})
}
