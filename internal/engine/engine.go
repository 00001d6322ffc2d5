// Package engine implements the crawl engine and worker pool (spec.md
// §4.6): the orchestration loop that schedules start requests, spawns N
// workers pulling from the Scheduler, and drives each request through the
// downloader/handler/spider pipeline until the crawl drains.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/qcrawl/qcrawl/internal/handler"
	"github.com/qcrawl/qcrawl/internal/middleware"
	"github.com/qcrawl/qcrawl/internal/scheduler"
	"github.com/qcrawl/qcrawl/internal/signal"
	"github.com/qcrawl/qcrawl/internal/types"
)

const (
	minConcurrency     = 1
	maxConcurrency     = 10_000
	defaultConcurrency = 10
)

// Engine drives one full crawl. Grounded on internal/engine/engine.go +
// internal/engine/scheduler.go (teacher): same worker-pool/idle-until-drained
// shape, rebuilt around this module's Scheduler (direct-handoff + pending
// accounting replaces the teacher's Frontier + idle-poll-three-ticks
// heuristic) and around the Downloader/Spider middleware chains the teacher
// never had. The hand-rolled sync.WaitGroup the teacher used for worker
// supervision is replaced by conc.WaitGroup (already an indirect dependency
// in the teacher's go.mod, here put to direct use): its panic-catching
// propagates an engine-level (not per-request) panic to Wait's caller the
// same way an unhandled exception would reach spec.md §4.6 step 6.
type Engine struct {
	scheduler      *scheduler.Scheduler
	router         *handler.Router
	downloaderMW   *middleware.DownloaderManager
	spiderMW       *middleware.SpiderManager
	spider         types.Spider
	bus            *signal.Bus
	concurrency    int
	requestTimeout time.Duration
	logger         *slog.Logger

	running atomic.Bool
}

// New builds an Engine. concurrency is clamped to [1, 10_000], falling back
// to 10 on any out-of-range value (spec.md §4.6 step 2). requestTimeout is
// the per-fetch deadline handed to the Handler; it defaults to 30s.
func New(
	sched *scheduler.Scheduler,
	router *handler.Router,
	downloaderMW *middleware.DownloaderManager,
	spiderMW *middleware.SpiderManager,
	spider types.Spider,
	bus *signal.Bus,
	concurrency int,
	requestTimeout time.Duration,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < minConcurrency || concurrency > maxConcurrency {
		concurrency = defaultConcurrency
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Engine{
		scheduler:      sched,
		router:         router,
		downloaderMW:   downloaderMW,
		spiderMW:       spiderMW,
		spider:         spider,
		bus:            bus,
		concurrency:    concurrency,
		requestTimeout: requestTimeout,
		logger:         logger.With("component", "engine"),
	}
}

// Running reports whether a Crawl is currently in progress.
func (e *Engine) Running() bool { return e.running.Load() }

// Crawl runs spec.md §4.6's crawl() sequence: schedule start requests, spawn
// the worker pool, wait for the scheduler to drain, then clean up. Safe to
// call once per Engine.
func (e *Engine) Crawl(ctx context.Context, startRequests []*types.Request) error {
	e.running.Store(true)
	defer e.running.Store(false)

	for _, req := range startRequests {
		if err := e.scheduler.Add(ctx, req); err != nil {
			e.logger.Warn("failed to schedule a start request", "url", req.URL(), "error", err)
		}
	}

	wg := conc.NewWaitGroup()
	for i := 0; i < e.concurrency; i++ {
		id := i
		wg.Go(func() { e.worker(ctx, id) })
	}

	joinErr := e.scheduler.Join(ctx)

	// Cleanup (always): stop accepting new work, let every worker observe
	// the closed scheduler (or ctx cancellation) and exit, then wait them out.
	e.scheduler.Close()
	wg.Wait()

	if joinErr != nil && !errors.Is(joinErr, context.Canceled) && !errors.Is(joinErr, context.DeadlineExceeded) {
		e.bus.Send(ctx, signal.SpiderError, e.spider, signal.Payload{"error": joinErr})
		return joinErr
	}
	return nil
}

// worker is one of the engine's N cooperative loops (spec.md §4.6's worker
// loop): pull a request, process it end to end, repeat until the scheduler
// reports closed or the crawl's context is done.
func (e *Engine) worker(ctx context.Context, id int) {
	logger := e.logger.With("worker_id", id)
	for {
		req, err := e.scheduler.Get(ctx)
		if err != nil {
			return
		}
		e.runRequest(ctx, logger, req)
	}
}

// runRequest processes a single request and unconditionally calls TaskDone,
// mirroring the worker loop's try/on-cancellation/on-exception/always
// structure. A panic anywhere in request processing is isolated here so one
// bad request never takes down a sibling worker (spec.md §7's propagation
// policy).
func (e *Engine) runRequest(ctx context.Context, logger *slog.Logger, req *types.Request) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing request", "url", req.URL(), "panic", r)
			e.bus.Send(ctx, signal.RequestDropped, e.spider, signal.Payload{"request": req, "error": fmt.Errorf("panic: %v", r)})
		}
		if err := e.scheduler.TaskDone(); err != nil {
			logger.Error("task_done accounting error", "error", err)
		}
	}()

	if ctx.Err() != nil {
		e.runExceptionChainBestEffort(ctx, req, ctx.Err())
		return
	}

	resp, err := e.processRequest(ctx, req)
	if err != nil {
		e.handleException(ctx, logger, req, err)
		return
	}
	if resp != nil {
		e.handleParse(ctx, logger, req, resp)
	}
}

// processRequest implements spec.md §4.6's process_request: run the
// request-chain, fetch on CONTINUE, then run the response-chain.
func (e *Engine) processRequest(ctx context.Context, req *types.Request) (*types.Response, error) {
	result, stopIndex, err := e.downloaderMW.RunRequestChain(ctx, req, e.spider)
	if err != nil {
		return nil, err
	}

	switch result.Action() {
	case middleware.ActionDrop:
		e.bus.Send(ctx, signal.RequestDropped, e.spider, signal.Payload{"request": req})
		return nil, nil
	case middleware.ActionRetry:
		if addErr := e.scheduler.Add(ctx, result.NewRequest()); addErr != nil {
			e.logger.Warn("retry re-add failed", "url", req.URL(), "error", addErr)
		}
		return nil, nil
	case middleware.ActionKeep:
		e.bus.Send(ctx, signal.RequestReachedDownloader, e.spider, signal.Payload{"request": req})
		resp, respResult, respErr := e.downloaderMW.RunResponseChain(ctx, req, result.Response(), e.spider, stopIndex)
		return e.resolveResponseResult(ctx, req, resp, respResult, respErr)
	default: // ActionContinue: chain exhausted, perform the real fetch
		e.bus.Send(ctx, signal.RequestReachedDownloader, e.spider, signal.Payload{"request": req})
		h, routeErr := e.router.Route(ctx, req)
		if routeErr != nil {
			return nil, routeErr
		}
		resp, fetchErr := h.Fetch(ctx, req, e.spider, nil, e.requestTimeout)
		if fetchErr != nil {
			return nil, fetchErr
		}
		e.bus.Send(ctx, signal.ResponseReceived, e.spider, signal.Payload{"response": resp, "request": req})
		e.bus.Send(ctx, signal.BytesReceived, e.spider, signal.Payload{"size": len(resp.Body), "request": req})
		e.bus.Send(ctx, signal.HeadersReceived, e.spider, signal.Payload{"headers": resp.Headers, "request": req})
		chained, respResult, respErr := e.downloaderMW.RunResponseChain(ctx, req, resp, e.spider, e.downloaderMW.Len())
		return e.resolveResponseResult(ctx, req, chained, respResult, respErr)
	}
}

// resolveResponseResult interprets a response-chain outcome: CONTINUE/KEEP
// both surface a response to handle_parse; RETRY re-adds and DROP signals,
// both producing no response for the caller.
func (e *Engine) resolveResponseResult(ctx context.Context, req *types.Request, resp *types.Response, result middleware.Result, err error) (*types.Response, error) {
	if err != nil {
		return nil, err
	}
	switch result.Action() {
	case middleware.ActionDrop:
		e.bus.Send(ctx, signal.RequestDropped, e.spider, signal.Payload{"request": req})
		return nil, nil
	case middleware.ActionRetry:
		if addErr := e.scheduler.Add(ctx, result.NewRequest()); addErr != nil {
			e.logger.Warn("retry re-add failed", "url", req.URL(), "error", addErr)
		}
		return nil, nil
	default: // ActionContinue (response chain exhausted cleanly)
		return resp, nil
	}
}

// handleParse implements spec.md §4.6's handle_parse: spider-input hook,
// parse, spider-output wrapping, and dispatch of each yielded value.
func (e *Engine) handleParse(ctx context.Context, logger *slog.Logger, req *types.Request, resp *types.Response) {
	if err := e.spiderMW.ProcessInput(ctx, resp, e.spider); err != nil {
		e.handleException(ctx, logger, req, err)
		return
	}

	base := func(result types.ParseResult) error {
		return e.dispatchParseResult(ctx, req, result)
	}
	yield := e.spiderMW.WrapOutput(ctx, resp, e.spider, base)

	if err := e.spider.Parse(ctx, resp, yield); err != nil {
		e.handleSpiderException(ctx, logger, resp, err, yield)
	}
}

// dispatchParseResult routes one yielded ParseResult: items emit
// item_scraped, Requests and URL strings schedule more work. Depth policy is
// applied by the Depth middleware (spec.md §4.6 step 4), not here.
func (e *Engine) dispatchParseResult(ctx context.Context, parent *types.Request, result types.ParseResult) error {
	switch result.Kind {
	case types.ItemResult:
		e.bus.Send(ctx, signal.ItemScraped, e.spider, signal.Payload{"item": result.Item})
		return nil
	case types.RequestResult:
		return e.scheduler.Add(ctx, result.Request)
	case types.URLResult:
		return e.scheduler.AddURL(ctx, result.URL)
	default:
		e.logger.Debug("ignoring unrecognized parse result kind", "kind", result.Kind)
		return nil
	}
}

// handleSpiderException implements process_spider_exception: a recovering
// middleware yields replacement output through yield; otherwise the failure
// is logged and the response is dropped (no dedicated signal — item_error
// covers per-item failures, request_dropped covers fetch-side ones, and a
// parse-time exception maps most closely to spider_error for visibility).
func (e *Engine) handleSpiderException(ctx context.Context, logger *slog.Logger, resp *types.Response, cause error, yield types.Yield) {
	recovered, err := e.spiderMW.ProcessException(ctx, resp, cause, e.spider, yield)
	if err != nil {
		logger.Error("spider exception hook failed", "error", err)
		return
	}
	if !recovered {
		logger.Error("unrecovered parse error", "url", resp.Request.URL(), "error", cause)
		e.bus.Send(ctx, signal.SpiderError, e.spider, signal.Payload{"error": cause, "response": resp})
	}
}

// handleException implements spec.md §4.6's handle_exception: network-class
// errors run the downloader exception chain; everything else is logged and
// dropped directly.
func (e *Engine) handleException(ctx context.Context, logger *slog.Logger, req *types.Request, cause error) {
	var fetchErr *types.FetchError
	if !errors.As(cause, &fetchErr) {
		logger.Error("non-network error processing request, dropping", "url", req.URL(), "error", cause)
		e.bus.Send(ctx, signal.RequestDropped, e.spider, signal.Payload{"request": req, "error": cause})
		return
	}

	result, err := e.downloaderMW.RunExceptionChain(ctx, req, cause, e.spider, e.downloaderMW.Len())
	if err != nil {
		logger.Error("exception chain hook failed", "error", err)
		e.bus.Send(ctx, signal.RequestFailed, e.spider, signal.Payload{"request": req, "error": err})
		return
	}

	switch result.Action() {
	case middleware.ActionRetry:
		if addErr := e.scheduler.Add(ctx, result.NewRequest()); addErr != nil {
			logger.Warn("retry re-add failed", "url", req.URL(), "error", addErr)
		}
	default: // DROP (explicit or chain-exhausted)
		e.bus.Send(ctx, signal.RequestFailed, e.spider, signal.Payload{"request": req, "error": cause})
		e.bus.Send(ctx, signal.RequestDropped, e.spider, signal.Payload{"request": req, "error": cause})
	}
}

// runExceptionChainBestEffort runs the exception chain for a worker
// cancellation so resource-holding middlewares (per-domain semaphores,
// rate-limit slots) can release what they hold. Failures are logged, never
// propagated: spec.md §5 says cancellation cleanup suppresses all errors.
func (e *Engine) runExceptionChainBestEffort(ctx context.Context, req *types.Request, cause error) {
	detached := context.WithoutCancel(ctx)
	if _, err := e.downloaderMW.RunExceptionChain(detached, req, cause, e.spider, e.downloaderMW.Len()); err != nil {
		e.logger.Warn("exception chain failed during cancellation cleanup", "url", req.URL(), "error", err)
	}
}

