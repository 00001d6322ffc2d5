package observability

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/qcrawl/qcrawl/internal/signal"
)

// StatsCollector is the concrete component behind spec.md §4.7 step 4's "log
// final stats": it subscribes to the four signals that mark a crawl's
// throughput and logs a summary when the crawl closes (SPEC_FULL §C,
// grounded on qcrawl/core/stats.py).
type StatsCollector struct {
	requestsScheduled atomic.Int64
	responsesReceived atomic.Int64
	itemsScraped      atomic.Int64
	requestsDropped   atomic.Int64

	logger *slog.Logger
}

// NewStatsCollector builds a collector with all counters at zero.
func NewStatsCollector(logger *slog.Logger) *StatsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsCollector{logger: logger.With("component", "stats")}
}

// Connect registers this collector's handlers on bus, scoped to sender
// (normally the spider instance, matching every other crawl-lifetime
// subscription), through scope so they can be torn down deterministically
// at crawl close (spec.md §4.7 step 3e, step 4 "disconnect every handler").
func (s *StatsCollector) Connect(scope *signal.Scope, sender any) {
	scope.Connect(signal.RequestScheduled, sender, func(ctx context.Context, payload signal.Payload) {
		s.requestsScheduled.Add(1)
	})
	scope.Connect(signal.ResponseReceived, sender, func(ctx context.Context, payload signal.Payload) {
		s.responsesReceived.Add(1)
	})
	scope.Connect(signal.ItemScraped, sender, func(ctx context.Context, payload signal.Payload) {
		s.itemsScraped.Add(1)
	})
	scope.Connect(signal.RequestDropped, sender, func(ctx context.Context, payload signal.Payload) {
		s.requestsDropped.Add(1)
	})
}

// Snapshot returns the current counters as a map, convenient for logging or
// exposing through Metrics.
func (s *StatsCollector) Snapshot() map[string]int64 {
	return map[string]int64{
		"requests_scheduled": s.requestsScheduled.Load(),
		"responses_received": s.responsesReceived.Load(),
		"items_scraped":      s.itemsScraped.Load(),
		"requests_dropped":   s.requestsDropped.Load(),
	}
}

// LogFinal writes the collected counters at Info level, implementing
// spec.md §4.7 step 4's "log final stats".
func (s *StatsCollector) LogFinal(spiderName string) {
	s.logger.Info("crawl finished",
		"spider", spiderName,
		"requests_scheduled", s.requestsScheduled.Load(),
		"responses_received", s.responsesReceived.Load(),
		"items_scraped", s.itemsScraped.Load(),
		"requests_dropped", s.requestsDropped.Load(),
	)
}
