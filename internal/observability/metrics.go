package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Metrics tracks operational counters for a crawl, exposed in Prometheus
// text exposition format (spec.md §6 EXTERNAL INTERFACES names the signal
// set; this is the ambient metrics surface the teacher's stack carries
// alongside it, per SPEC_FULL §A).
type Metrics struct {
	RequestsScheduled atomic.Int64
	RequestsDropped   atomic.Int64

	ResponsesReceived atomic.Int64
	Responses2xx      atomic.Int64
	Responses3xx      atomic.Int64
	Responses4xx      atomic.Int64
	Responses5xx      atomic.Int64

	ItemsScraped atomic.Int64

	ActiveWorkers   atomic.Int32
	QueueDepth      atomic.Int64
	BytesDownloaded atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Metrics{logger: logger.With("component", "metrics")}
}

// Observe updates the response-class counters from an HTTP status code.
func (m *Metrics) Observe(statusCode int) {
	m.ResponsesReceived.Add(1)
	switch {
	case statusCode >= 200 && statusCode < 300:
		m.Responses2xx.Add(1)
	case statusCode >= 300 && statusCode < 400:
		m.Responses3xx.Add(1)
	case statusCode >= 400 && statusCode < 500:
		m.Responses4xx.Add(1)
	case statusCode >= 500:
		m.Responses5xx.Add(1)
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	metrics := []struct {
		name  string
		help  string
		value int64
	}{
		{"qcrawl_requests_scheduled_total", "Total requests scheduled", m.RequestsScheduled.Load()},
		{"qcrawl_requests_dropped_total", "Total requests dropped", m.RequestsDropped.Load()},
		{"qcrawl_responses_received_total", "Total responses received", m.ResponsesReceived.Load()},
		{"qcrawl_responses_2xx_total", "Total 2xx responses", m.Responses2xx.Load()},
		{"qcrawl_responses_3xx_total", "Total 3xx responses", m.Responses3xx.Load()},
		{"qcrawl_responses_4xx_total", "Total 4xx responses", m.Responses4xx.Load()},
		{"qcrawl_responses_5xx_total", "Total 5xx responses", m.Responses5xx.Load()},
		{"qcrawl_items_scraped_total", "Total items scraped", m.ItemsScraped.Load()},
		{"qcrawl_active_workers", "Currently active workers", int64(m.ActiveWorkers.Load())},
		{"qcrawl_queue_depth", "Current request queue depth", m.QueueDepth.Load()},
		{"qcrawl_bytes_downloaded_total", "Total bytes downloaded", m.BytesDownloaded.Load()},
	}

	for _, metric := range metrics {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", metric.name)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// StartServer starts the metrics HTTP server in its own goroutine.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Snapshot returns all metrics as a map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"requests_scheduled": m.RequestsScheduled.Load(),
		"requests_dropped":   m.RequestsDropped.Load(),
		"responses_received": m.ResponsesReceived.Load(),
		"responses_2xx":      m.Responses2xx.Load(),
		"responses_3xx":      m.Responses3xx.Load(),
		"responses_4xx":      m.Responses4xx.Load(),
		"responses_5xx":      m.Responses5xx.Load(),
		"items_scraped":      m.ItemsScraped.Load(),
		"active_workers":     int64(m.ActiveWorkers.Load()),
		"queue_depth":        m.QueueDepth.Load(),
		"bytes_downloaded":   m.BytesDownloaded.Load(),
	}
}
