// Package handler implements the download-handler router (spec.md §4.4):
// a lazily-instantiated, name-keyed registry of protocol handlers, with
// routing by request meta, then URL scheme, then a configured fallback.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/qcrawl/qcrawl/internal/types"
)

// Handler fetches a single Request and returns its Response. Close
// releases whatever transport the handler owns (an HTTP client's idle
// connections, a browser's pages/contexts).
type Handler interface {
	Fetch(ctx context.Context, req *types.Request, spider types.Spider, extraHeaders http.Header, timeout time.Duration) (*types.Response, error)
	Close() error
}

// Factory builds a Handler from its settings, used for the router's lazy,
// on-first-use instantiation (spec.md §4.4).
type Factory func(settings map[string]any) (Handler, error)

// Router resolves a Request to a Handler: meta["use_handler"], else URL
// scheme, else a configured "http" fallback, else the first configured
// handler, else ErrNoHandler.
type Router struct {
	mu         sync.Mutex
	factories  map[string]Factory
	instances  map[string]Handler
	configured []string // preserves configuration order for the "first configured handler" fallback
	settings   map[string]any
	logger     *slog.Logger
}

// NewRouter builds an empty Router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		factories: make(map[string]Factory),
		instances: make(map[string]Handler),
		logger:    logger.With("component", "handler_router"),
	}
}

// Register associates name with factory, available for Configure to
// activate.
func (r *Router) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Configure activates the named handlers (in the given order — order
// matters for the "first configured handler" fallback) with settings,
// shared across every handler this Router lazily builds.
func (r *Router) Configure(names []string, settings map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configured = append([]string(nil), names...)
	r.settings = settings
}

// Route resolves req to a Handler, lazily instantiating and caching it.
func (r *Router) Route(ctx context.Context, req *types.Request) (Handler, error) {
	if name, ok := req.Meta["use_handler"].(string); ok && name != "" {
		if r.isConfigured(name) {
			return r.resolve(name)
		}
		r.logger.Warn("use_handler names an unconfigured handler, falling through", "handler", name)
	}

	if scheme := schemeOf(req.URL()); scheme != "" && r.isConfigured(scheme) {
		return r.resolve(scheme)
	}

	if r.isConfigured("http") {
		return r.resolve("http")
	}

	r.mu.Lock()
	configured := r.configured
	r.mu.Unlock()
	if len(configured) > 0 {
		r.logger.Warn("no handler matched request; using first configured handler", "handler", configured[0])
		return r.resolve(configured[0])
	}

	return nil, types.ErrNoHandler
}

func (r *Router) isConfigured(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.configured {
		if c == name {
			return true
		}
	}
	return false
}

// resolve returns the cached Handler for name, building it via its
// registered factory on first use.
func (r *Router) resolve(name string) (Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.instances[name]; ok {
		return h, nil
	}

	factory, ok := r.factories[name]
	if !ok {
		return nil, &types.RegistrationError{Name: name, Err: fmt.Errorf("no handler factory registered")}
	}
	h, err := factory(r.settings)
	if err != nil {
		return nil, &types.RegistrationError{Name: name, Err: err}
	}
	if h == nil {
		return nil, &types.RegistrationError{Name: name, Err: fmt.Errorf("factory returned a nil handler")}
	}
	r.instances[name] = h
	return h, nil
}

// Close calls Close on every materialized handler, logging but not
// propagating errors. Idempotent: a Router with no materialized handlers
// closes cleanly.
func (r *Router) Close() {
	r.mu.Lock()
	instances := r.instances
	r.instances = make(map[string]Handler)
	r.mu.Unlock()

	for name, h := range instances {
		if err := h.Close(); err != nil {
			r.logger.Warn("handler close error", "handler", name, "error", err)
		}
	}
}

func schemeOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme
}
