package middleware

import (
	"fmt"
	"sync"

	"github.com/qcrawl/qcrawl/internal/types"
)

// DownloaderFactory builds a DownloaderMiddleware from its settings.
type DownloaderFactory func(settings map[string]any) (DownloaderMiddleware, error)

// SpiderFactory builds a SpiderMiddleware from its settings.
type SpiderFactory func(settings map[string]any) (SpiderMiddleware, error)

// Config names one configured middleware and its chain priority — an
// ordered slice, not a map, because Go map iteration order is
// non-deterministic and spec.md's "ties break by insertion order" rule
// needs a real order to break ties against (a TOML array-of-tables
// preserves file order; a TOML table/map would not).
type Config struct {
	Name     string
	Priority int
}

// Registry resolves configured middleware names to factories and builds
// chain managers. This is the explicit string-tag registry spec.md's
// design notes call for in place of dynamic dotted-path class loading
// (grounded on internal/plugin/registry.go's name-keyed Plugin registry,
// narrowed to the two middleware kinds this framework actually has).
type Registry struct {
	mu                  sync.RWMutex
	downloaderFactories map[string]DownloaderFactory
	spiderFactories     map[string]SpiderFactory
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		downloaderFactories: make(map[string]DownloaderFactory),
		spiderFactories:     make(map[string]SpiderFactory),
	}
}

// RegisterDownloader registers a named downloader-middleware factory.
func (r *Registry) RegisterDownloader(name string, factory DownloaderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloaderFactories[name] = factory
}

// RegisterSpider registers a named spider-middleware factory.
func (r *Registry) RegisterSpider(name string, factory SpiderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spiderFactories[name] = factory
}

// ResolveDownloader builds the single named downloader middleware, or
// returns an error if no such factory is registered — the per-middleware
// primitive Crawler uses to implement spec.md §4.7 step 3d's "try
// downloader-registration; on failure, try spider-registration" fallback,
// which BuildDownloaderChain's all-or-nothing chain build cannot express.
func (r *Registry) ResolveDownloader(name string, settings map[string]any) (DownloaderMiddleware, error) {
	r.mu.RLock()
	factory, ok := r.downloaderFactories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &types.RegistrationError{Name: name, Err: fmt.Errorf("no downloader middleware factory registered")}
	}
	mw, err := factory(settings)
	if err != nil {
		return nil, &types.RegistrationError{Name: name, Err: err}
	}
	if mw == nil {
		return nil, &types.RegistrationError{Name: name, Err: fmt.Errorf("factory returned a nil middleware")}
	}
	return mw, nil
}

// ResolveSpider is ResolveDownloader's spider-middleware counterpart.
func (r *Registry) ResolveSpider(name string, settings map[string]any) (SpiderMiddleware, error) {
	r.mu.RLock()
	factory, ok := r.spiderFactories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &types.RegistrationError{Name: name, Err: fmt.Errorf("no spider middleware factory registered")}
	}
	mw, err := factory(settings)
	if err != nil {
		return nil, &types.RegistrationError{Name: name, Err: err}
	}
	if mw == nil {
		return nil, &types.RegistrationError{Name: name, Err: fmt.Errorf("factory returned a nil middleware")}
	}
	return mw, nil
}

// BuildDownloaderChain resolves each configured name to its factory,
// constructs it with settings, and validates the result before adding it to
// the returned manager. A name with no registered factory fails
// registration with a typed error (spec.md §4.5.3).
func (r *Registry) BuildDownloaderChain(configs []Config, settings map[string]any) (*DownloaderManager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := NewDownloaderManager()
	for _, c := range configs {
		factory, ok := r.downloaderFactories[c.Name]
		if !ok {
			return nil, &types.RegistrationError{Name: c.Name, Err: fmt.Errorf("no downloader middleware factory registered")}
		}
		mw, err := factory(settings)
		if err != nil {
			return nil, &types.RegistrationError{Name: c.Name, Err: err}
		}
		if mw == nil {
			return nil, &types.RegistrationError{Name: c.Name, Err: fmt.Errorf("factory returned a nil middleware")}
		}
		m.Add(mw, c.Priority)
	}
	return m, nil
}

// BuildSpiderChain is BuildDownloaderChain's spider-middleware counterpart.
func (r *Registry) BuildSpiderChain(configs []Config, settings map[string]any) (*SpiderManager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := NewSpiderManager()
	for _, c := range configs {
		factory, ok := r.spiderFactories[c.Name]
		if !ok {
			return nil, &types.RegistrationError{Name: c.Name, Err: fmt.Errorf("no spider middleware factory registered")}
		}
		mw, err := factory(settings)
		if err != nil {
			return nil, &types.RegistrationError{Name: c.Name, Err: err}
		}
		if mw == nil {
			return nil, &types.RegistrationError{Name: c.Name, Err: fmt.Errorf("factory returned a nil middleware")}
		}
		m.Add(mw, c.Priority)
	}
	return m, nil
}
