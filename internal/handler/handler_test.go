package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/qcrawl/qcrawl/internal/types"
)

type stubHandler struct {
	name   string
	closed bool
}

func (s *stubHandler) Fetch(ctx context.Context, req *types.Request, spider types.Spider, extraHeaders http.Header, timeout time.Duration) (*types.Response, error) {
	return &types.Response{Request: req, StatusCode: 200, Headers: http.Header{"X-Handler": []string{s.name}}}, nil
}

func (s *stubHandler) Close() error {
	s.closed = true
	return nil
}

func newStubFactory(name string) (Factory, *stubHandler) {
	h := &stubHandler{name: name}
	return func(settings map[string]any) (Handler, error) { return h, nil }, h
}

func TestRouter_RoutesByUseHandlerMeta(t *testing.T) {
	r := NewRouter(nil)
	httpFactory, httpH := newStubFactory("http")
	browserFactory, browserH := newStubFactory("browser")
	r.Register("http", httpFactory)
	r.Register("browser", browserFactory)
	r.Configure([]string{"http", "browser"}, nil)

	req := types.NewRequest("https://example.com/a")
	req.Meta["use_handler"] = "browser"

	h, err := r.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h != Handler(browserH) {
		t.Fatal("expected the browser handler to be routed to")
	}
	_ = httpH
}

func TestRouter_RoutesBySchemeFallback(t *testing.T) {
	r := NewRouter(nil)
	ftpFactory, ftpH := newStubFactory("ftp")
	r.Register("ftp", ftpFactory)
	r.Configure([]string{"ftp"}, nil)

	req := types.NewRequest("ftp://example.com/file")
	h, err := r.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h != Handler(ftpH) {
		t.Fatal("expected scheme-matched handler")
	}
}

func TestRouter_FallsBackToHTTP(t *testing.T) {
	r := NewRouter(nil)
	httpFactory, httpH := newStubFactory("http")
	r.Register("http", httpFactory)
	r.Configure([]string{"http"}, nil)

	req := types.NewRequest("customscheme://example.com/a")
	h, err := r.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h != Handler(httpH) {
		t.Fatal("expected http fallback")
	}
}

func TestRouter_FallsBackToFirstConfigured(t *testing.T) {
	r := NewRouter(nil)
	browserFactory, browserH := newStubFactory("browser")
	r.Register("browser", browserFactory)
	r.Configure([]string{"browser"}, nil)

	req := types.NewRequest("customscheme://example.com/a")
	h, err := r.Route(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h != Handler(browserH) {
		t.Fatal("expected first-configured fallback")
	}
}

func TestRouter_NoHandlerConfiguredFails(t *testing.T) {
	r := NewRouter(nil)
	req := types.NewRequest("https://example.com/a")
	_, err := r.Route(context.Background(), req)
	if !errors.Is(err, types.ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestRouter_UnregisteredFactoryFailsRegistration(t *testing.T) {
	r := NewRouter(nil)
	r.Configure([]string{"http"}, nil)
	req := types.NewRequest("https://example.com/a")
	_, err := r.Route(context.Background(), req)
	var regErr *types.RegistrationError
	if !errors.As(err, &regErr) {
		t.Fatalf("expected RegistrationError, got %v", err)
	}
}

func TestRouter_InstancesAreCachedAcrossCalls(t *testing.T) {
	r := NewRouter(nil)
	calls := 0
	r.Register("http", func(settings map[string]any) (Handler, error) {
		calls++
		return &stubHandler{name: "http"}, nil
	})
	r.Configure([]string{"http"}, nil)

	req := types.NewRequest("https://example.com/a")
	h1, _ := r.Route(context.Background(), req)
	h2, _ := r.Route(context.Background(), req)
	if h1 != h2 {
		t.Fatal("expected cached handler instance")
	}
	if calls != 1 {
		t.Fatalf("expected factory called once, got %d", calls)
	}
}

func TestRouter_CloseClosesAllMaterializedHandlers(t *testing.T) {
	r := NewRouter(nil)
	factory, stub := newStubFactory("http")
	r.Register("http", factory)
	r.Configure([]string{"http"}, nil)

	req := types.NewRequest("https://example.com/a")
	if _, err := r.Route(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.Close()
	if !stub.closed {
		t.Fatal("expected handler to be closed")
	}
}
