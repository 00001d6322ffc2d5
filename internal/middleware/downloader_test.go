package middleware

import (
	"context"
	"testing"

	"github.com/qcrawl/qcrawl/internal/types"
)

type recordingMiddleware struct {
	name         string
	requestFn    func(req *types.Request) (Result, error)
	responseFn   func(resp *types.Response) (Result, error)
	exceptionFn  func(cause error) (Result, error)
	calledOrder  *[]string
}

func (m *recordingMiddleware) Name() string { return m.name }

func (m *recordingMiddleware) ProcessRequest(ctx context.Context, req *types.Request, spider types.Spider) (Result, error) {
	if m.calledOrder != nil {
		*m.calledOrder = append(*m.calledOrder, m.name)
	}
	if m.requestFn != nil {
		return m.requestFn(req)
	}
	return Continue(), nil
}

func (m *recordingMiddleware) ProcessResponse(ctx context.Context, req *types.Request, resp *types.Response, spider types.Spider) (Result, error) {
	if m.calledOrder != nil {
		*m.calledOrder = append(*m.calledOrder, m.name)
	}
	if m.responseFn != nil {
		return m.responseFn(resp)
	}
	return Continue(), nil
}

func (m *recordingMiddleware) ProcessException(ctx context.Context, req *types.Request, cause error, spider types.Spider) (Result, error) {
	if m.exceptionFn != nil {
		return m.exceptionFn(cause)
	}
	return Continue(), nil
}

func TestDownloaderManager_RequestChainRunsForwardInOrder(t *testing.T) {
	var order []string
	m := NewDownloaderManager()
	m.Add(&recordingMiddleware{name: "a", calledOrder: &order}, 10)
	m.Add(&recordingMiddleware{name: "b", calledOrder: &order}, 5)
	m.Add(&recordingMiddleware{name: "c", calledOrder: &order}, 20)

	req := types.NewRequest("https://example.com/")
	res, idx, err := m.RunRequestChain(context.Background(), req, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action() != ActionContinue || idx != 3 {
		t.Fatalf("res=%+v idx=%d", res, idx)
	}
	if want := []string{"b", "a", "c"}; !equalStrings(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestDownloaderManager_RequestChainShortCircuitsOnDrop(t *testing.T) {
	var order []string
	m := NewDownloaderManager()
	m.Add(&recordingMiddleware{name: "a", calledOrder: &order}, 0)
	m.Add(&recordingMiddleware{name: "b", calledOrder: &order, requestFn: func(req *types.Request) (Result, error) {
		return Drop(), nil
	}}, 1)
	m.Add(&recordingMiddleware{name: "c", calledOrder: &order}, 2)

	req := types.NewRequest("https://example.com/")
	res, idx, err := m.RunRequestChain(context.Background(), req, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action() != ActionDrop || idx != 1 {
		t.Fatalf("res=%+v idx=%d", res, idx)
	}
	if want := []string{"a", "b"}; !equalStrings(order, want) {
		t.Fatalf("order = %v, want %v (c should not run)", order, want)
	}
}

func TestDownloaderManager_ResponseChainRunsReverse(t *testing.T) {
	var order []string
	m := NewDownloaderManager()
	m.Add(&recordingMiddleware{name: "a", calledOrder: &order}, 0)
	m.Add(&recordingMiddleware{name: "b", calledOrder: &order}, 1)
	m.Add(&recordingMiddleware{name: "c", calledOrder: &order}, 2)

	req := types.NewRequest("https://example.com/")
	resp := &types.Response{StatusCode: 200, Request: req}
	final, res, err := m.RunResponseChain(context.Background(), req, resp, nil, 3)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action() != ActionContinue || final != resp {
		t.Fatalf("res=%+v final=%+v", res, final)
	}
	if want := []string{"c", "b", "a"}; !equalStrings(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestDownloaderManager_ExceptionChainDropsWhenExhausted(t *testing.T) {
	m := NewDownloaderManager()
	m.Add(&recordingMiddleware{name: "a"}, 0)

	req := types.NewRequest("https://example.com/")
	res, err := m.RunExceptionChain(context.Background(), req, assertErr, nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Action() != ActionDrop {
		t.Fatalf("res = %+v, want Drop", res)
	}
}

func TestDownloaderManager_BadMiddlewareReturnFails(t *testing.T) {
	m := NewDownloaderManager()
	m.Add(&recordingMiddleware{name: "a", requestFn: func(req *types.Request) (Result, error) {
		return Result{}, nil // zero-value, invalid
	}}, 0)

	req := types.NewRequest("https://example.com/")
	_, _, err := m.RunRequestChain(context.Background(), req, nil)
	if err != types.ErrBadMiddlewareReturn {
		t.Fatalf("want ErrBadMiddlewareReturn, got %v", err)
	}
}

var assertErr = &types.FetchError{URL: "https://example.com/", Err: errTest, Retryable: true}

type testError struct{}

func (testError) Error() string { return "boom" }

var errTest error = testError{}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
