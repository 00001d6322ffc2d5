package signal

import (
	"context"
	"testing"
	"time"
)

func TestBus_SendDeliversToSubscribers(t *testing.T) {
	b := New()
	got := make(chan Payload, 1)
	b.Connect(SpiderOpened, nil, func(ctx context.Context, p Payload) { got <- p })

	b.Send(context.Background(), SpiderOpened, nil, Payload{"spider": "demo"})

	select {
	case p := <-got:
		if p["spider"] != "demo" {
			t.Fatalf("payload = %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestBus_SenderFilterIsolatesDispatch(t *testing.T) {
	b := New()
	type sender struct{ name string }
	alice := &sender{"alice"}
	bob := &sender{"bob"}

	var aliceCount, unfilteredCount int
	b.Connect(RequestScheduled, alice, func(ctx context.Context, p Payload) { aliceCount++ })
	b.Connect(RequestScheduled, nil, func(ctx context.Context, p Payload) { unfilteredCount++ })

	b.Send(context.Background(), RequestScheduled, bob, Payload{})
	if aliceCount != 0 {
		t.Fatalf("alice-scoped handler fired for bob's signal: %d", aliceCount)
	}
	if unfilteredCount != 1 {
		t.Fatalf("unfiltered handler should always fire, got %d", unfilteredCount)
	}

	b.Send(context.Background(), RequestScheduled, alice, Payload{})
	if aliceCount != 1 {
		t.Fatalf("alice-scoped handler should fire for alice's signal, got %d", aliceCount)
	}
}

func TestBus_SendPreservesRegistrationOrder(t *testing.T) {
	b := New()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		b.Connect(ItemScraped, nil, func(ctx context.Context, p Payload) { order = append(order, i) })
	}
	b.Send(context.Background(), ItemScraped, nil, Payload{})
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want sequential 0..4", order)
		}
	}
}

func TestBus_DisconnectStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	sub := b.Connect(SpiderIdle, nil, func(ctx context.Context, p Payload) { calls++ })

	b.Send(context.Background(), SpiderIdle, nil, Payload{})
	b.Disconnect(sub)
	b.Send(context.Background(), SpiderIdle, nil, Payload{})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestBus_ScopeCloseDisconnectsAll(t *testing.T) {
	b := New()
	calls := 0
	scope := b.NewScope()
	scope.Connect(ItemDropped, nil, func(ctx context.Context, p Payload) { calls++ })
	scope.Connect(ItemError, nil, func(ctx context.Context, p Payload) { calls++ })

	scope.Close()

	b.Send(context.Background(), ItemDropped, nil, Payload{})
	b.Send(context.Background(), ItemError, nil, Payload{})

	if calls != 0 {
		t.Fatalf("calls = %d after scope close, want 0", calls)
	}
}

func TestBus_SendConcurrentWaitsForAllHandlers(t *testing.T) {
	b := New()
	const n = 8
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		b.Connect(BytesReceived, nil, func(ctx context.Context, p Payload) {
			time.Sleep(5 * time.Millisecond)
			done <- struct{}{}
		})
	}
	b.SendConcurrent(context.Background(), BytesReceived, nil, Payload{}, 4)
	if len(done) != n {
		t.Fatalf("completed handlers = %d, want %d", len(done), n)
	}
}
