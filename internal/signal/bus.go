// Package signal implements the sender-scoped pub/sub bus (spec.md §2.1,
// §9): typed lifecycle/telemetry events, priority-ordered sequential
// dispatch by default, an optional bounded-concurrent dispatch mode, and
// deterministic unsubscription.
//
// The source bus holds subscribers via weak references so a subscriber that
// forgets to unsubscribe is still collected; Go has no weak references and
// no finalizer discipline worth relying on, so this bus drops that
// mechanism entirely in favor of an explicit Scope that unsubscribes
// everything registered through it when closed (spec.md §9 design notes
// explicitly sanction this substitution for a target language with
// deterministic destruction).
package signal

import (
	"context"
	"sort"
	"sync"
)

// Handler receives a dispatched signal.
type Handler func(ctx context.Context, payload Payload)

type subscription struct {
	id      uint64
	name    Name
	sender  any // nil means "no sender filter"
	order   int
	handler Handler
}

// Bus is a typed, sender-scoped publish/subscribe dispatcher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Name][]*subscription
	nextID  uint64
	nextOrd int
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Name][]*subscription)}
}

// Subscription is an opaque handle returned by Connect, used to Disconnect.
type Subscription struct {
	name Name
	id   uint64
}

// Connect registers handler for name. If sender is non-nil, handler only
// receives signals emitted with that exact sender (identity comparison via
// ==, spec.md §9's Go-native substitute for inventing integer sender ids).
func (b *Bus) Connect(name Name, sender any, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.nextOrd++
	sub := &subscription{id: b.nextID, name: name, sender: sender, order: b.nextOrd, handler: handler}
	b.subs[name] = append(b.subs[name], sub)
	return Subscription{name: name, id: sub.id}
}

// Disconnect removes a previously-registered subscription. Safe to call
// more than once.
func (b *Bus) Disconnect(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.name]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.name] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Send dispatches a signal sequentially, in registration order, to every
// handler subscribed to name whose sender filter matches (spec.md property
// 7, "Dispatcher isolation"). Sequential dispatch preserves the emitter's
// priority ordering.
func (b *Bus) Send(ctx context.Context, name Name, sender any, payload Payload) {
	for _, sub := range b.matching(name, sender) {
		sub.handler(ctx, payload)
	}
}

// SendConcurrent dispatches a signal to all matching handlers concurrently,
// optionally bounded by maxConcurrency (0 = unbounded). It waits for every
// handler to return before returning itself.
func (b *Bus) SendConcurrent(ctx context.Context, name Name, sender any, payload Payload, maxConcurrency int) {
	matched := b.matching(name, sender)
	if len(matched) == 0 {
		return
	}

	var sem chan struct{}
	if maxConcurrency > 0 {
		sem = make(chan struct{}, maxConcurrency)
	}

	var wg sync.WaitGroup
	for _, sub := range matched {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			h(ctx, payload)
		}(sub.handler)
	}
	wg.Wait()
}

// matching returns the subscriptions for name matching sender, ordered by
// registration order (a defensive re-sort: append/delete on the slice
// already preserves order, but this keeps the guarantee explicit).
func (b *Bus) matching(name Name, sender any) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*subscription
	for _, sub := range b.subs[name] {
		if sub.sender == nil || sub.sender == sender {
			out = append(out, sub)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// Scope batches subscriptions so they can be torn down together —
// replacing the source's weak-reference cleanup with an explicit,
// deterministic unsubscribe contract (spec.md §9).
type Scope struct {
	bus  *Bus
	subs []Subscription
}

// NewScope creates a Scope bound to this Bus.
func (b *Bus) NewScope() *Scope {
	return &Scope{bus: b}
}

// Connect registers handler through the Scope, recording it for Close.
func (s *Scope) Connect(name Name, sender any, handler Handler) {
	s.subs = append(s.subs, s.bus.Connect(name, sender, handler))
}

// Close disconnects every subscription registered through this Scope.
// Idempotent.
func (s *Scope) Close() {
	for _, sub := range s.subs {
		s.bus.Disconnect(sub)
	}
	s.subs = nil
}
