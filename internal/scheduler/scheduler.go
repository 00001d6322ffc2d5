// Package scheduler implements the crawl scheduler (spec.md §4.3): it wraps
// a request queue and adds fingerprint-based deduplication, direct handoff
// to waiting consumers, and pending-work accounting so a crawl can tell
// when it has genuinely drained rather than merely emptied its queue.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/qcrawl/qcrawl/internal/fingerprint"
	"github.com/qcrawl/qcrawl/internal/queue"
	"github.com/qcrawl/qcrawl/internal/signal"
	"github.com/qcrawl/qcrawl/internal/types"
)

// Scheduler wraps a queue.Queue with dedup/handoff/pending-accounting.
// Grounded on internal/engine/frontier.go + internal/engine/dedup.go
// (teacher) for the concurrency shape, generalized to the direct-handoff
// and pending/finished semantics spec.md §4.3 actually specifies — neither
// of which the teacher's Frontier implements (it has no waiter list and no
// pending counter at all).
type Scheduler struct {
	mu     sync.Mutex
	q      queue.Queue
	fp     *fingerprint.Fingerprinter
	bus    *signal.Bus
	sender any

	seen       map[string]struct{}
	waiters    []chan *types.Request
	pending    int
	finishedCh chan struct{}
	closed     bool

	logger *slog.Logger
}

// New constructs a Scheduler over q, using fp to compute dedup keys and bus
// to emit request_scheduled signals scoped to sender.
func New(q queue.Queue, fp *fingerprint.Fingerprinter, bus *signal.Bus, sender any, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		q:          q,
		fp:         fp,
		bus:        bus,
		sender:     sender,
		seen:       make(map[string]struct{}),
		finishedCh: make(chan struct{}),
		logger:     logger,
	}
	close(s.finishedCh) // pending == 0 at construction: finished starts set
	return s
}

func (s *Scheduler) lock()   { s.mu.Lock() }
func (s *Scheduler) unlock() { s.mu.Unlock() }

// AddURL coerces a raw URL into a Request at priority 0, depth 0, then adds
// it (spec.md §4.3 add, step 2).
func (s *Scheduler) AddURL(ctx context.Context, rawURL string) error {
	req := types.NewRequest(rawURL)
	req.SetDepth(0)
	return s.Add(ctx, req)
}

// Add enqueues req, deduplicating on its fingerprint and preferring direct
// handoff to a suspended Get over enqueueing.
func (s *Scheduler) Add(ctx context.Context, req *types.Request) error {
	s.lock()
	if s.closed {
		s.unlock()
		s.logger.Debug("scheduler closed, dropping add", "url", req.URL())
		return nil
	}

	sum, err := s.fp.Fingerprint(req)
	if err != nil {
		s.unlock()
		return err
	}
	key := string(sum)
	if _, dup := s.seen[key]; dup {
		s.unlock()
		return nil
	}

	s.seen[key] = struct{}{}
	if s.pending == 0 {
		s.finishedCh = make(chan struct{})
	}
	s.pending++

	var waiter chan *types.Request
	if len(s.waiters) > 0 {
		waiter = s.waiters[0]
		s.waiters = s.waiters[1:]
	}
	s.unlock()

	// request_scheduled fires once dedup passes, regardless of whether the
	// subsequent direct handoff or enqueue actually succeeds (spec.md §4.3
	// step 7; qcrawl/core/scheduler.py's add() sends it unconditionally
	// before attempting queue.put, so it fires even on a later QueueFull).
	// Emitted with the lock released, same as before, so a handler calling
	// back into the scheduler can't deadlock on it.
	s.bus.Send(ctx, signal.RequestScheduled, s.sender, signal.Payload{"request": req})

	if waiter != nil {
		waiter <- req
		return nil
	}

	if err := s.q.Put(ctx, req, req.Priority); err != nil {
		if errors.Is(err, types.ErrQueueFull) {
			s.lock()
			s.pending--
			if s.pending == 0 {
				close(s.finishedCh)
			}
			delete(s.seen, key)
			s.unlock()
			s.logger.Warn("queue full, dropping request", "url", req.URL())
		}
		return err
	}

	return nil
}

// Get returns the next request, preferring an already-queued one and
// otherwise suspending as a waiter for direct handoff from Add.
func (s *Scheduler) Get(ctx context.Context) (*types.Request, error) {
	s.lock()
	if s.closed && s.q.Size() == 0 {
		s.unlock()
		return nil, types.ErrSchedulerClosed
	}
	if s.q.Size() > 0 {
		s.unlock()
		return s.q.Get(ctx)
	}

	waiter := make(chan *types.Request, 1)
	s.waiters = append(s.waiters, waiter)
	s.unlock()

	select {
	case req, ok := <-waiter:
		if !ok || req == nil {
			return nil, types.ErrSchedulerClosed
		}
		return req, nil
	case <-ctx.Done():
		s.removeWaiter(waiter)
		return nil, ctx.Err()
	}
}

func (s *Scheduler) removeWaiter(target chan *types.Request) {
	s.lock()
	defer s.unlock()
	for i, w := range s.waiters {
		if w == target {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// TaskDone marks one previously-Get request as fully processed. Calling it
// more times than Get returned a request is a programmer error.
func (s *Scheduler) TaskDone() error {
	s.lock()
	defer s.unlock()
	if s.pending <= 0 {
		return types.ErrTaskDoneOverflow
	}
	s.pending--
	if s.pending == 0 {
		close(s.finishedCh)
	}
	return nil
}

// Join blocks until pending reaches zero, or ctx is done.
func (s *Scheduler) Join(ctx context.Context) error {
	s.lock()
	ch := s.finishedCh
	s.unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports the current in-flight request count.
func (s *Scheduler) Pending() int {
	s.lock()
	defer s.unlock()
	return s.pending
}

// Closed reports whether Close has been called.
func (s *Scheduler) Closed() bool {
	s.lock()
	defer s.unlock()
	return s.closed
}

// Close is idempotent: it cancels every suspended waiter and closes the
// backing queue.
func (s *Scheduler) Close() {
	s.lock()
	if s.closed {
		s.unlock()
		return
	}
	s.closed = true
	waiters := s.waiters
	s.waiters = nil
	s.unlock()

	for _, w := range waiters {
		close(w)
	}
	s.q.Close()
}
