// Package queue implements the request queue contract (spec.md §4.2):
// priority-ordered, FIFO within a priority, pluggable behind an interface so
// a distributed backend could satisfy the same contract later even though
// the only implementation shipped here is in-memory.
package queue

import (
	"context"

	"github.com/qcrawl/qcrawl/internal/types"
)

// Queue is the request-queue contract. Implementations must be safe for
// concurrent use by multiple producers and consumers.
type Queue interface {
	// Put enqueues req at priority (smaller = more urgent). Returns
	// types.ErrQueueFull if bounded and full, or nil (no-op) if the queue
	// is already closed.
	Put(ctx context.Context, req *types.Request, priority int) error

	// Get blocks for the next request in priority order (FIFO within a
	// priority). Returns types.ErrQueueClosed once the queue is closed and
	// drained.
	Get(ctx context.Context) (*types.Request, error)

	// Size reports the number of queued requests.
	Size() int

	// MaxSize reports the configured bound, 0 meaning unbounded.
	MaxSize() int

	// Clear discards all queued requests.
	Clear()

	// Close is idempotent; it unblocks any pending Get once the queue
	// drains.
	Close()

	// Closed reports whether Close has been called.
	Closed() bool

	// Stream is the async-iterator equivalent: a channel that yields
	// requests until the queue closes and drains, then closes itself.
	Stream(ctx context.Context) <-chan *types.Request
}
