package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/qcrawl/qcrawl/internal/types"
)

// MemoryQueue is an in-process priority heap: entries are
// (priority, monotonic counter, request), the counter breaking ties FIFO
// (spec.md §4.2). Grounded on internal/engine/frontier.go's Frontier, which
// has the same heap/cond shape but neither a tie-break counter nor a
// maxsize bound — both added here per spec.
type MemoryQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pq      priorityQueue
	maxSize int
	counter uint64
	closed  bool
}

// NewMemoryQueue constructs a MemoryQueue. maxSize of 0 means unbounded;
// maxSize < 0 is a configuration error (spec.md §4.2).
func NewMemoryQueue(maxSize int) (*MemoryQueue, error) {
	if maxSize < 0 {
		return nil, types.ErrInvalidConfig
	}
	q := &MemoryQueue{
		pq:      make(priorityQueue, 0, 256),
		maxSize: maxSize,
	}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.pq)
	return q, nil
}

// Put implements Queue.
func (q *MemoryQueue) Put(ctx context.Context, req *types.Request, priority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	if q.maxSize > 0 && len(q.pq) >= q.maxSize {
		return types.ErrQueueFull
	}
	q.counter++
	heap.Push(&q.pq, &pqItem{request: req, priority: priority, seq: q.counter})
	q.cond.Signal()
	return nil
}

// Get implements Queue.
func (q *MemoryQueue) Get(ctx context.Context) (*types.Request, error) {
	for {
		q.mu.Lock()
		if len(q.pq) > 0 {
			item := heap.Pop(&q.pq).(*pqItem)
			q.mu.Unlock()
			return item.request, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, types.ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// Size implements Queue.
func (q *MemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pq)
}

// MaxSize implements Queue.
func (q *MemoryQueue) MaxSize() int { return q.maxSize }

// Clear implements Queue.
func (q *MemoryQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pq = q.pq[:0]
}

// Close implements Queue; idempotent.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Closed implements Queue.
func (q *MemoryQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Stream implements Queue.
func (q *MemoryQueue) Stream(ctx context.Context) <-chan *types.Request {
	out := make(chan *types.Request)
	go func() {
		defer close(out)
		for {
			req, err := q.Get(ctx)
			if err != nil {
				return
			}
			select {
			case out <- req:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

type pqItem struct {
	request  *types.Request
	priority int
	seq      uint64
	index    int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}
