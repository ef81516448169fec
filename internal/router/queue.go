package router

import (
	"sync"

	"github.com/gammazero/deque"
)

// FrameQueue is a FIFO that decouples the socket reader from frame dispatch.
// Depth is capped at maxDepth: a push into a full queue evicts the oldest
// item. Evicted status frames are recovered by the next pull.
type FrameQueue[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    deque.Deque[T]
	maxDepth int
	closed   bool

	// onHighWater is called, without the lock held, each time depth reaches
	// the next warning threshold. Thresholds double from warnDepth.
	onHighWater func(depth int)
	nextWarn    int

	// Stats
	pushed    int64
	popped    int64
	dropped   int64
	grows     int
	highWater int
}

// NewFrameQueue creates a queue. warnDepth is the first depth reported to
// onHighWater; maxDepth <= 0 leaves the queue unbounded.
func NewFrameQueue[T any](warnDepth, maxDepth int, onHighWater func(depth int)) *FrameQueue[T] {
	if warnDepth < 1 {
		warnDepth = 1
	}
	q := &FrameQueue[T]{
		maxDepth:    maxDepth,
		onHighWater: onHighWater,
		nextWarn:    warnDepth,
	}
	q.items.SetBaseCap(warnDepth)
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item. Returns false if the queue is closed.
func (q *FrameQueue[T]) Push(item T) bool {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.maxDepth > 0 && q.items.Len() >= q.maxDepth {
		q.items.PopFront()
		q.dropped++
	}

	capBefore := q.items.Cap()
	q.items.PushBack(item)
	if capBefore > 0 && q.items.Cap() > capBefore {
		q.grows++
	}
	q.pushed++

	depth := q.items.Len()
	if depth > q.highWater {
		q.highWater = depth
	}
	warn := depth >= q.nextWarn
	if warn {
		q.nextWarn *= 2
	}

	q.cond.Signal()
	q.mu.Unlock()

	if warn && q.onHighWater != nil {
		q.onHighWater(depth)
	}
	return true
}

// Pop removes the oldest item, blocking until one is available.
// Returns false once the queue is closed; items left at close are discarded.
func (q *FrameQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 && !q.closed {
		q.cond.Wait()
	}

	var zero T
	if q.closed {
		return zero, false
	}

	item := q.items.PopFront()
	q.popped++
	return item, true
}

// Close wakes all waiters and releases queued items. Later Push calls
// return false.
func (q *FrameQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items.Clear()
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *FrameQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Depth     int   `json:"depth"`
	Capacity  int   `json:"capacity"`
	MaxDepth  int   `json:"max_depth"`
	Pushed    int64 `json:"pushed"`
	Popped    int64 `json:"popped"`
	Dropped   int64 `json:"dropped"`
	Grows     int   `json:"grows"`
	HighWater int   `json:"high_water"`
}

// Stats returns queue statistics.
func (q *FrameQueue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Depth:     q.items.Len(),
		Capacity:  q.items.Cap(),
		MaxDepth:  q.maxDepth,
		Pushed:    q.pushed,
		Popped:    q.popped,
		Dropped:   q.dropped,
		Grows:     q.grows,
		HighWater: q.highWater,
	}
}
