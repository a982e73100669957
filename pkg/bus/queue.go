package bus

import (
	"container/heap"
	"sync"
	"time"
)

// QueueConfig configures a message queue.
type QueueConfig struct {
	MaxSize        int
	EnablePriority bool
	// DropOnFull evicts the oldest message instead of rejecting when
	// the queue is full. Only meaningful for FIFO queues; a priority
	// queue has no well-defined oldest entry and keeps rejecting.
	DropOnFull bool
}

// DefaultQueueSize is used when MaxSize is zero or negative.
const DefaultQueueSize = 10000

// Queue is a bounded, thread-safe message queue. FIFO by default;
// priority-ordered when configured. Dequeue blocks with a timeout; Stop
// wakes every waiter.
type Queue struct {
	cfg QueueConfig

	mu   sync.Mutex
	cond *sync.Cond

	fifo    []*Message
	ordered priorityHeap
	stopped bool
	seq     uint64
}

// NewQueue creates a queue from the config, applying defaults.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultQueueSize
	}
	q := &Queue{cfg: cfg}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a message. Returns ErrQueueStopped after Stop and
// ErrQueueFull when the bound is hit (unless DropOnFull evicts the
// oldest).
func (q *Queue) Enqueue(msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrQueueStopped
	}
	if q.sizeLocked() >= q.cfg.MaxSize {
		if !q.cfg.DropOnFull || q.cfg.EnablePriority {
			return ErrQueueFull
		}
		q.fifo = q.fifo[1:]
	}

	if q.cfg.EnablePriority {
		q.seq++
		heap.Push(&q.ordered, &queuedMessage{msg: msg, seq: q.seq})
	} else {
		q.fifo = append(q.fifo, msg)
	}
	q.cond.Signal()
	return nil
}

// Dequeue blocks until a message arrives, the queue stops
// (ErrQueueStopped), or the timeout expires (ErrQueueEmpty).
func (q *Queue) Dequeue(timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.sizeLocked() == 0 {
		if q.stopped {
			return nil, ErrQueueStopped
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrQueueEmpty
		}
		// sync.Cond has no timed wait; arm a one-shot broadcast at the
		// deadline so the loop re-checks and returns.
		timer := time.AfterFunc(remaining, q.cond.Broadcast)
		q.cond.Wait()
		timer.Stop()
	}

	return q.popLocked(), nil
}

// TryDequeue returns immediately: a message, ErrQueueStopped on a stopped
// empty queue, or ErrQueueEmpty.
func (q *Queue) TryDequeue() (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.sizeLocked() == 0 {
		if q.stopped {
			return nil, ErrQueueStopped
		}
		return nil, ErrQueueEmpty
	}
	return q.popLocked(), nil
}

// Stop marks the queue stopped and wakes all waiters. Remaining messages
// stay drainable through TryDequeue.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// IsStopped reports whether Stop has been called.
func (q *Queue) IsStopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// Size returns the number of queued messages.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sizeLocked()
}

// Clear drops all queued messages.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.fifo = nil
	q.ordered = nil
}

func (q *Queue) sizeLocked() int {
	if q.cfg.EnablePriority {
		return len(q.ordered)
	}
	return len(q.fifo)
}

func (q *Queue) popLocked() *Message {
	if q.cfg.EnablePriority {
		return heap.Pop(&q.ordered).(*queuedMessage).msg
	}
	msg := q.fifo[0]
	q.fifo = q.fifo[1:]
	return msg
}

type queuedMessage struct {
	msg *Message
	seq uint64
}

// priorityHeap orders by priority descending, insertion order ascending
// within one priority.
type priorityHeap []*queuedMessage

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) { *h = append(*h, x.(*queuedMessage)) }

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
