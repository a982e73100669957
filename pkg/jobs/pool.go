package jobs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/burrow/pkg/log"
)

// ErrPoolLocked reports a push against a pool that is draining.
var ErrPoolLocked = errors.New("pool locked")

// Pool is a multi-priority job queue with wakeup notifications. One mutex
// covers the bucket map and the listener registry; notification callbacks
// run outside the lock.
type Pool struct {
	mu            sync.Mutex
	buckets       map[Priority][]*Job
	notifications map[string]func(Priority)
	locked        bool

	// When set, pushed payload-carrying jobs are spilled to this
	// directory to bound resident memory.
	spillDir string
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		buckets:       make(map[Priority][]*Job),
		notifications: make(map[string]func(Priority)),
	}
}

// SetSpillDir enables spill-to-disk for pushed jobs carrying payloads.
func (p *Pool) SetSpillDir(dir string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spillDir = dir
}

// Push appends a job to its priority bucket and wakes listeners. Fails
// with ErrPoolLocked while the pool is draining.
func (p *Pool) Push(job *Job) error {
	p.mu.Lock()
	if p.locked {
		p.mu.Unlock()
		return ErrPoolLocked
	}
	job.pool = p
	if p.spillDir != "" {
		if err := job.Spill(p.spillDir); err != nil {
			log.Logger.Warn().Err(err).Msg("job spill failed, keeping payload in memory")
		}
	}
	p.buckets[job.priority] = append(p.buckets[job.priority], job)
	listeners := p.listeners()
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(job.priority)
	}
	return nil
}

// Pop removes and returns the head of the primary bucket, else the head of
// the first non-empty bucket in others, else nil. When the pop empties the
// pool entirely, listeners receive a PriorityNone notification.
func (p *Pool) Pop(priority Priority, others []Priority) *Job {
	p.mu.Lock()
	job := p.popLocked(priority)
	if job == nil {
		for _, other := range others {
			if job = p.popLocked(other); job != nil {
				break
			}
		}
	}
	var listeners []func(Priority)
	if job != nil && p.totalLocked() == 0 {
		listeners = p.listeners()
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(PriorityNone)
	}
	return job
}

// Contain reports whether the primary bucket or any secondary bucket holds
// a job.
func (p *Pool) Contain(priority Priority, others []Priority) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buckets[priority]) > 0 {
		return true
	}
	for _, other := range others {
		if len(p.buckets[other]) > 0 {
			return true
		}
	}
	return false
}

// Total returns the number of queued jobs across all buckets.
func (p *Pool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalLocked()
}

// AppendNotification registers a wakeup listener under a unique id.
func (p *Pool) AppendNotification(id string, fn func(Priority)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.notifications[id]; exists {
		return fmt.Errorf("invalid argument: notification id %q already registered", id)
	}
	p.notifications[id] = fn
	return nil
}

// RemoveNotification unregisters a wakeup listener.
func (p *Pool) RemoveNotification(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.notifications, id)
}

// Lock puts the pool in draining state; subsequent pushes fail with
// ErrPoolLocked.
func (p *Pool) Lock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = true
}

// Unlock re-opens the pool for pushes.
func (p *Pool) Unlock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = false
}

// Clear discards all queued jobs.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buckets = make(map[Priority][]*Job)
}

func (p *Pool) popLocked(priority Priority) *Job {
	bucket := p.buckets[priority]
	if len(bucket) == 0 {
		return nil
	}
	job := bucket[0]
	p.buckets[priority] = bucket[1:]
	return job
}

func (p *Pool) totalLocked() int {
	total := 0
	for _, bucket := range p.buckets {
		total += len(bucket)
	}
	return total
}

func (p *Pool) listeners() []func(Priority) {
	out := make([]func(Priority), 0, len(p.notifications))
	for _, fn := range p.notifications {
		out = append(out, fn)
	}
	return out
}
