package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/burrow/pkg/log"
)

// DefaultDrainTimeout bounds how long a draining stop waits for the pool
// to empty before stopping workers anyway.
const DefaultDrainTimeout = 30 * time.Second

// ThreadPool owns a set of workers sharing one job pool.
type ThreadPool struct {
	mu      sync.Mutex
	pool    *Pool
	workers []*Worker
	started bool
}

// NewThreadPool creates a thread pool around a fresh job pool.
func NewThreadPool() *ThreadPool {
	return &ThreadPool{pool: NewPool()}
}

// NewThreadPoolWithCounts creates a pool with one top-priority worker plus
// the requested high/normal/low workers, each stealing from the two
// other non-top buckets in order.
func NewThreadPoolWithCounts(high, normal, low int) *ThreadPool {
	tp := NewThreadPool()
	tp.Append(NewWorker(PriorityTop), false)
	for i := 0; i < high; i++ {
		tp.Append(NewWorker(PriorityHigh, PriorityNormal, PriorityLow), false)
	}
	for i := 0; i < normal; i++ {
		tp.Append(NewWorker(PriorityNormal, PriorityHigh, PriorityLow), false)
	}
	for i := 0; i < low; i++ {
		tp.Append(NewWorker(PriorityLow, PriorityHigh, PriorityNormal), false)
	}
	return tp
}

// Pool returns the shared job pool.
func (tp *ThreadPool) Pool() *Pool { return tp.pool }

// Append wires a worker to the pool and optionally starts it.
func (tp *ThreadPool) Append(worker *Worker, start bool) {
	worker.SetPool(tp.pool)
	tp.mu.Lock()
	tp.workers = append(tp.workers, worker)
	started := tp.started
	tp.mu.Unlock()

	if start || started {
		if err := worker.Start(); err != nil {
			log.Logger.Error().Err(err).Msg("failed to start appended worker")
		}
	}
}

// Start starts all workers.
func (tp *ThreadPool) Start() {
	tp.mu.Lock()
	tp.started = true
	workers := append([]*Worker(nil), tp.workers...)
	tp.mu.Unlock()

	for _, w := range workers {
		if err := w.Start(); err != nil {
			log.Logger.Error().Err(err).Msg("failed to start worker")
		}
	}
}

// Push submits a job to the shared pool.
func (tp *ThreadPool) Push(job *Job) error {
	return tp.pool.Push(job)
}

// Stop halts the fleet. With drainFirst the pool is locked against new
// pushes and the call blocks (up to DefaultDrainTimeout) until queued jobs
// have run; otherwise queued jobs are discarded.
func (tp *ThreadPool) Stop(drainFirst bool) {
	tp.mu.Lock()
	workers := append([]*Worker(nil), tp.workers...)
	tp.started = false
	tp.mu.Unlock()

	if drainFirst {
		tp.pool.Lock()
		tp.waitDrained(DefaultDrainTimeout)
	} else {
		tp.pool.Lock()
		tp.pool.Clear()
	}

	for _, w := range workers {
		w.Stop()
	}
	tp.pool.Unlock()
}

// waitDrained blocks until the pool's job count reaches zero, driven by
// the PriorityNone notification fired by Pop on the last job.
func (tp *ThreadPool) waitDrained(timeout time.Duration) {
	drained := make(chan struct{})
	var once sync.Once

	id := "drain-" + uuid.New().String()
	err := tp.pool.AppendNotification(id, func(p Priority) {
		if p == PriorityNone {
			once.Do(func() { close(drained) })
		}
	})
	if err != nil {
		return
	}
	defer tp.pool.RemoveNotification(id)

	if tp.pool.Total() == 0 {
		return
	}

	select {
	case <-drained:
	case <-time.After(timeout):
		log.Logger.Warn().Dur("timeout", timeout).Msg("drain timed out with jobs still queued")
	}
}
