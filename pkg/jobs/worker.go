package jobs

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// Worker drains one priority bucket of a pool, stealing from its secondary
// buckets when its own is empty. It never busy-waits: wakeups come only
// from the pool's push notifications or from Stop.
type Worker struct {
	id       string
	priority Priority
	others   []Priority

	pool *Pool

	mu       sync.Mutex
	cond     *sync.Cond
	stopping bool
	running  bool
	done     chan struct{}
}

// NewWorker creates a worker with a primary priority and an ordered list
// of secondary priorities it may steal from.
func NewWorker(priority Priority, others ...Priority) *Worker {
	w := &Worker{
		id:       uuid.New().String(),
		priority: priority,
		others:   others,
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Priority returns the worker's primary priority.
func (w *Worker) Priority() Priority { return w.priority }

// SetPool wires the worker to a pool; must be called before Start.
func (w *Worker) SetPool(pool *Pool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pool = pool
}

// Start registers the wakeup notification and launches the worker loop.
func (w *Worker) Start() error {
	w.mu.Lock()
	if w.running || w.pool == nil {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopping = false
	w.done = make(chan struct{})
	pool := w.pool
	w.mu.Unlock()

	if err := pool.AppendNotification(w.id, w.notify); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}

	go w.run()
	return nil
}

// Stop unregisters the notification, wakes the loop, and joins it.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.stopping = true
	pool := w.pool
	done := w.done
	w.cond.Broadcast()
	w.mu.Unlock()

	pool.RemoveNotification(w.id)
	<-done

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func (w *Worker) run() {
	logger := log.WithComponent("worker")
	logger.Debug().Str("priority", w.priority.String()).Msg("worker started")
	defer close(w.done)

	for {
		w.mu.Lock()
		for !w.stopping && !w.pool.Contain(w.priority, w.others) {
			w.cond.Wait()
		}
		if w.stopping {
			w.mu.Unlock()
			break
		}
		w.mu.Unlock()

		// Another worker may have taken the job between the check and
		// the pop; a nil result just loops back to waiting.
		job := w.pool.Pop(w.priority, w.others)
		if job == nil {
			continue
		}
		if err := job.Work(w.priority); err != nil {
			metrics.JobsExecuted.WithLabelValues(job.priority.String(), "failed").Inc()
			logger.Warn().Err(err).
				Str("priority", job.priority.String()).
				Msg("job failed")
		} else {
			metrics.JobsExecuted.WithLabelValues(job.priority.String(), "ok").Inc()
		}
	}

	logger.Debug().Str("priority", w.priority.String()).Msg("worker stopped")
}

func (w *Worker) notify(priority Priority) {
	if priority == PriorityNone {
		return
	}
	if priority != w.priority {
		found := false
		for _, other := range w.others {
			if other == priority {
				found = true
				break
			}
		}
		if !found {
			return
		}
	}
	w.mu.Lock()
	w.cond.Signal()
	w.mu.Unlock()
}
