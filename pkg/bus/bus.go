package bus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// DeadLetterSink receives messages whose handlers failed, in addition to
// the in-memory dead-letter queue. Implemented by storage.DeadLetterStore.
type DeadLetterSink interface {
	Append(reason string, msg *Message) error
}

// Config configures a Bus.
type Config struct {
	QueueCapacity       int
	WorkerThreads       int
	EnablePriorityQueue bool
	EnableDeadLetter    bool
	DeadLetterCapacity  int
	// DeadLetterOnNoMatch classifies unmatched topics as failures; by
	// default a publish with no subscribers is not an error.
	DeadLetterOnNoMatch bool
	DrainOnStop         bool
	EnableMetrics       bool

	// Optional persistent sink for dead letters.
	DeadLetterSink DeadLetterSink
}

// DefaultConfig returns the standard bus configuration.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:       DefaultQueueSize,
		WorkerThreads:       4,
		EnablePriorityQueue: true,
		EnableDeadLetter:    true,
		DeadLetterCapacity:  1000,
		DrainOnStop:         true,
		EnableMetrics:       true,
	}
}

// Statistics is a snapshot of the bus counters.
type Statistics struct {
	Published uint64
	Processed uint64
	Failed    uint64
	Dropped   uint64
}

// Bus is the in-process publish/subscribe hub: a bounded queue drained by
// a worker fleet into the topic router, with optional dead-lettering.
type Bus struct {
	cfg    Config
	queue  *Queue
	router *Router
	dlq    *Queue

	running atomic.Bool
	wg      sync.WaitGroup

	published atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	replyMu sync.Mutex
	reply   *RequestReplyHandler
}

// New creates a bus from the config.
func New(cfg Config) *Bus {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueSize
	}
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = 1
	}
	if cfg.DeadLetterCapacity <= 0 {
		cfg.DeadLetterCapacity = 1000
	}

	b := &Bus{
		cfg:    cfg,
		router: NewRouter(),
		queue: NewQueue(QueueConfig{
			MaxSize:        cfg.QueueCapacity,
			EnablePriority: cfg.EnablePriorityQueue,
		}),
	}
	if cfg.EnableDeadLetter {
		b.dlq = NewQueue(QueueConfig{MaxSize: cfg.DeadLetterCapacity})
	}
	return b
}

// Start launches the worker fleet.
func (b *Bus) Start() error {
	if !b.running.CompareAndSwap(false, true) {
		return nil
	}
	for i := 0; i < b.cfg.WorkerThreads; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	log.WithComponent("bus").Info().
		Int("workers", b.cfg.WorkerThreads).
		Int("capacity", b.cfg.QueueCapacity).
		Msg("message bus started")
	return nil
}

// Stop halts the fleet. With DrainOnStop the queue is emptied first;
// otherwise remaining messages are discarded.
func (b *Bus) Stop() {
	if !b.running.CompareAndSwap(true, false) {
		return
	}
	if !b.cfg.DrainOnStop {
		b.queue.Clear()
	}
	// Workers drain the queue after running flips; stopping the queue
	// wakes any blocked dequeue.
	b.queue.Stop()
	b.wg.Wait()
	log.WithComponent("bus").Info().Msg("message bus stopped")
}

// IsRunning reports whether the fleet is active.
func (b *Bus) IsRunning() bool { return b.running.Load() }

// Publish validates and enqueues a message.
func (b *Bus) Publish(msg *Message) error {
	if msg == nil || msg.ID == "" || msg.Topic == "" {
		return ErrInvalidMessage
	}
	if msg.IsExpired() {
		return fmt.Errorf("%w: expired before publish", ErrInvalidMessage)
	}
	if !b.running.Load() {
		return ErrQueueStopped
	}
	if err := b.queue.Enqueue(msg); err != nil {
		if err == ErrQueueFull {
			b.dropped.Add(1)
			if b.cfg.EnableMetrics {
				metrics.MessagesDropped.Inc()
			}
		}
		return err
	}
	b.published.Add(1)
	if b.cfg.EnableMetrics {
		metrics.MessagesPublished.Inc()
		metrics.QueueDepth.Set(float64(b.queue.Size()))
	}
	return nil
}

// PublishTo is a convenience that stamps the topic before publishing.
func (b *Bus) PublishTo(topic string, msg *Message) error {
	if msg == nil {
		return ErrInvalidMessage
	}
	copied := *msg
	copied.Topic = topic
	return b.Publish(&copied)
}

// Subscribe registers a callback for a topic pattern.
func (b *Bus) Subscribe(pattern string, callback SubscriptionCallback, filter MessageFilter, priority int) (uint64, error) {
	return b.router.Subscribe(pattern, callback, filter, priority)
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(id uint64) error {
	return b.router.Unsubscribe(id)
}

// Router exposes the underlying topic router.
func (b *Bus) Router() *Router { return b.router }

// DeadLetters drains up to limit messages from the dead-letter queue.
func (b *Bus) DeadLetters(limit int) []*Message {
	if b.dlq == nil {
		return nil
	}
	var out []*Message
	for limit <= 0 || len(out) < limit {
		msg, err := b.dlq.TryDequeue()
		if err != nil {
			break
		}
		out = append(out, msg)
	}
	return out
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Statistics {
	return Statistics{
		Published: b.published.Load(),
		Processed: b.processed.Load(),
		Failed:    b.failed.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// ResetStats zeroes the counters.
func (b *Bus) ResetStats() {
	b.published.Store(0)
	b.processed.Store(0)
	b.failed.Store(0)
	b.dropped.Store(0)
}

func (b *Bus) worker() {
	defer b.wg.Done()
	logger := log.WithComponent("bus")

	for {
		msg, err := b.queue.Dequeue(100 * time.Millisecond)
		if err == ErrQueueStopped {
			// Drain whatever is left before exiting.
			for {
				msg, err := b.queue.TryDequeue()
				if err != nil {
					return
				}
				b.dispatch(logger, msg)
			}
		}
		if err != nil {
			if !b.running.Load() && b.queue.Size() == 0 {
				return
			}
			continue
		}
		b.dispatch(logger, msg)
	}
}

func (b *Bus) dispatch(logger zerolog.Logger, msg *Message) {
	start := time.Now()
	b.processed.Add(1)
	if b.cfg.EnableMetrics {
		metrics.MessagesProcessed.Inc()
		metrics.QueueDepth.Set(float64(b.queue.Size()))
	}

	if msg.IsExpired() {
		logger.Debug().Str("topic", msg.Topic).Str("id", msg.ID).Msg("dropping expired message")
		return
	}

	err := b.router.Route(msg)
	switch {
	case err == nil:
	case err == ErrNoSubscribers:
		if b.cfg.DeadLetterOnNoMatch {
			b.deadLetter("no subscribers", msg)
		} else {
			logger.Debug().Str("topic", msg.Topic).Msg("no subscribers for topic")
		}
	default:
		b.failed.Add(1)
		if b.cfg.EnableMetrics {
			metrics.MessagesFailed.Inc()
		}
		b.deadLetter(err.Error(), msg)
	}

	if b.cfg.EnableMetrics {
		metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	}
}

func (b *Bus) deadLetter(reason string, msg *Message) {
	if b.dlq == nil {
		return
	}
	if err := b.dlq.Enqueue(msg); err != nil {
		b.dropped.Add(1)
		if b.cfg.EnableMetrics {
			metrics.MessagesDropped.Inc()
		}
		return
	}
	if b.cfg.DeadLetterSink != nil {
		if err := b.cfg.DeadLetterSink.Append(reason, msg); err != nil {
			log.Logger.Warn().Err(err).Str("id", msg.ID).Msg("dead-letter sink append failed")
		}
	}
}

// Request sends a query over the bus and waits for the correlated reply on
// the default reply topic.
func (b *Bus) Request(req *Message, timeout time.Duration) (*Message, error) {
	b.replyMu.Lock()
	if b.reply == nil {
		handler, err := NewRequestReplyHandler(b, "service", "")
		if err != nil {
			b.replyMu.Unlock()
			return nil, err
		}
		b.reply = handler
	}
	handler := b.reply
	b.replyMu.Unlock()

	return handler.Request(req, timeout)
}
