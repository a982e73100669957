package bus

import (
	"fmt"
	"sync"
	"time"
)

// StreamConfig configures an EventStream.
type StreamConfig struct {
	MaxBufferSize int
	EnableReplay  bool
	BatchSize     int
	BatchTimeout  time.Duration
}

// DefaultStreamConfig returns the standard stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MaxBufferSize: 1000,
		EnableReplay:  true,
		BatchSize:     10,
		BatchTimeout:  100 * time.Millisecond,
	}
}

// EventStream is a topic plus a bounded ring of recent events, so a late
// subscriber can replay what it missed.
type EventStream struct {
	bus   *Bus
	topic string
	cfg   StreamConfig

	bufMu  sync.Mutex
	buffer []*Message

	subMu  sync.Mutex
	subIDs []uint64
}

// NewEventStream creates a stream bound to one topic.
func NewEventStream(b *Bus, topic string, cfg StreamConfig) (*EventStream, error) {
	if topic == "" {
		return nil, fmt.Errorf("invalid argument: empty stream topic")
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = 1000
	}
	return &EventStream{bus: b, topic: topic, cfg: cfg}, nil
}

// Topic returns the stream topic.
func (s *EventStream) Topic() string { return s.topic }

// PublishEvent stamps the stream topic on the event, publishes it, and
// buffers it for replay.
func (s *EventStream) PublishEvent(event *Message) error {
	if event == nil {
		return ErrInvalidMessage
	}
	copied := *event
	copied.Topic = s.topic
	copied.Type = TypeEvent

	if err := s.bus.Publish(&copied); err != nil {
		return err
	}
	if s.cfg.EnableReplay {
		s.bufferEvent(&copied)
	}
	return nil
}

// Subscribe registers a callback on the stream topic, optionally replaying
// the buffered events first.
func (s *EventStream) Subscribe(callback SubscriptionCallback, filter MessageFilter, replayPast bool) (uint64, error) {
	if replayPast && s.cfg.EnableReplay {
		s.replayBuffered(callback, filter)
	}

	id, err := s.bus.Subscribe(s.topic, callback, filter, 5)
	if err != nil {
		return 0, err
	}
	s.subMu.Lock()
	s.subIDs = append(s.subIDs, id)
	s.subMu.Unlock()
	return id, nil
}

// Unsubscribe removes a stream subscription.
func (s *EventStream) Unsubscribe(id uint64) error {
	s.subMu.Lock()
	for i, subID := range s.subIDs {
		if subID == id {
			s.subIDs = append(s.subIDs[:i], s.subIDs[i+1:]...)
			break
		}
	}
	s.subMu.Unlock()
	return s.bus.Unsubscribe(id)
}

// Close removes every stream subscription.
func (s *EventStream) Close() {
	s.subMu.Lock()
	ids := append([]uint64(nil), s.subIDs...)
	s.subIDs = nil
	s.subMu.Unlock()
	for _, id := range ids {
		_ = s.bus.Unsubscribe(id)
	}
}

// Replay delivers all buffered events matching the filter to the callback.
func (s *EventStream) Replay(callback SubscriptionCallback, filter MessageFilter) {
	s.replayBuffered(callback, filter)
}

// Events returns the buffered events matching the filter.
func (s *EventStream) Events(filter MessageFilter) []*Message {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	var out []*Message
	for _, msg := range s.buffer {
		if filter == nil || filter(msg) {
			out = append(out, msg)
		}
	}
	return out
}

// EventCount returns the number of buffered events.
func (s *EventStream) EventCount() int {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return len(s.buffer)
}

// ClearBuffer drops the replay buffer.
func (s *EventStream) ClearBuffer() {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	s.buffer = nil
}

func (s *EventStream) bufferEvent(event *Message) {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	s.buffer = append(s.buffer, event)
	if len(s.buffer) > s.cfg.MaxBufferSize {
		s.buffer = s.buffer[len(s.buffer)-s.cfg.MaxBufferSize:]
	}
}

func (s *EventStream) replayBuffered(callback SubscriptionCallback, filter MessageFilter) {
	for _, msg := range s.Events(filter) {
		_ = callback(msg)
	}
}

// BatchCallback processes one batch of accumulated events.
type BatchCallback func(batch []*Message) error

// EventBatchProcessor accumulates matching events and delivers them in
// batches: when the batch fills or when the flush timer fires, whichever
// comes first.
type EventBatchProcessor struct {
	bus          *Bus
	topicPattern string
	callback     BatchCallback
	batchSize    int
	batchTimeout time.Duration

	mu      sync.Mutex
	current []*Message

	subID   uint64
	stopCh  chan struct{}
	running bool
}

// NewEventBatchProcessor creates a processor for the topic pattern.
func NewEventBatchProcessor(b *Bus, topicPattern string, callback BatchCallback, batchSize int, batchTimeout time.Duration) (*EventBatchProcessor, error) {
	if callback == nil {
		return nil, fmt.Errorf("invalid argument: nil batch callback")
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	if batchTimeout <= 0 {
		batchTimeout = 100 * time.Millisecond
	}
	return &EventBatchProcessor{
		bus:          b,
		topicPattern: topicPattern,
		callback:     callback,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
	}, nil
}

// Start subscribes and launches the flush timer.
func (p *EventBatchProcessor) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	id, err := p.bus.Subscribe(p.topicPattern, p.collect, nil, 5)
	if err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return err
	}
	p.subID = id

	go p.flushLoop()
	return nil
}

// Stop unsubscribes, stops the timer, and flushes the partial batch.
func (p *EventBatchProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	_ = p.bus.Unsubscribe(p.subID)
	p.flush()
}

func (p *EventBatchProcessor) collect(msg *Message) error {
	p.mu.Lock()
	p.current = append(p.current, msg)
	full := len(p.current) >= p.batchSize
	p.mu.Unlock()

	if full {
		p.flush()
	}
	return nil
}

func (p *EventBatchProcessor) flushLoop() {
	ticker := time.NewTicker(p.batchTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.flush()
		case <-p.stopCh:
			return
		}
	}
}

func (p *EventBatchProcessor) flush() {
	p.mu.Lock()
	batch := p.current
	p.current = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := p.callback(batch); err != nil {
		// A failed batch is dropped; the callback owns retries.
		return
	}
}
