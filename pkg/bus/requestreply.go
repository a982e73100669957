package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/burrow/pkg/log"
)

// DefaultRequestTimeout bounds Request when the caller passes 0.
const DefaultRequestTimeout = 5 * time.Second

// RequestReplyHandler implements synchronous request/reply over the
// asynchronous bus. Replies are matched to requests by correlation id on a
// dedicated reply topic; orphan replies are dropped.
type RequestReplyHandler struct {
	bus          *Bus
	serviceTopic string
	replyTopic   string

	mu      sync.Mutex
	pending map[string]chan *Message

	replySubID   uint64
	serviceSubID uint64
	handler      func(req *Message) (*Message, error)
}

// NewRequestReplyHandler creates a handler for the given service topic.
// An empty replyTopic defaults to serviceTopic + ".reply".
func NewRequestReplyHandler(b *Bus, serviceTopic, replyTopic string) (*RequestReplyHandler, error) {
	if serviceTopic == "" {
		return nil, fmt.Errorf("invalid argument: empty service topic")
	}
	if replyTopic == "" {
		replyTopic = serviceTopic + ".reply"
	}

	h := &RequestReplyHandler{
		bus:          b,
		serviceTopic: serviceTopic,
		replyTopic:   replyTopic,
		pending:      make(map[string]chan *Message),
	}

	id, err := b.Subscribe(replyTopic, h.handleReply, nil, 10)
	if err != nil {
		return nil, err
	}
	h.replySubID = id
	return h, nil
}

// ServiceTopic returns the request topic.
func (h *RequestReplyHandler) ServiceTopic() string { return h.serviceTopic }

// ReplyTopic returns the reply topic.
func (h *RequestReplyHandler) ReplyTopic() string { return h.replyTopic }

// Close removes the handler's subscriptions and fails all pending
// requests.
func (h *RequestReplyHandler) Close() {
	_ = h.bus.Unsubscribe(h.replySubID)
	_ = h.UnregisterHandler()

	h.mu.Lock()
	for id, ch := range h.pending {
		close(ch)
		delete(h.pending, id)
	}
	h.mu.Unlock()
}

// Request publishes the request with a fresh correlation id and blocks for
// the correlated reply. Timing out removes the pending entry and returns
// ErrRequestTimeout.
func (h *RequestReplyHandler) Request(req *Message, timeout time.Duration) (*Message, error) {
	if req == nil {
		return nil, ErrInvalidMessage
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	correlationID := uuid.New().String()

	outbound := *req
	outbound.CorrelationID = correlationID
	outbound.Target = h.serviceTopic
	outbound.Type = TypeQuery
	if outbound.Topic == "" {
		outbound.Topic = h.serviceTopic
	}

	ch := make(chan *Message, 1)
	h.mu.Lock()
	h.pending[correlationID] = ch
	h.mu.Unlock()

	if err := h.bus.Publish(&outbound); err != nil {
		h.mu.Lock()
		delete(h.pending, correlationID)
		h.mu.Unlock()
		return nil, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ErrQueueStopped
		}
		return reply, nil
	case <-time.After(timeout):
		h.mu.Lock()
		delete(h.pending, correlationID)
		h.mu.Unlock()
		return nil, ErrRequestTimeout
	}
}

// RegisterHandler installs the service-side request handler. The returned
// reply inherits the request's correlation id and goes out on the reply
// topic.
func (h *RequestReplyHandler) RegisterHandler(fn func(req *Message) (*Message, error)) error {
	if fn == nil {
		return fmt.Errorf("invalid argument: nil handler")
	}
	h.mu.Lock()
	if h.handler != nil {
		h.mu.Unlock()
		return fmt.Errorf("invalid argument: handler already registered")
	}
	h.handler = fn
	h.mu.Unlock()

	id, err := h.bus.Subscribe(h.serviceTopic, h.handleRequest, nil, 5)
	if err != nil {
		h.mu.Lock()
		h.handler = nil
		h.mu.Unlock()
		return err
	}
	h.mu.Lock()
	h.serviceSubID = id
	h.mu.Unlock()
	return nil
}

// UnregisterHandler removes the service-side handler.
func (h *RequestReplyHandler) UnregisterHandler() error {
	h.mu.Lock()
	id := h.serviceSubID
	h.serviceSubID = 0
	h.handler = nil
	h.mu.Unlock()

	if id == 0 {
		return nil
	}
	return h.bus.Unsubscribe(id)
}

// HasHandler reports whether a service-side handler is installed.
func (h *RequestReplyHandler) HasHandler() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.handler != nil
}

func (h *RequestReplyHandler) handleReply(reply *Message) error {
	if reply.CorrelationID == "" {
		return nil
	}
	h.mu.Lock()
	ch, ok := h.pending[reply.CorrelationID]
	if ok {
		delete(h.pending, reply.CorrelationID)
	}
	h.mu.Unlock()

	if !ok {
		log.Logger.Debug().
			Str("correlation_id", reply.CorrelationID).
			Msg("dropping orphan reply")
		return nil
	}
	ch <- reply
	return nil
}

func (h *RequestReplyHandler) handleRequest(req *Message) error {
	h.mu.Lock()
	fn := h.handler
	h.mu.Unlock()
	if fn == nil {
		return nil
	}

	reply, err := fn(req)
	if err != nil {
		return fmt.Errorf("request handler: %w", err)
	}
	if reply == nil {
		return nil
	}

	outbound := *reply
	outbound.Topic = h.replyTopic
	outbound.CorrelationID = req.CorrelationID
	outbound.Type = TypeReply
	if outbound.ID == "" {
		outbound.ID = uuid.New().String()
	}
	if outbound.Timestamp.IsZero() {
		outbound.Timestamp = time.Now()
	}
	return h.bus.Publish(&outbound)
}

// RequestClient is a thin client wrapper around a RequestReplyHandler.
type RequestClient struct {
	handler *RequestReplyHandler
}

// NewRequestClient creates a client for the given service topic.
func NewRequestClient(b *Bus, serviceTopic string) (*RequestClient, error) {
	h, err := NewRequestReplyHandler(b, serviceTopic, "")
	if err != nil {
		return nil, err
	}
	return &RequestClient{handler: h}, nil
}

// Request sends one request and waits for its reply.
func (c *RequestClient) Request(req *Message, timeout time.Duration) (*Message, error) {
	return c.handler.Request(req, timeout)
}

// Close tears down the client's subscriptions.
func (c *RequestClient) Close() { c.handler.Close() }

// RequestServer is a thin service wrapper around a RequestReplyHandler.
type RequestServer struct {
	handler *RequestReplyHandler
}

// NewRequestServer creates a server for the given service topic.
func NewRequestServer(b *Bus, serviceTopic string) (*RequestServer, error) {
	h, err := NewRequestReplyHandler(b, serviceTopic, "")
	if err != nil {
		return nil, err
	}
	return &RequestServer{handler: h}, nil
}

// RegisterHandler installs the request handler.
func (s *RequestServer) RegisterHandler(fn func(req *Message) (*Message, error)) error {
	return s.handler.RegisterHandler(fn)
}

// Stop tears down the server's subscriptions.
func (s *RequestServer) Stop() { s.handler.Close() }
