package bus

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/burrow/pkg/container"
)

// MessageType classifies a message's role in a conversation.
type MessageType int

const (
	TypeCommand MessageType = iota
	TypeEvent
	TypeQuery
	TypeReply
	TypeNotification
)

func (t MessageType) String() string {
	switch t {
	case TypeCommand:
		return "command"
	case TypeEvent:
		return "event"
	case TypeQuery:
		return "query"
	case TypeReply:
		return "reply"
	default:
		return "notification"
	}
}

// MessagePriority orders messages in priority-queue mode.
type MessagePriority int

const (
	PriorityLowest MessagePriority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityHighest
	PriorityCritical
)

func (p MessagePriority) String() string {
	switch p {
	case PriorityLowest:
		return "lowest"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityHighest:
		return "highest"
	default:
		return "critical"
	}
}

// Message is the bus envelope: addressing and correlation metadata plus a
// typed container payload. Messages are treated as immutable once
// published; build replies with a fresh Builder rather than mutating a
// received message.
type Message struct {
	ID            string
	Topic         string
	Source        string
	Target        string
	CorrelationID string
	TraceID       string

	Type     MessageType
	Priority MessagePriority

	Timestamp time.Time
	TTL       time.Duration // 0 means no expiry

	Headers map[string]string

	Payload *container.Container
}

// IsExpired reports whether the message outlived its TTL.
func (m *Message) IsExpired() bool {
	if m.TTL <= 0 {
		return false
	}
	return time.Since(m.Timestamp) > m.TTL
}

// Age returns the time since the message was built.
func (m *Message) Age() time.Duration {
	return time.Since(m.Timestamp)
}

// Builder assembles messages. The zero value is unusable; start with
// NewMessage.
type Builder struct {
	msg Message
}

// NewMessage starts a builder for the given topic.
func NewMessage(topic string) *Builder {
	return &Builder{msg: Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Type:      TypeEvent,
		Priority:  PriorityNormal,
		Timestamp: time.Now(),
		Headers:   make(map[string]string),
	}}
}

// Source sets the originating service id.
func (b *Builder) Source(source string) *Builder {
	b.msg.Source = source
	return b
}

// Target sets the destination service id.
func (b *Builder) Target(target string) *Builder {
	b.msg.Target = target
	return b
}

// Type sets the message classification.
func (b *Builder) Type(t MessageType) *Builder {
	b.msg.Type = t
	return b
}

// Priority sets the queue priority.
func (b *Builder) Priority(p MessagePriority) *Builder {
	b.msg.Priority = p
	return b
}

// TTL sets the time-to-live.
func (b *Builder) TTL(ttl time.Duration) *Builder {
	b.msg.TTL = ttl
	return b
}

// CorrelationID sets the request/reply correlation id.
func (b *Builder) CorrelationID(id string) *Builder {
	b.msg.CorrelationID = id
	return b
}

// TraceID sets the distributed tracing id.
func (b *Builder) TraceID(id string) *Builder {
	b.msg.TraceID = id
	return b
}

// Header adds one metadata header.
func (b *Builder) Header(key, value string) *Builder {
	b.msg.Headers[key] = value
	return b
}

// Payload attaches the container payload.
func (b *Builder) Payload(payload *container.Container) *Builder {
	b.msg.Payload = payload
	return b
}

// Build validates and returns the message.
func (b *Builder) Build() (*Message, error) {
	if b.msg.Topic == "" {
		return nil, fmt.Errorf("%w: empty topic", ErrInvalidMessage)
	}
	if b.msg.Payload == nil {
		b.msg.Payload = container.New()
	}
	msg := b.msg
	return &msg, nil
}
