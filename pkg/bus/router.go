package bus

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// SubscriptionCallback handles one routed message. A returned error is
// logged and counted; it never aborts dispatch to other subscribers.
type SubscriptionCallback func(msg *Message) error

// MessageFilter decides per subscription whether a matched message is
// delivered.
type MessageFilter func(msg *Message) bool

// Subscription is one registered topic-pattern listener.
type Subscription struct {
	ID       uint64
	Pattern  string
	Callback SubscriptionCallback
	Filter   MessageFilter
	Priority int
}

// Router matches topics against registered patterns and dispatches in
// priority order. Patterns split on '.'; '*' matches exactly one segment;
// '#' matches any trailing segments and is only valid as the final
// segment.
type Router struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	nextID atomic.Uint64
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{subs: make(map[string][]*Subscription)}
}

// Subscribe registers a callback under a topic pattern with a dispatch
// priority in 0..10 (higher first).
func (r *Router) Subscribe(pattern string, callback SubscriptionCallback, filter MessageFilter, priority int) (uint64, error) {
	if pattern == "" {
		return 0, fmt.Errorf("invalid argument: empty topic pattern")
	}
	if callback == nil {
		return 0, fmt.Errorf("invalid argument: nil callback")
	}
	if priority < 0 {
		priority = 0
	}
	if priority > 10 {
		priority = 10
	}

	sub := &Subscription{
		ID:       r.nextID.Add(1),
		Pattern:  pattern,
		Callback: callback,
		Filter:   filter,
		Priority: priority,
	}

	r.mu.Lock()
	r.subs[pattern] = append(r.subs[pattern], sub)
	r.mu.Unlock()

	metrics.SubscriptionsTotal.Inc()
	return sub.ID, nil
}

// Unsubscribe removes a subscription by id.
func (r *Router) Unsubscribe(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for pattern, subs := range r.subs {
		for i, sub := range subs {
			if sub.ID == id {
				r.subs[pattern] = append(subs[:i], subs[i+1:]...)
				if len(r.subs[pattern]) == 0 {
					delete(r.subs, pattern)
				}
				metrics.SubscriptionsTotal.Dec()
				return nil
			}
		}
	}
	return ErrSubscriptionNotFound
}

// Route dispatches the message to every matching subscription, highest
// priority first, stable across ties. Returns ErrNoSubscribers when
// nothing matched, ErrHandlerFailure when at least one callback failed.
func (r *Router) Route(msg *Message) error {
	matched := r.matching(msg.Topic)
	if len(matched) == 0 {
		return ErrNoSubscribers
	}

	failed := 0
	for _, sub := range matched {
		if sub.Filter != nil && !sub.Filter(msg) {
			continue
		}
		if err := sub.Callback(msg); err != nil {
			failed++
			log.Logger.Warn().Err(err).
				Str("topic", msg.Topic).
				Str("pattern", sub.Pattern).
				Uint64("subscription", sub.ID).
				Msg("subscriber callback failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d subscribers", ErrHandlerFailure, failed, len(matched))
	}
	return nil
}

// SubscriberCount returns how many subscriptions would receive the topic.
func (r *Router) SubscriberCount(topic string) int {
	return len(r.matching(topic))
}

// Topics returns all registered patterns.
func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs))
	for pattern := range r.subs {
		out = append(out, pattern)
	}
	return out
}

// Clear removes every subscription.
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, subs := range r.subs {
		metrics.SubscriptionsTotal.Sub(float64(len(subs)))
	}
	r.subs = make(map[string][]*Subscription)
}

func (r *Router) matching(topic string) []*Subscription {
	r.mu.RLock()
	var matched []*Subscription
	for pattern, subs := range r.subs {
		if MatchTopic(topic, pattern) {
			matched = append(matched, subs...)
		}
	}
	r.mu.RUnlock()

	// Priority descending; registration order breaks ties.
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].ID < matched[j].ID
	})
	return matched
}

// MatchTopic reports whether a concrete topic matches a pattern.
func MatchTopic(topic, pattern string) bool {
	if topic == pattern {
		return true
	}

	topicSegs := strings.Split(topic, ".")
	patternSegs := strings.Split(pattern, ".")

	for i, seg := range patternSegs {
		if seg == "#" {
			// '#' is only valid as the final segment and swallows the
			// rest of the topic, including zero segments.
			return i == len(patternSegs)-1
		}
		if i >= len(topicSegs) {
			return false
		}
		if seg == "*" {
			continue
		}
		if seg != topicSegs[i] {
			return false
		}
	}
	return len(topicSegs) == len(patternSegs)
}
