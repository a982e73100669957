package bus

import "errors"

var (
	// ErrInvalidMessage reports a publish of a nil, unaddressed, or
	// already expired message.
	ErrInvalidMessage = errors.New("invalid argument: message")
	// ErrQueueFull reports an enqueue against a full queue without
	// drop-on-full.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueEmpty reports a dequeue that timed out or found nothing.
	ErrQueueEmpty = errors.New("queue empty")
	// ErrQueueStopped reports an operation against a stopped queue.
	ErrQueueStopped = errors.New("queue stopped")
	// ErrNoSubscribers reports a routed message that matched nothing.
	ErrNoSubscribers = errors.New("no subscribers")
	// ErrHandlerFailure reports that at least one subscriber callback
	// returned an error.
	ErrHandlerFailure = errors.New("handler failure")
	// ErrRequestTimeout reports a request whose reply did not arrive in
	// time.
	ErrRequestTimeout = errors.New("request timeout")
	// ErrSubscriptionNotFound reports an unsubscribe of an unknown id.
	ErrSubscriptionNotFound = errors.New("invalid argument: subscription not found")
)
