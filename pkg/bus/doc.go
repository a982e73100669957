/*
Package bus implements Burrow's in-process publish/subscribe hub.

A Bus is a bounded message queue drained by a worker fleet into a topic
router. Publishers enqueue; workers dequeue and dispatch to every
subscription whose pattern matches the message topic, highest priority
first. Patterns split on '.'; '*' matches one segment, '#' matches any
trailing segments and is only valid in final position.

	┌───────────┐   enqueue    ┌───────────┐   dequeue   ┌────────────┐
	│ Publisher ├─────────────▶│   Queue   ├────────────▶│  Workers   │
	└───────────┘              └───────────┘             └─────┬──────┘
	                                                          route
	                                                    ┌──────▼──────┐
	                                                    │   Router    │
	                                                    └──────┬──────┘
	                                             ┌─────────────┼─────────────┐
	                                        subscriber    subscriber    dead letters

A handler error never aborts dispatch to the remaining subscribers; the
message is copied to the dead-letter queue (and optional persistent sink)
when dead-lettering is enabled. With one worker thread per-topic delivery
is FIFO; with more, only per-publisher enqueue order is guaranteed.

On top of the core hub the package provides the request/reply pattern with
correlation-id matching, and event streams with replay buffers and batch
processing.
*/
package bus
