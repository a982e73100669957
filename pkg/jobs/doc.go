/*
Package jobs implements Burrow's priority job pool and worker fleet.

Jobs are queued into one of four priority buckets (top, high, normal,
low). Workers are pinned to a primary bucket and may steal from an
ordered list of secondary buckets when their own is empty. Dispatch is
cooperative: a higher-priority job preempts a lower one only at the
dispatch boundary, never mid-run, and FIFO order holds inside one bucket.

Workers sleep on a condition variable and are woken exclusively by the
pool's push notifications, so an idle fleet costs nothing. The pool fires
a sentinel notification when the last queued job is popped, which is what
a draining ThreadPool.Stop blocks on.

Jobs carrying large payloads can be spilled to content-addressed files and
reloaded just before execution; this trades disk I/O for resident memory
and changes nothing about execution semantics.
*/
package jobs
