// Package metrics exposes Burrow's Prometheus collectors: bus throughput
// counters, queue depth, session gauge, frame reader resyncs, and job pool
// outcomes. Collectors are registered at package load; StartMetricsServer
// serves them on /metrics.
package metrics
