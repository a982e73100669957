package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bus metrics
	MessagesPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_bus_messages_published_total",
			Help: "Total number of messages accepted by publish",
		},
	)

	MessagesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_bus_messages_processed_total",
			Help: "Total number of messages dispatched to subscribers",
		},
	)

	MessagesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_bus_messages_failed_total",
			Help: "Total number of messages whose handler returned failure",
		},
	)

	MessagesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_bus_messages_dropped_total",
			Help: "Total number of messages discarded (queue or DLQ overflow)",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_bus_queue_depth",
			Help: "Current number of messages waiting in the bus queue",
		},
	)

	SubscriptionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_bus_subscriptions_total",
			Help: "Current number of active subscriptions",
		},
	)

	// Transport metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_sessions_active",
			Help: "Current number of live messaging sessions",
		},
	)

	FrameResyncs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_frame_resyncs_total",
			Help: "Total number of frame reader resynchronizations",
		},
	)

	FramesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_frames_sent_total",
			Help: "Total number of frames written to sockets",
		},
	)

	FramesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_frames_received_total",
			Help: "Total number of complete frames delivered by readers",
		},
	)

	// Job pool metrics
	JobsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_jobs_executed_total",
			Help: "Total number of jobs executed by priority and outcome",
		},
		[]string{"priority", "outcome"},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_bus_dispatch_latency_seconds",
			Help:    "Time from dequeue to completed routing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesPublished,
		MessagesProcessed,
		MessagesFailed,
		MessagesDropped,
		QueueDepth,
		SubscriptionsTotal,
		SessionsActive,
		FrameResyncs,
		FramesSent,
		FramesReceived,
		JobsExecuted,
		DispatchLatency,
	)
}

// Handler returns the prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts the metrics HTTP server on the given address.
func StartMetricsServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
