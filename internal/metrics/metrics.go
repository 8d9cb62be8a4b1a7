// Package metrics provides Prometheus instrumentation for the daemon and
// monitor processes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, for the loopback /metrics listener itself.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orcd_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orcd_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Daemon command metrics.
var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orcd_commands_total",
		Help: "Total number of IPC commands handled, by command and status.",
	}, []string{"command", "status"})

	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orcd_command_duration_seconds",
		Help:    "IPC command handling duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orcd_delivery_duration_seconds",
		Help:    "Per-envelope delivery duration, clear-to-Enter.",
		Buckets: []float64{.01, .025, .05, .075, .1, .15, .2, .3, .5, 1},
	})

	SlowDeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orcd_slow_deliveries_total",
		Help: "Deliveries whose duration exceeded the 100ms performance target.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orcd_queue_depth",
		Help: "Current depth of the delivery FIFO queue.",
	})
)

// Cache metrics.
var (
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orcd_cache_hits_total",
		Help: "Cache hits by cache name and status (fresh/stale).",
	}, []string{"cache", "status"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orcd_cache_misses_total",
		Help: "Cache misses by cache name.",
	}, []string{"cache"})

	CacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orcd_cache_evictions_total",
		Help: "Cache evictions by cache name.",
	}, []string{"cache"})
)

// Monitoring / recovery metrics.
var (
	ActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orcd_active_agents",
		Help: "Number of currently discovered agents.",
	})

	ActiveRecoveries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orcd_active_recoveries",
		Help: "Number of recoveries currently in progress.",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orcd_notifications_total",
		Help: "Notifications emitted by the monitoring engine, by category and priority.",
	}, []string{"category", "priority"})
)

// RecordCommand records a single IPC command's outcome and duration.
// This replaces a ConnectRPC-style interceptor: there is exactly one
// dispatch site (the daemon's command switch), so a direct call is
// simpler than wrapping a handler chain.
func RecordCommand(command, status string, start time.Time) {
	CommandsTotal.WithLabelValues(command, status).Inc()
	CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
}
