package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all engine metrics
type Metrics struct {
	// Dispatch metrics
	NotificationsDispatched *prometheus.CounterVec
	NotificationsFailed     *prometheus.CounterVec
	NotificationsDeferred   prometheus.Counter
	RetryAttempts           *prometheus.CounterVec
	DispatchLatency         prometheus.Histogram
	DueQueueDepth           prometheus.Gauge

	// Scheduler metrics
	NotificationsScheduled *prometheus.CounterVec
	DigestsSuppressed      prometheus.Counter

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all engine metrics with the default
// prometheus registry.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		NotificationsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dispatched_total",
			Help:      "Total number of dispatched notifications",
		}, []string{"channel", "status"}),
		NotificationsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Total number of notifications that exhausted retries",
		}, []string{"channel"}),
		NotificationsDeferred: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_deferred_total",
			Help:      "Total number of notifications deferred by quiet hours",
		}),
		RetryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_retry_attempts_total",
			Help:      "Total number of delivery retry attempts",
		}, []string{"channel"}),
		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_tick_duration_seconds",
			Help:      "Time spent processing one dispatcher tick",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		DueQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "due_queue_depth",
			Help:      "Number of due records picked up by the last tick",
		}),
		NotificationsScheduled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_scheduled_total",
			Help:      "Total number of notifications written by the scheduler",
		}, []string{"type"}),
		DigestsSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digests_suppressed_total",
			Help:      "Total number of empty digests suppressed",
		}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// New creates the same metric set without registering it. Tests use this to
// avoid duplicate-registration panics on the default registry.
func New(namespace string) *Metrics {
	return &Metrics{
		NotificationsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dispatched_total",
			Help:      "Total number of dispatched notifications",
		}, []string{"channel", "status"}),
		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Total number of notifications that exhausted retries",
		}, []string{"channel"}),
		NotificationsDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_deferred_total",
			Help:      "Total number of notifications deferred by quiet hours",
		}),
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_retry_attempts_total",
			Help:      "Total number of delivery retry attempts",
		}, []string{"channel"}),
		DispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_tick_duration_seconds",
			Help:      "Time spent processing one dispatcher tick",
		}),
		DueQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "due_queue_depth",
			Help:      "Number of due records picked up by the last tick",
		}),
		NotificationsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_scheduled_total",
			Help:      "Total number of notifications written by the scheduler",
		}, []string{"type"}),
		DigestsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digests_suppressed_total",
			Help:      "Total number of empty digests suppressed",
		}),
		DatabaseOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}
