// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "a11ystatus"

var (
	// AuthOutcomes counts authentication attempts by method and reason.
	// A successful attempt is recorded with reason "ok".
	AuthOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_outcomes_total",
		Help:      "Authentication attempts by method and outcome reason.",
	}, []string{"method", "reason"})

	// RetryAttempts counts retries performed against the store.
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retry_attempts_total",
		Help:      "Retries performed by operation.",
	}, []string{"operation"})

	// BackgroundTaskFailures counts failed or dropped background tasks.
	BackgroundTaskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "background_task_failures_total",
		Help:      "Background tasks that returned an error or were dropped.",
	}, []string{"task"})

	// SweepDeactivations counts keys deactivated by the grace period sweep.
	SweepDeactivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_deactivations_total",
		Help:      "API keys processed by the grace period sweep.",
	}, []string{"status"})

	// HTTPRequestDuration observes request latency by route and status.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
