// Package metrics holds the Prometheus collectors shared by both binaries.
// Everything is registered on the default registry at package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trackit"

// ProviderRequestsTotal counts tracking provider calls.
// Labels:
//   - op: "track", "results" or "couriers"
//   - outcome: "ok", "rate_limited", "not_found", "error"
var ProviderRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_requests_total",
		Help:      "Total number of tracking provider requests, by operation and outcome.",
	},
	[]string{"op", "outcome"},
)

var ProviderRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provider_request_duration_seconds",
		Help:      "Duration of tracking provider requests.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"op"},
)

// GeocodeRequestsTotal counts geocoding searches that reached the network.
// Label:
//   - outcome: "ok", "no_results", "rate_limited", "error"
var GeocodeRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geocode_requests_total",
		Help:      "Total number of geocoding searches, by outcome.",
	},
	[]string{"outcome"},
)

var GeocodeThrottleWait = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "geocode_throttle_wait_seconds",
		Help:      "Time spent waiting on the process-wide geocoding throttle.",
		Buckets:   []float64{0, .1, .25, .5, 1, 2, 5, 10, 30},
	},
)

var EventsAppendedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracking_events_appended_total",
		Help:      "Total number of tracking events appended by reconciliation.",
	},
)

var EventsDedupTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracking_events_dedup_total",
		Help:      "Total number of incoming tracking events dropped as duplicates.",
	},
)

// BackgroundTasksTotal counts fire-and-forget tasks.
// Labels:
//   - task: task name
//   - outcome: "ok", "error", "panic"
var BackgroundTasksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "background_tasks_total",
		Help:      "Total number of background tasks, by name and outcome.",
	},
	[]string{"task", "outcome"},
)

var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests, by method, route pattern and status code.",
	},
	[]string{"method", "route", "status"},
)

var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests, by method and route pattern.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route"},
)

var WorkerPublishedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_updates_published_total",
		Help:      "Total number of tracking updates published by the worker, by result.",
	},
	[]string{"result"},
)
