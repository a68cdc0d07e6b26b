// Package metrics exposes Prometheus instrumentation for conversation continuity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resolutions counts resolver outcomes by path (active, revived, created).
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_resolutions_total",
			Help: "Conversation resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// Binds counts group-id bind attempts by result (bound, noop, conflict).
	Binds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_binds_total",
			Help: "Group id bind attempts by result",
		},
		[]string{"result"},
	)

	// Resets counts completed resets.
	Resets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "continuity_resets_total",
			Help: "Completed conversation resets",
		},
	)

	// MessagesTotal counts appended messages by role.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_messages_total",
			Help: "Messages appended",
		},
		[]string{"role"},
	)

	// StoreErrors counts infrastructure failures by operation.
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "continuity_store_errors_total",
			Help: "Store failures by operation",
		},
		[]string{"op"},
	)

	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)
)

func RecordRequest(method, path, status string, seconds float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(seconds)
}
