package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GeofenceEvaluations counts completed membership evaluations by outcome (ok|error|skipped).
	GeofenceEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkpal_geofence_evaluations_total",
			Help: "Total number of geofence membership evaluations",
		},
		[]string{"result"},
	)

	// MembershipTransitions counts reports entering or leaving a user's radius (entered|left).
	MembershipTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkpal_membership_transitions_total",
			Help: "Total number of radius membership transitions",
		},
		[]string{"direction"},
	)

	// PushRequests counts push requests handed to the delivery collaborator (success|failure).
	PushRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parkpal_push_requests_total",
			Help: "Total number of push notification requests",
		},
		[]string{"result"},
	)

	// ReportsExpired counts reports removed because they outlived the retention window.
	ReportsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parkpal_reports_expired_total",
			Help: "Total number of parking reports deleted by expiry",
		},
	)

	// ActiveSessions tracks geofence sessions currently running.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parkpal_active_sessions",
			Help: "Number of active geofence sessions",
		},
	)

	// EvaluationLatency measures one evaluation cycle including its side effects.
	EvaluationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "parkpal_geofence_evaluation_seconds",
			Help:    "Geofence evaluation latency including notification side effects",
			Buckets: prometheus.DefBuckets,
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parkpal_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
