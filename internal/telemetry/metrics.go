package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ValidationsTotal counts classified transmission events by outcome
	// and traffic class.
	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heimdall",
		Name:      "validations_total",
		Help:      "Transmission validations by outcome and traffic class.",
	}, []string{"outcome", "traffic_class"})

	// ViolationMagnitudeSeconds observes how far off-schedule violating
	// transmissions landed.
	ViolationMagnitudeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "heimdall",
		Name:      "violation_magnitude_seconds",
		Help:      "Distance from the offending class's own window edge.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
	})

	// ScheduleSwapsTotal counts admin-to-oper schedule handoffs.
	ScheduleSwapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "heimdall",
		Name:      "schedule_swaps_total",
		Help:      "Gate control list swaps installed on the scheduler.",
	})

	// LatencySamplesTotal counts switching latency samples collected.
	LatencySamplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "heimdall",
		Name:      "latency_samples_total",
		Help:      "Gate switching latency samples collected.",
	})

	// ActiveRuns tracks validation runs currently executing.
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "heimdall",
		Name:      "active_runs",
		Help:      "Validation runs currently in progress.",
	})

	// APIRequestsTotal counts HTTP API requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heimdall",
		Name:      "api_requests_total",
		Help:      "HTTP requests by method, endpoint and status.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP handler latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "heimdall",
		Name:      "api_request_duration_seconds",
		Help:      "HTTP handler duration by method, endpoint and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "heimdall",
		Name:      "api_active_connections",
		Help:      "API requests currently being served.",
	})

	// APIWebSocketConnections tracks open event stream sockets.
	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "heimdall",
		Name:      "api_websocket_connections",
		Help:      "Open event stream WebSocket connections.",
	})

	// DatabaseQueryDuration observes gorm operation latency.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "heimdall",
		Name:      "db_query_duration_seconds",
		Help:      "Database operation duration by operation and table.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "heimdall",
		Name:      "db_errors_total",
		Help:      "Database errors by operation and error type.",
	}, []string{"operation", "error_type"})

	// DatabaseConnectionsActive tracks open connections in the pool.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "heimdall",
		Name:      "db_connections_active",
		Help:      "Open database connections.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
