package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Capsule-API Metrics
var (
	// Request counters
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capsule",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// Request duration histogram
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "capsule",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "endpoint"},
	)

	// Publish outcomes by terminal pipeline state
	PublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capsule",
			Subsystem: "api",
			Name:      "publishes_total",
			Help:      "Total publish attempts by terminal state",
		},
		[]string{"state"},
	)

	// Published bundle bytes
	PublishBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "capsule",
			Subsystem: "api",
			Name:      "publish_bytes_total",
			Help:      "Total bundle bytes accepted",
		},
	)

	// Classifier verdicts
	ClassifierVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capsule",
			Subsystem: "api",
			Name:      "classifier_verdicts_total",
			Help:      "Safety classifier verdicts",
		},
		[]string{"action"},
	)

	// Blob store operations
	BlobOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capsule",
			Subsystem: "api",
			Name:      "blob_operations_total",
			Help:      "Total blob store operations",
		},
		[]string{"operation", "status"},
	)

	// Blob operation duration
	BlobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "capsule",
			Subsystem: "api",
			Name:      "blob_duration_seconds",
			Help:      "Blob store operation duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	// Quota CAS retries
	QuotaRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "capsule",
			Subsystem: "api",
			Name:      "quota_cas_retries_total",
			Help:      "Optimistic quota reservation retries",
		},
	)

	// Compile outcomes
	CompilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "capsule",
			Subsystem: "api",
			Name:      "compiles_total",
			Help:      "Runtime artifact compilations",
		},
		[]string{"type", "status"},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

// RecordPublish records a publish attempt's terminal state
func RecordPublish(state string, bytes int64) {
	PublishesTotal.WithLabelValues(state).Inc()
	if state == "committed" {
		PublishBytesTotal.Add(float64(bytes))
	}
}

// RecordVerdict records a classifier verdict
func RecordVerdict(action string) {
	ClassifierVerdictsTotal.WithLabelValues(action).Inc()
}

// RecordBlobOperation records a blob store operation
func RecordBlobOperation(operation, status string, durationSec float64) {
	BlobOperationsTotal.WithLabelValues(operation, status).Inc()
	BlobDuration.WithLabelValues(operation).Observe(durationSec)
}

// RecordCompile records a compilation outcome
func RecordCompile(artifactType, status string) {
	CompilesTotal.WithLabelValues(artifactType, status).Inc()
}
