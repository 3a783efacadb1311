package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Metrics variables - these will be initialized by InitMetrics
	EchoRequestsTotal       *prometheus.CounterVec
	EchoRequestDuration     *prometheus.HistogramVec
	BodySizeBytes           *prometheus.HistogramVec
	KVOperationsTotal       *prometheus.CounterVec
	KVOperationDuration     *prometheus.HistogramVec
	ErrorsTotal             *prometheus.CounterVec
	RateLimitExceeded       *prometheus.CounterVec
	ConsoleMessagesTotal    *prometheus.CounterVec
	CircuitBreakerStateInfo *prometheus.GaugeVec
)

// InitMetrics initializes metrics with a specific registry
func InitMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		return fmt.Errorf("registry cannot be nil")
	}

	factory := promauto.With(reg)

	EchoRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_requests_total",
			Help: "Total number of requests echoed",
		},
		[]string{"method", "status", "branch"},
	)

	EchoRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "echo_request_duration_seconds",
			Help:    "Duration of echo requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"branch"},
	)

	BodySizeBytes = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "echo_body_size_bytes",
			Help: "Size of request bodies in bytes",
			Buckets: []float64{
				0, 100, 500, 1000, 5000, 10000, 50000, 100000,
			},
		},
		[]string{"method"},
	)

	KVOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_kv_operations_total",
			Help: "Total number of key-value store operations",
		},
		[]string{"op", "status"},
	)

	KVOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "echo_kv_operation_duration_seconds",
			Help:    "Duration of key-value store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	ErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"type"},
	)

	RateLimitExceeded = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_rate_limit_exceeded_total",
			Help: "Total number of requests that exceeded rate limits",
		},
		[]string{"type"},
	)

	ConsoleMessagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "echo_console_messages_total",
			Help: "Console messages emitted, by level and publish status",
		},
		[]string{"level", "status"},
	)

	CircuitBreakerStateInfo = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "echo_console_circuit_state",
			Help: "Current state of the console publisher circuit breaker (1 for the active state)",
		},
		[]string{"state"},
	)

	return nil
}

// Helper functions for recording metrics. They are no-ops until InitMetrics
// has run, so packages can be exercised without a registry.

// methodLabel folds any non-standard method into "other" so clients cannot
// mint new series by inventing verbs.
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
		http.MethodConnect, http.MethodTrace:
		return method
	default:
		return "other"
	}
}

// RecordRequest records a completed echo request
func RecordRequest(method, status, branch string, seconds float64) {
	if EchoRequestsTotal == nil {
		return
	}
	EchoRequestsTotal.WithLabelValues(methodLabel(method), status, branch).Inc()
	EchoRequestDuration.WithLabelValues(branch).Observe(seconds)
}

// RecordBodySize records the size of a request body
func RecordBodySize(method string, sizeBytes int) {
	if BodySizeBytes == nil {
		return
	}
	BodySizeBytes.WithLabelValues(methodLabel(method)).Observe(float64(sizeBytes))
}

// RecordKVOperation records the outcome and latency of a store call
func RecordKVOperation(op string, err error, seconds float64) {
	if KVOperationsTotal == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	KVOperationsTotal.WithLabelValues(op, status).Inc()
	KVOperationDuration.WithLabelValues(op).Observe(seconds)
}

// RecordError increments the error counter for the given type
func RecordError(errorType string) {
	if ErrorsTotal == nil {
		return
	}
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordRateLimited increments the rate limit counter for the given limiter type
func RecordRateLimited(limiterType string) {
	if RateLimitExceeded == nil {
		return
	}
	RateLimitExceeded.WithLabelValues(limiterType).Inc()
}

// RecordConsoleMessage records an emitted console message
func RecordConsoleMessage(level, status string) {
	if ConsoleMessagesTotal == nil {
		return
	}
	ConsoleMessagesTotal.WithLabelValues(level, status).Inc()
}

// RecordCircuitState marks state as the active circuit breaker state
func RecordCircuitState(active string, states ...string) {
	if CircuitBreakerStateInfo == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == active {
			v = 1
		}
		CircuitBreakerStateInfo.WithLabelValues(s).Set(v)
	}
}
