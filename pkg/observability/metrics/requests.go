package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Unmatched is the operation label of requests the router did not dispatch.
const Unmatched = "unmatched"

// RequestMetrics holds the request instruments. Labels are bounded: the
// operation is a registered route target, never a raw path.
type RequestMetrics struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
	inFlight prometheus.Gauge
	rejected *prometheus.CounterVec
}

// NewRequestMetrics registers the request instruments with reg.
func NewRequestMetrics(reg prometheus.Registerer) *RequestMetrics {
	factory := promauto.With(reg)
	return &RequestMetrics{
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rpc_request_duration_seconds",
				Help:    "RPC request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"protocol", "operation", "status"},
		),
		total: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_requests_total",
				Help: "Total number of RPC requests",
			},
			[]string{"protocol", "operation", "status"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rpc_requests_in_flight",
				Help: "Current number of RPC requests being processed",
			},
		),
		rejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_requests_rejected_total",
				Help: "Requests refused because the pipeline was not ready",
			},
			[]string{"protocol"},
		),
	}
}

// Observe records one completed request.
func (m *RequestMetrics) Observe(protocol, operation string, status int, duration time.Duration) {
	if operation == "" {
		operation = Unmatched
	}
	statusStr := strconv.Itoa(status)
	m.duration.WithLabelValues(protocol, operation, statusStr).Observe(duration.Seconds())
	m.total.WithLabelValues(protocol, operation, statusStr).Inc()
}

// IncrementInFlight increments the in-flight requests gauge.
func (m *RequestMetrics) IncrementInFlight() {
	m.inFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests gauge.
func (m *RequestMetrics) DecrementInFlight() {
	m.inFlight.Dec()
}

// Rejected counts a request refused for backpressure.
func (m *RequestMetrics) Rejected(protocol string) {
	m.rejected.WithLabelValues(protocol).Inc()
}
