// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains every Prometheus metric the proxy exposes.
type Metrics struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPResponseSize     *prometheus.HistogramVec

	// Codec Metrics
	CodecOperationsTotal   *prometheus.CounterVec
	CodecOperationDuration *prometheus.HistogramVec
	CodecBytesTotal        *prometheus.CounterVec
	CodecAuthFailuresTotal prometheus.Counter

	// Upstream Metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec

	// Write-once Metrics
	WriteOnceAcquiredTotal prometheus.Counter
	WriteOnceDeniedTotal   prometheus.Counter
	WriteOnceReleasedTotal prometheus.Counter
	WriteOnceDegradedTotal prometheus.Counter

	// Signature Metrics
	SignatureVerificationsTotal *prometheus.CounterVec

	// Keyring Metrics
	KeyringOperationsTotal *prometheus.CounterVec

	// Rate Limiting Metrics
	RateLimitedRequests *prometheus.CounterVec
}

const namespace = "cipherproxy"

// New creates and registers every Prometheus metric.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed.",
			},
		),
		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "response_size_bytes",
				Help:      "HTTP response size in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		CodecOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "codec",
				Name:      "operations_total",
				Help:      "Total number of encrypt/decrypt codec operations.",
			},
			[]string{"operation", "status"},
		),
		CodecOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "codec",
				Name:      "operation_duration_seconds",
				Help:      "Codec operation duration in seconds.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		CodecBytesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "codec",
				Name:      "bytes_total",
				Help:      "Total plaintext bytes processed by the codec.",
			},
			[]string{"operation"},
		),
		CodecAuthFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "codec",
				Name:      "auth_failures_total",
				Help:      "Total number of AEAD authentication failures during decode.",
			},
		),

		UpstreamRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Total number of requests forwarded to the upstream backend.",
			},
			[]string{"method", "status"},
		),
		UpstreamRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "request_duration_seconds",
				Help:      "Upstream round-trip duration in seconds.",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method"},
		),

		WriteOnceAcquiredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "writeonce",
				Name:      "acquired_total",
				Help:      "Total number of write-once locks successfully acquired.",
			},
		),
		WriteOnceDeniedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "writeonce",
				Name:      "denied_total",
				Help:      "Total number of requests denied because the URL was already consumed.",
			},
		),
		WriteOnceReleasedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "writeonce",
				Name:      "released_total",
				Help:      "Total number of write-once locks released after a non-success response.",
			},
		),
		WriteOnceDegradedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "writeonce",
				Name:      "degraded_total",
				Help:      "Total number of requests served without write-once enforcement due to a coordination-store error.",
			},
		),

		SignatureVerificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "signature",
				Name:      "verifications_total",
				Help:      "Total number of inbound SigV4 verification attempts.",
			},
			[]string{"mode", "result"},
		),

		KeyringOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keyring",
				Name:      "operations_total",
				Help:      "Total number of keyring operations.",
			},
			[]string{"operation", "status"},
		),

		RateLimitedRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "requests_total",
				Help:      "Total number of rate limited requests.",
			},
			[]string{"limit_type"},
		),
	}

	return m
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64, size int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
}

// RecordCodecOperation records an encrypt or decrypt codec operation.
func (m *Metrics) RecordCodecOperation(operation, status string, duration float64, bytes int64) {
	m.CodecOperationsTotal.WithLabelValues(operation, status).Inc()
	m.CodecOperationDuration.WithLabelValues(operation).Observe(duration)
	if bytes > 0 {
		m.CodecBytesTotal.WithLabelValues(operation).Add(float64(bytes))
	}
}

// RecordCodecAuthFailure records an AEAD authentication failure.
func (m *Metrics) RecordCodecAuthFailure() {
	m.CodecAuthFailuresTotal.Inc()
}

// RecordUpstreamRequest records a round trip to the upstream backend.
func (m *Metrics) RecordUpstreamRequest(method, status string, duration float64) {
	m.UpstreamRequestsTotal.WithLabelValues(method, status).Inc()
	m.UpstreamRequestDuration.WithLabelValues(method).Observe(duration)
}

// RecordWriteOnceAcquired records a newly acquired write-once lock.
func (m *Metrics) RecordWriteOnceAcquired() {
	m.WriteOnceAcquiredTotal.Inc()
}

// RecordWriteOnceDenied records a request denied by the write-once guard.
func (m *Metrics) RecordWriteOnceDenied() {
	m.WriteOnceDeniedTotal.Inc()
}

// RecordWriteOnceReleased records a lock released after a non-success response.
func (m *Metrics) RecordWriteOnceReleased() {
	m.WriteOnceReleasedTotal.Inc()
}

// RecordWriteOnceDegraded records a request served without enforcement due
// to a coordination-store error.
func (m *Metrics) RecordWriteOnceDegraded() {
	m.WriteOnceDegradedTotal.Inc()
}

// RecordSignatureVerification records an inbound SigV4 verification outcome.
func (m *Metrics) RecordSignatureVerification(mode, result string) {
	m.SignatureVerificationsTotal.WithLabelValues(mode, result).Inc()
}

// RecordKeyringOperation records a keyring load or add-key operation.
func (m *Metrics) RecordKeyringOperation(operation, status string) {
	m.KeyringOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordRateLimited records a rate limited request.
func (m *Metrics) RecordRateLimited(limitType string) {
	m.RateLimitedRequests.WithLabelValues(limitType).Inc()
}
