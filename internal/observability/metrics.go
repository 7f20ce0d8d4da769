package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for receiver frames.
const (
	OutcomeAcked       = "acked"
	OutcomeMalformed   = "malformed"
	OutcomeMismatch    = "digest_mismatch"
	OutcomeStoreFailed = "store_failed"
	OutcomeObserved    = "observed"
	OutcomeReplied     = "replied"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsharness",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"role", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wsharness",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "method", "path", "status"},
	)
	activeConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "wsharness",
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Open websocket sessions.",
		},
		[]string{"role"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsharness",
			Subsystem: "ws",
			Name:      "frames_total",
			Help:      "Inbound frames by handling outcome.",
		},
		[]string{"role", "outcome"},
	)
	storeWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsharness",
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Content store writes.",
		},
		[]string{"success"},
	)
	storeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wsharness",
			Subsystem: "store",
			Name:      "write_duration_seconds",
			Help:      "Content store write duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"success"},
	)
	storeBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wsharness",
			Subsystem: "store",
			Name:      "bytes_total",
			Help:      "Bytes persisted by successful store writes.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			activeConnections, frames,
			storeWrites, storeDuration, storeBytes,
		)
	})
}

func RecordHTTPRequest(role, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(role, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(role, method, path, statusLabel).Observe(duration.Seconds())
}

func ConnectionOpened(role string) {
	RegisterMetrics()
	activeConnections.WithLabelValues(role).Inc()
}

func ConnectionClosed(role string) {
	RegisterMetrics()
	activeConnections.WithLabelValues(role).Dec()
}

func RecordFrame(role, outcome string) {
	RegisterMetrics()
	frames.WithLabelValues(role, outcome).Inc()
}

func RecordStoreWrite(size int, duration time.Duration, success bool) {
	RegisterMetrics()
	successLabel := strconv.FormatBool(success)
	storeWrites.WithLabelValues(successLabel).Inc()
	storeDuration.WithLabelValues(successLabel).Observe(duration.Seconds())
	if success {
		storeBytes.Add(float64(size))
	}
}
