package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RPCMetrics records JSON-RPC traffic per namespace (tkt, escrow, log) and
// method, plus requests rejected by throttling.
type RPCMetrics struct {
	calls     *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttled *prometheus.CounterVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *RPCMetrics
)

// RPC returns the process-wide JSON-RPC metrics.
func RPC() *RPCMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &RPCMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tkt",
				Subsystem: "rpc",
				Name:      "calls_total",
				Help:      "JSON-RPC calls by namespace, method and outcome.",
			}, []string{"namespace", "method", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tkt",
				Subsystem: "rpc",
				Name:      "failures_total",
				Help:      "Failed JSON-RPC calls by namespace, method and HTTP status.",
			}, []string{"namespace", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tkt",
				Subsystem: "rpc",
				Name:      "call_duration_seconds",
				Help:      "JSON-RPC handler latency.",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			}, []string{"namespace", "method"}),
			throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tkt",
				Subsystem: "rpc",
				Name:      "throttled_total",
				Help:      "Requests rejected by the rate limiter by route.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(rpcRegistry.calls, rpcRegistry.failures, rpcRegistry.latency, rpcRegistry.throttled)
	})
	return rpcRegistry
}

// ObserveCall records one JSON-RPC call. status is the HTTP status written to
// the client; anything at or above 400 counts as a failure.
func (m *RPCMetrics) ObserveCall(namespace, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if namespace == "" {
		namespace = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "ok"
	if status >= 400 {
		outcome = "error"
		m.failures.WithLabelValues(namespace, method, strconv.Itoa(status)).Inc()
	}
	m.calls.WithLabelValues(namespace, method, outcome).Inc()
	m.latency.WithLabelValues(namespace, method).Observe(d.Seconds())
}

// RecordThrottle counts a request on route rejected by the rate limiter.
func (m *RPCMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttled.WithLabelValues(route).Inc()
}
