package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics tracks the committed log and its live subscribers.
type StreamMetrics struct {
	committed   *prometheus.CounterVec
	subscribers prometheus.Gauge
	dropped     prometheus.Counter
}

var (
	streamMetricsOnce sync.Once
	streamRegistry    *StreamMetrics
)

// LogStream returns the process-wide log stream metrics.
func LogStream() *StreamMetrics {
	streamMetricsOnce.Do(func() {
		streamRegistry = &StreamMetrics{
			committed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tkt",
				Subsystem: "log",
				Name:      "records_committed_total",
				Help:      "Committed log records by record type.",
			}, []string{"type"}),
			subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tkt",
				Subsystem: "log",
				Name:      "stream_subscribers",
				Help:      "Live log stream subscribers.",
			}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tkt",
				Subsystem: "log",
				Name:      "stream_dropped_total",
				Help:      "Records not delivered to a subscriber whose buffer was full.",
			}),
		}
		prometheus.MustRegister(streamRegistry.committed, streamRegistry.subscribers, streamRegistry.dropped)
	})
	return streamRegistry
}

// RecordCommitted counts one committed record of recordType.
func (m *StreamMetrics) RecordCommitted(recordType string) {
	if m == nil {
		return
	}
	recordType = strings.TrimSpace(recordType)
	if recordType == "" {
		recordType = "unknown"
	}
	m.committed.WithLabelValues(recordType).Inc()
}

// SetSubscribers reports the current number of live subscribers.
func (m *StreamMetrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// RecordDropped counts a record skipped for a slow subscriber.
func (m *StreamMetrics) RecordDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
