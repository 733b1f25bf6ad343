package metrics

import (
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type TicketingMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	custodied  prometheus.Gauge
	held       prometheus.Gauge
	paused     *prometheus.GaugeVec
}

var (
	ticketingOnce     sync.Once
	ticketingRegistry *TicketingMetrics
)

func Ticketing() *TicketingMetrics {
	ticketingOnce.Do(func() {
		ticketingRegistry = &TicketingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "tkt_operations_total",
				Help: "Count of state operations by name and outcome class.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "tkt_operation_duration_seconds",
				Help:    "Latency of state operations including commit.",
				Buckets: prometheus.DefBuckets,
			}, []string{"operation"}),
			custodied: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "tkt_escrow_custodied",
				Help: "Funds received by the escrow ledger and not paid out, in base units.",
			}),
			held: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "tkt_escrow_held",
				Help: "Funds held against sold tickets, in base units.",
			}),
			paused: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "tkt_module_paused",
				Help: "Whether a module is paused (1) or running (0).",
			}, []string{"module"}),
		}
		prometheus.MustRegister(
			ticketingRegistry.operations,
			ticketingRegistry.latency,
			ticketingRegistry.custodied,
			ticketingRegistry.held,
			ticketingRegistry.paused,
		)
	})
	return ticketingRegistry
}

// ObserveOperation records one operation. outcome is "ok" or the error class
// label supplied by the caller.
func (m *TicketingMetrics) ObserveOperation(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *TicketingMetrics) SetEscrowTotals(custodied, held *big.Int) {
	if m == nil {
		return
	}
	m.custodied.Set(bigToFloat(custodied))
	m.held.Set(bigToFloat(held))
}

func (m *TicketingMetrics) SetPaused(module string, paused bool) {
	if m == nil {
		return
	}
	value := 0.0
	if paused {
		value = 1
	}
	m.paused.WithLabelValues(module).Set(value)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
