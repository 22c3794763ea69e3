package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks seller payouts and clawbacks.
type SettlementMetrics struct {
	outcomes      *prometheus.CounterVec
	netPaid       prometheus.Counter
	feesCollected prometheus.Counter
	shortfalls    prometheus.Counter
	sweepDuration prometheus.Histogram
	stalled       prometheus.Counter
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	m := &SettlementMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "outcomes_total",
			Help:      "Settlement attempts by path and outcome.",
		}, []string{"path", "outcome"}),
		netPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "net_paid_minor_units_total",
			Help:      "Net amount credited to sellers in minor currency units.",
		}),
		feesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "fees_minor_units_total",
			Help:      "Platform fees withheld in minor currency units.",
		}),
		shortfalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "debit_shortfall_minor_units_total",
			Help:      "Debit amounts that exceeded the seller balance and were deferred.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of settlement sweeps in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		stalled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "stalled_orders_total",
			Help:      "Orders whose consecutive settlement failures crossed the alert threshold.",
		}),
	}
	reg.MustRegister(m.outcomes, m.netPaid, m.feesCollected, m.shortfalls, m.sweepDuration, m.stalled)
	return m
}

// ObserveOutcome counts one settlement attempt.
func (m *SettlementMetrics) ObserveOutcome(path, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(path), normalizeLabel(outcome)).Inc()
}

// AddPaid records the fee and net split of a successful settlement.
func (m *SettlementMetrics) AddPaid(net, fee int64) {
	if m == nil || m.netPaid == nil {
		return
	}
	if net > 0 {
		m.netPaid.Add(float64(net))
	}
	if fee > 0 {
		m.feesCollected.Add(float64(fee))
	}
}

// AddShortfall records an uncovered debit amount.
func (m *SettlementMetrics) AddShortfall(amount int64) {
	if m == nil || m.shortfalls == nil || amount <= 0 {
		return
	}
	m.shortfalls.Add(float64(amount))
}

// ObserveSweep records the duration of one sweep.
func (m *SettlementMetrics) ObserveSweep(duration time.Duration) {
	if m == nil || m.sweepDuration == nil {
		return
	}
	m.sweepDuration.Observe(duration.Seconds())
}

// IncStalled counts an order that crossed the failure threshold.
func (m *SettlementMetrics) IncStalled() {
	if m == nil || m.stalled == nil {
		return
	}
	m.stalled.Inc()
}
