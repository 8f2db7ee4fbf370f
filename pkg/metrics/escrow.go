package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transition outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// EscrowMetrics covers the custody and dispute engines.
type EscrowMetrics struct {
	transitions  *prometheus.CounterVec
	casConflicts *prometheus.CounterVec
	payouts      *prometheus.CounterVec
	chainLatency *prometheus.HistogramVec
}

func NewEscrowMetrics(reg prometheus.Registerer) *EscrowMetrics {
	if reg == nil {
		return &EscrowMetrics{}
	}
	m := &EscrowMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_transitions_total",
			Help:      "Deposit and dispute operations by outcome.",
		}, []string{"operation", "outcome"}),
		casConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_version_conflicts_total",
			Help:      "Optimistic version conflicts observed by operation.",
		}, []string{"operation"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_payouts_total",
			Help:      "Payout settlement attempts by result.",
		}, []string{"result"}),
		chainLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chain_call_duration_seconds",
			Help:      "Latency of custody chain calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"call"}),
	}
	reg.MustRegister(m.transitions, m.casConflicts, m.payouts, m.chainLatency)
	return m
}

func (m *EscrowMetrics) Transition(operation, outcome string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

func (m *EscrowMetrics) VersionConflict(operation string) {
	if m == nil || m.casConflicts == nil {
		return
	}
	m.casConflicts.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *EscrowMetrics) Payout(result string) {
	if m == nil || m.payouts == nil {
		return
	}
	m.payouts.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *EscrowMetrics) ObserveChainCall(call string, d time.Duration) {
	if m == nil || m.chainLatency == nil {
		return
	}
	m.chainLatency.WithLabelValues(normalizeLabel(call)).Observe(d.Seconds())
}
