package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Stock reservation outcomes.
const (
	OutcomeReserved     = "reserved"
	OutcomeShortfall    = "shortfall"
	OutcomeIdempotent   = "idempotent"
	OutcomeRejected     = "rejected"
	OutcomeTransferMade = "transfer_originated"
)

// WorkflowMetrics counts what the workflow engine does to stock and state.
// A nil *WorkflowMetrics is valid and records nothing.
type WorkflowMetrics struct {
	allocations     *prometheus.CounterVec
	pickups         *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	txRetries       prometheus.Counter
	busy            prometheus.Counter
	invariantBroken prometheus.Gauge
	staleReserved   prometheus.Gauge
	deadLetters     *prometheus.GaugeVec
}

func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	if reg == nil {
		return nil
	}
	m := &WorkflowMetrics{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Case line allocation attempts by outcome.",
		}, []string{"outcome"}),
		pickups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_pickups_total",
			Help:      "Reservation pickups by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Accepted state transitions by entity and target state.",
		}, []string{"entity", "to"}),
		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_lock_retries_total",
			Help:      "Transactions re-run after losing a lock race.",
		}),
		busy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_busy_total",
			Help:      "Operations that gave up with BUSY.",
		}),
		invariantBroken: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stock_rows_invariant_violations",
			Help:      "Stock rows violating 0 <= reserved <= in_stock at the last audit.",
		}),
		staleReserved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stale_reservations",
			Help:      "Reservations still RESERVED past the configured age.",
		}),
		deadLetters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_dead_letters",
			Help:      "Events dead-lettered within the report window, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.allocations, m.pickups, m.transitions, m.txRetries, m.busy, m.invariantBroken, m.staleReserved, m.deadLetters)
	return m
}

func (m *WorkflowMetrics) ObserveAllocation(outcome string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *WorkflowMetrics) ObservePickup(outcome string) {
	if m == nil {
		return
	}
	m.pickups.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *WorkflowMetrics) ObserveTransition(entity, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(entity), normalizeLabel(to)).Inc()
}

// ObserveRetry implements db.RetryObserver.
func (m *WorkflowMetrics) ObserveRetry(context.Context, int) {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

// ObserveBusy implements db.RetryObserver.
func (m *WorkflowMetrics) ObserveBusy(context.Context) {
	if m == nil {
		return
	}
	m.busy.Inc()
}

func (m *WorkflowMetrics) SetInvariantViolations(n int) {
	if m == nil {
		return
	}
	m.invariantBroken.Set(float64(n))
}

func (m *WorkflowMetrics) SetStaleReservations(n int) {
	if m == nil {
		return
	}
	m.staleReserved.Set(float64(n))
}

func (m *WorkflowMetrics) SetDeadLetters(reason string, n int64) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(normalizeLabel(reason)).Set(float64(n))
}
