// Package metrics exposes prometheus instrumentation for the ledger core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger's prometheus collectors.
type Metrics struct {
	settlementsTotal     *prometheus.CounterVec
	ledgerEntriesTotal   *prometheus.CounterVec
	rejectedOpsTotal     *prometheus.CounterVec
	unlockUnderflowTotal prometheus.Counter
	betsSettledTotal     prometheus.Counter
}

// New registers and returns the ledger metrics set.
func New() *Metrics {
	return &Metrics{
		settlementsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arena_ledger",
				Subsystem: "settlement",
				Name:      "settlements_total",
				Help:      "Total settlements partitioned by domain and outcome.",
			},
			[]string{"domain", "outcome"},
		),
		ledgerEntriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arena_ledger",
				Subsystem: "ledger",
				Name:      "entries_total",
				Help:      "Total ledger entries written partitioned by provider.",
			},
			[]string{"provider"},
		),
		rejectedOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "arena_ledger",
				Subsystem: "wallet",
				Name:      "rejected_operations_total",
				Help:      "Wallet operations rejected at the boundary, by reason.",
			},
			[]string{"reason"},
		),
		unlockUnderflowTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "arena_ledger",
				Subsystem: "wallet",
				Name:      "unlock_underflow_total",
				Help:      "Unlock calls clamped at zero; signals a bookkeeping bug upstream.",
			},
		),
		betsSettledTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "arena_ledger",
				Subsystem: "settlement",
				Name:      "bets_settled_total",
				Help:      "Total individual bets settled across all batches.",
			},
		),
	}
}

// SettlementCompleted records a finished settlement for a domain
// ("challenge", "bet_batch") with its outcome.
func (m *Metrics) SettlementCompleted(domain, outcome string) {
	if m == nil {
		return
	}
	m.settlementsTotal.WithLabelValues(domain, outcome).Inc()
}

// EntryWritten records a ledger entry insert.
func (m *Metrics) EntryWritten(provider string) {
	if m == nil {
		return
	}
	m.ledgerEntriesTotal.WithLabelValues(provider).Inc()
}

// OperationRejected records a wallet operation rejected at the boundary
// ("insufficient_funds", "invalid_amount", "duplicate_txid").
func (m *Metrics) OperationRejected(reason string) {
	if m == nil {
		return
	}
	m.rejectedOpsTotal.WithLabelValues(reason).Inc()
}

// UnlockUnderflow records an unlock clamped at zero.
func (m *Metrics) UnlockUnderflow() {
	if m == nil {
		return
	}
	m.unlockUnderflowTotal.Inc()
}

// BetsSettled records n bets settled in a batch.
func (m *Metrics) BetsSettled(n int) {
	if m == nil {
		return
	}
	m.betsSettledTotal.Add(float64(n))
}
