// Package metrics exposes Prometheus instruments for the settlement pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Purchase outcomes, kept low-cardinality.
const (
	PurchaseOutcomeSettled            = "settled"
	PurchaseOutcomeAlreadyProcessed   = "already_processed"
	PurchaseOutcomeInProgress         = "in_progress"
	PurchaseOutcomeUnderReview        = "under_review"
	PurchaseOutcomeVerificationFailed = "verification_failed"
	PurchaseOutcomeAmountMismatch     = "amount_mismatch"
	PurchaseOutcomeGatewayUnreachable = "gateway_unreachable"
	PurchaseOutcomeRateLimited        = "rate_limited"
	PurchaseOutcomeInvalid            = "invalid"
	PurchaseOutcomePartialCommit      = "partial_commit"
	PurchaseOutcomeFailed             = "failed"
)

// SettlementMetrics holds the service's collectors. A nil *SettlementMetrics is valid
// and records nothing.
type SettlementMetrics struct {
	purchases           *prometheus.CounterVec
	settlementDuration  prometheus.Histogram
	gatewayLatency      *prometheus.HistogramVec
	reconciliationFlags *prometheus.CounterVec
	openFlags           prometheus.Gauge
	ticketUsage         *prometheus.CounterVec
	withdrawals         *prometheus.CounterVec
	staleReservations   prometheus.Counter
}

// New registers the collectors on registerer (prometheus.DefaultRegisterer when nil).
func New(registerer prometheus.Registerer) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &SettlementMetrics{
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_purchases_total",
			Help: "Purchase requests by outcome.",
		}, []string{"outcome"}),
		settlementDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "settlement_transaction_duration_seconds",
			Help:    "Duration of the settlement database transaction.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payment_gateway_verify_duration_seconds",
			Help:    "Payment gateway verification latency by result.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"result"}),
		reconciliationFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_reconciliation_flags_total",
			Help: "Settlements flagged for reconciliation by failing stage.",
		}, []string{"stage"}),
		openFlags: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_reconciliation_flags_open",
			Help: "Reconciliation flags awaiting review.",
		}),
		ticketUsage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_usage_scans_total",
			Help: "Ticket scans by result.",
		}, []string{"result"}),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawal_transitions_total",
			Help: "Withdrawal request transitions by status.",
		}, []string{"status"}),
		staleReservations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payment_reservations_expired_total",
			Help: "Abandoned payment reservations released by the sweep.",
		}),
	}

	registerer.MustRegister(
		m.purchases,
		m.settlementDuration,
		m.gatewayLatency,
		m.reconciliationFlags,
		m.openFlags,
		m.ticketUsage,
		m.withdrawals,
		m.staleReservations,
	)
	return m
}

func (m *SettlementMetrics) ObservePurchase(outcome string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(outcome).Inc()
}

func (m *SettlementMetrics) ObserveSettlement(d time.Duration) {
	if m == nil {
		return
	}
	m.settlementDuration.Observe(d.Seconds())
}

func (m *SettlementMetrics) ObserveGatewayVerify(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(result).Observe(d.Seconds())
}

func (m *SettlementMetrics) ObserveReconciliationFlag(stage string) {
	if m == nil {
		return
	}
	m.reconciliationFlags.WithLabelValues(stage).Inc()
}

func (m *SettlementMetrics) SetOpenReconciliationFlags(count int) {
	if m == nil {
		return
	}
	m.openFlags.Set(float64(count))
}

func (m *SettlementMetrics) ObserveTicketUsage(result string) {
	if m == nil {
		return
	}
	m.ticketUsage.WithLabelValues(result).Inc()
}

func (m *SettlementMetrics) ObserveWithdrawal(status string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(status).Inc()
}

func (m *SettlementMetrics) AddExpiredReservations(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.staleReservations.Add(float64(n))
}
