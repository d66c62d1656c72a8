package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersTransitioned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketmint_order_transitions_total",
			Help: "Order status transitions",
		},
		[]string{"to"},
	)

	TicketsMinted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketmint_tickets_minted_total",
			Help: "Ticket rows recorded after a ledger mint",
		},
	)

	LedgerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketmint_ledger_calls_total",
			Help: "Ledger calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	LedgerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketmint_ledger_call_duration_seconds",
			Help:    "Ledger call latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"op"},
	)

	Settlements = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketmint_settlements_total",
			Help: "Payment distributions recorded",
		},
	)

	ListingsSold = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketmint_listings_sold_total",
			Help: "Listings transitioned to SOLD",
		},
	)

	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketmint_reconcile_items_total",
			Help: "Items processed by the reconciliation watcher",
		},
		[]string{"stage", "outcome"},
	)
)

// Outcome labels a ledger or reconcile result for the counters above.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
