package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts processed provider events by type and outcome
	// (applied, already_settled, order_not_found, ignored, rejected).
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_webhook_events_total",
		Help: "Payment provider webhook events by type and outcome.",
	}, []string{"type", "outcome"})

	// StockVerifications counts cart-line verifications by result.
	StockVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_stock_verifications_total",
		Help: "Stock verification lines by classification.",
	}, []string{"result"})

	// ReservationConflicts counts checkouts aborted because a unit was
	// taken between verification and reservation.
	ReservationConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_reservation_conflicts_total",
		Help: "Reservations aborted on the atomic stock re-check.",
	})

	// OutboxDispatched counts events relayed to the broker.
	OutboxDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_outbox_dispatched_total",
		Help: "Outbox events dispatched, by event type.",
	}, []string{"type"})
)
