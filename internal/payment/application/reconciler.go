package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	invdomain "github.com/retailcore/checkout-core/internal/inventory/domain"
	orderdomain "github.com/retailcore/checkout-core/internal/order/domain"
	"github.com/retailcore/checkout-core/internal/payment/domain"
	"github.com/retailcore/checkout-core/pkg/metrics"
)

// Outcome is the reconciler's definitive decision for one delivery.
// Everything except an infrastructure error is acknowledged to the
// provider so it stops redelivering.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomeOrderNotFound  Outcome = "order_not_found"
)

const actorWebhook = "payment-webhook"

// Reconciler drives the PENDING -> {SUCCEEDED|FAILED|CANCELLED} order
// state machine from provider events. Each event is handled in one
// transaction whose first statement locks the order row and re-reads
// its status, so a success and an expiry racing for the same order
// converge: whichever commits first wins, the loser is a no-op.
type Reconciler struct {
	log    *slog.Logger
	ledger Ledger
	tracer trace.Tracer
}

func NewReconciler(log *slog.Logger, ledger Ledger) *Reconciler {
	return &Reconciler{
		log:    log,
		ledger: ledger,
		tracer: otel.Tracer("webhook-reconciler"),
	}
}

func (r *Reconciler) Handle(ctx context.Context, ev domain.Event) (Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "ReconcileEvent")
	defer span.End()

	var outcome Outcome
	err := r.ledger.Transact(ctx, func(tx Tx) error {
		o, err := r.lockOrder(ctx, tx, ev)
		if errors.Is(err, orderdomain.ErrOrderNotFound) {
			outcome = OutcomeOrderNotFound
			return nil
		}
		if err != nil {
			return fmt.Errorf("load order for intent %s: %w", ev.CorrelationID(), err)
		}

		switch e := ev.(type) {
		case domain.PaymentSucceeded:
			outcome, err = r.applySuccess(ctx, tx, o, e)
		case domain.PaymentFailed:
			outcome, err = r.applyRelease(ctx, tx, o, releaseParams{
				paymentStatus: orderdomain.PaymentFailed,
				ledgerStatus:  domain.StatusFailed,
				provider:      e.Provider,
				reason:        e.Reason,
				note:          "payment failed: " + e.Reason,
				at:            e.OccurredAt,
			})
		case domain.CheckoutExpired:
			// Double guard: expiry can arrive after, or race with, a
			// success for the same session.
			if o.PaymentStatus == orderdomain.PaymentSucceeded || o.Status == orderdomain.StatusCancelled {
				outcome = OutcomeAlreadySettled
				return nil
			}
			outcome, err = r.applyRelease(ctx, tx, o, releaseParams{
				paymentStatus: orderdomain.PaymentCancelled,
				ledgerStatus:  domain.StatusCancelled,
				provider:      e.Provider,
				reason:        "session expired",
				note:          "checkout session expired without payment",
				at:            e.OccurredAt,
			})
		default:
			// The event set is closed; reaching this is a programming
			// error, not a provider problem.
			return fmt.Errorf("unhandled event type %T", ev)
		}
		return err
	})

	if err != nil {
		metrics.WebhookEvents.WithLabelValues(ev.EventType(), "error").Inc()
		return "", err
	}
	metrics.WebhookEvents.WithLabelValues(ev.EventType(), string(outcome)).Inc()
	r.log.Info("webhook event reconciled", "type", ev.EventType(), "intent_id", ev.CorrelationID(), "outcome", string(outcome))
	return outcome, nil
}

// lockOrder resolves the event to an order row and locks it. The intent
// id is the primary handle; if checkout crashed before recording it, the
// order id the gateway echoes back from the session metadata still
// correlates the delivery, so those reservations are not stranded.
func (r *Reconciler) lockOrder(ctx context.Context, tx Tx, ev domain.Event) (orderdomain.Order, error) {
	o, err := tx.OrderByIntentForUpdate(ctx, ev.CorrelationID())
	if !errors.Is(err, orderdomain.ErrOrderNotFound) {
		return o, err
	}
	ref, perr := uuid.Parse(ev.OrderRef())
	if perr != nil {
		return orderdomain.Order{}, orderdomain.ErrOrderNotFound
	}
	o, err = tx.OrderByIDForUpdate(ctx, ref)
	if err == nil {
		r.log.Warn("order resolved by metadata reference, intent id was never attached",
			"order_id", ref.String(), "intent_id", ev.CorrelationID())
	}
	return o, err
}

func (r *Reconciler) applySuccess(ctx context.Context, tx Tx, o orderdomain.Order, e domain.PaymentSucceeded) (Outcome, error) {
	if o.PaymentStatus == orderdomain.PaymentSucceeded {
		// Redelivery of an event we already applied.
		return OutcomeAlreadySettled, nil
	}
	if o.Status == orderdomain.StatusCancelled {
		// A failure or expiry committed first; terminal states are
		// final, the units are gone back to stock.
		return OutcomeAlreadySettled, nil
	}

	paidAt := orTime(e.OccurredAt)
	units, err := tx.ReservedUnits(ctx, o.ID)
	if err != nil {
		return "", fmt.Errorf("load reserved units: %w", err)
	}
	if err := tx.MarkUnitsSold(ctx, unitIDs(units), paidAt); err != nil {
		return "", fmt.Errorf("mark units sold: %w", err)
	}
	for k, q := range groupByCounter(units) {
		if err := tx.AdjustCounters(ctx, k.variant, k.store, 0, -q, +q); err != nil {
			return "", fmt.Errorf("adjust counters: %w", err)
		}
	}
	if err := tx.ConfirmOrder(ctx, o.ID, paidAt); err != nil {
		return "", fmt.Errorf("confirm order: %w", err)
	}
	if err := tx.AppendPayment(ctx, domain.Payment{
		OrderID:       o.ID,
		AmountCents:   e.AmountCents,
		Provider:      e.Provider,
		ProviderTxnID: e.ProviderTxnID,
		Status:        domain.StatusSucceeded,
		Metadata:      e.Metadata,
		ProcessedAt:   paidAt,
	}); err != nil {
		return "", fmt.Errorf("append payment: %w", err)
	}
	if err := tx.AppendHistory(ctx, transition(o, orderdomain.StatusConfirmed, orderdomain.PaymentSucceeded, "payment succeeded", paidAt)); err != nil {
		return "", fmt.Errorf("append history: %w", err)
	}

	payload, err := json.Marshal(orderdomain.OrderConfirmed{
		OrderID:     o.ID.String(),
		OrderNumber: o.Number,
		StoreID:     o.StoreID.String(),
		TotalCents:  o.TotalCents,
		Currency:    o.Currency,
		PaidAt:      paidAt,
	})
	if err != nil {
		return "", err
	}
	if err := tx.EnqueueOutbox(ctx, o.ID.String(), orderdomain.EventOrderConfirmed, payload); err != nil {
		return "", fmt.Errorf("enqueue outbox: %w", err)
	}
	return OutcomeApplied, nil
}

type releaseParams struct {
	paymentStatus orderdomain.PaymentStatus
	ledgerStatus  domain.Status
	provider      string
	reason        string
	note          string
	at            time.Time
}

// applyRelease unwinds a reservation: order cancelled, units back to
// IN_STOCK, counters restored, ledger rows appended.
func (r *Reconciler) applyRelease(ctx context.Context, tx Tx, o orderdomain.Order, p releaseParams) (Outcome, error) {
	if o.Settled() {
		return OutcomeAlreadySettled, nil
	}

	at := orTime(p.at)
	units, err := tx.ReservedUnits(ctx, o.ID)
	if err != nil {
		return "", fmt.Errorf("load reserved units: %w", err)
	}
	if err := tx.MarkUnitsReleased(ctx, unitIDs(units)); err != nil {
		return "", fmt.Errorf("release units: %w", err)
	}
	for k, q := range groupByCounter(units) {
		if err := tx.AdjustCounters(ctx, k.variant, k.store, +q, -q, 0); err != nil {
			return "", fmt.Errorf("adjust counters: %w", err)
		}
	}
	if err := tx.CancelOrder(ctx, o.ID, p.paymentStatus, at); err != nil {
		return "", fmt.Errorf("cancel order: %w", err)
	}
	if err := tx.AppendPayment(ctx, domain.Payment{
		OrderID:     o.ID,
		AmountCents: o.TotalCents,
		Provider:    p.provider,
		Status:      p.ledgerStatus,
		Reason:      p.reason,
		ProcessedAt: at,
	}); err != nil {
		return "", fmt.Errorf("append payment: %w", err)
	}
	if err := tx.AppendHistory(ctx, transition(o, orderdomain.StatusCancelled, p.paymentStatus, p.note, at)); err != nil {
		return "", fmt.Errorf("append history: %w", err)
	}

	payload, err := json.Marshal(orderdomain.OrderCancelled{
		OrderID:     o.ID.String(),
		OrderNumber: o.Number,
		Reason:      p.reason,
	})
	if err != nil {
		return "", err
	}
	if err := tx.EnqueueOutbox(ctx, o.ID.String(), orderdomain.EventOrderCancelled, payload); err != nil {
		return "", fmt.Errorf("enqueue outbox: %w", err)
	}
	return OutcomeApplied, nil
}

type counterKey struct{ variant, store uuid.UUID }

func groupByCounter(units []invdomain.UnitRef) map[counterKey]int {
	out := make(map[counterKey]int, len(units))
	for _, u := range units {
		out[counterKey{u.VariantID, u.StoreID}]++
	}
	return out
}

func unitIDs(units []invdomain.UnitRef) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(units))
	for _, u := range units {
		ids = append(ids, u.ID)
	}
	return ids
}

func transition(o orderdomain.Order, to orderdomain.Status, toPay orderdomain.PaymentStatus, note string, at time.Time) orderdomain.HistoryEntry {
	return orderdomain.HistoryEntry{
		OrderID:           o.ID,
		Actor:             actorWebhook,
		FromStatus:        o.Status,
		ToStatus:          to,
		FromPaymentStatus: o.PaymentStatus,
		ToPaymentStatus:   toPay,
		Note:              note,
		CreatedAt:         at,
	}
}

func orTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
