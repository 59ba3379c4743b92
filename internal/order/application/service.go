package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/retailcore/checkout-core/internal/order/domain"
	"github.com/retailcore/checkout-core/pkg/metrics"
)

var (
	// ErrGatewayUnavailable marks a synchronous payment-processor
	// failure. The reservation stays in place; the provider's session
	// expiry releases it if the client never retries.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrInvalidDraft marks a caller mistake, as opposed to an
	// infrastructure failure.
	ErrInvalidDraft = errors.New("invalid order draft")
)

const actorCheckout = "checkout"

type Draft struct {
	StoreID  uuid.UUID
	Currency string
	Lines    []DraftLine
}

type DraftLine struct {
	VariantID   uuid.UUID
	ColorID     uuid.UUID
	StoreID     uuid.UUID
	Quantity    int
	Designation string
}

type Service struct {
	log     *slog.Logger
	ledger  Ledger
	pricer  Pricer
	gateway PaymentGateway
	tracer  trace.Tracer
}

func NewService(log *slog.Logger, ledger Ledger, pricer Pricer, gateway PaymentGateway) *Service {
	return &Service{
		log:     log,
		ledger:  ledger,
		pricer:  pricer,
		gateway: gateway,
		tracer:  otel.Tracer("reservation-manager"),
	}
}

// Checkout reserves stock for the draft and opens a payment intent.
//
// The reservation is one atomic transaction: re-check availability under
// row locks, flip units to RESERVED, apply counter deltas, create the
// PENDING order. Any shortfall aborts the whole thing with a
// CapacityError naming every failing line; nothing is partially reserved.
//
// The gateway call happens after commit. Its failure is returned to the
// caller alongside the created order; the hold self-releases via the
// provider's expiry event.
func (s *Service) Checkout(ctx context.Context, draft Draft) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "Checkout")
	defer span.End()

	if err := validateDraft(draft); err != nil {
		return domain.Order{}, err
	}

	order := domain.NewOrder(draft.StoreID, draft.Currency)
	prices := make(map[uuid.UUID]int64, len(draft.Lines))
	for _, l := range draft.Lines {
		if _, ok := prices[l.VariantID]; ok {
			continue
		}
		p, err := s.pricer.PriceCents(ctx, l.VariantID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("resolve price for variant %s: %w", l.VariantID, err)
		}
		prices[l.VariantID] = p
	}

	err := s.ledger.Transact(ctx, func(tx Tx) error {
		return s.reserve(ctx, tx, &order, draft, prices)
	})
	if err != nil {
		var capErr *domain.CapacityError
		if errors.As(err, &capErr) {
			metrics.ReservationConflicts.Inc()
			s.log.Info("reservation aborted", "order_number", order.Number, "lines", len(capErr.Lines))
		}
		return domain.Order{}, err
	}
	s.log.Info("units reserved", "order_number", order.Number, "items", len(order.Items), "total_cents", order.TotalCents)

	intent, err := s.gateway.CreateIntent(ctx, order, s.summarize(draft, prices))
	if err != nil {
		s.log.Error("payment intent creation failed", "order_number", order.Number, "err", err)
		return order, errors.Join(ErrGatewayUnavailable, err)
	}
	if err := s.ledger.AttachPaymentIntent(ctx, order.ID, intent.ID, intent.ClientSecret); err != nil {
		s.log.Error("persisting payment intent failed", "order_number", order.Number, "intent_id", intent.ID, "err", err)
		return order, fmt.Errorf("attach payment intent: %w", err)
	}
	order.IntentID = intent.ID
	order.ClientSecret = intent.ClientSecret
	return order, nil
}

// reserve is steps 1-4 of the reservation, all on one transaction.
func (s *Service) reserve(ctx context.Context, tx Tx, order *domain.Order, draft Draft, prices map[uuid.UUID]int64) error {
	now := time.Now().UTC()

	var shortfalls []domain.LineShortfall
	var reserved []uuid.UUID
	type counterKey struct{ variant, store uuid.UUID }
	deltas := make(map[counterKey]int)

	// Duplicate selections are merged before locking. A second lock on
	// the same selection inside one transaction would hand back the rows
	// the first call already claimed and double-book units.
	for _, l := range mergeLines(draft.Lines) {
		ids, err := tx.LockAvailableUnits(ctx, l.VariantID, l.ColorID, l.StoreID, l.Quantity)
		if err != nil {
			return fmt.Errorf("lock units for variant %s: %w", l.VariantID, err)
		}
		if len(ids) < l.Quantity {
			shortfalls = append(shortfalls, domain.LineShortfall{
				VariantID: l.VariantID,
				ColorID:   l.ColorID,
				StoreID:   l.StoreID,
				Requested: l.Quantity,
				Available: len(ids),
			})
			continue
		}
		for _, id := range ids {
			order.Items = append(order.Items, domain.OrderItem{
				UnitID:     id,
				VariantID:  l.VariantID,
				ColorID:    l.ColorID,
				StoreID:    l.StoreID,
				Quantity:   1,
				PriceCents: prices[l.VariantID],
			})
			order.TotalCents += prices[l.VariantID]
		}
		reserved = append(reserved, ids...)
		deltas[counterKey{l.VariantID, l.StoreID}] += l.Quantity
	}

	if len(shortfalls) > 0 {
		return &domain.CapacityError{Lines: shortfalls}
	}

	if err := tx.MarkUnitsReserved(ctx, reserved, now); err != nil {
		return fmt.Errorf("mark units reserved: %w", err)
	}
	for k, q := range deltas {
		if err := tx.AdjustCounters(ctx, k.variant, k.store, -q, +q, 0); err != nil {
			return fmt.Errorf("adjust counters for variant %s: %w", k.variant, err)
		}
	}
	if err := tx.InsertOrder(ctx, *order); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if err := tx.InsertItems(ctx, order.ID, order.Items); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return tx.AppendHistory(ctx, domain.HistoryEntry{
		OrderID:           order.ID,
		Actor:             actorCheckout,
		FromStatus:        domain.StatusPending,
		ToStatus:          domain.StatusPending,
		FromPaymentStatus: domain.PaymentPending,
		ToPaymentStatus:   domain.PaymentPending,
		Note:              fmt.Sprintf("order created, %d units reserved", len(reserved)),
		CreatedAt:         now,
	})
}

// mergeLines coalesces lines sharing one (variant, color, store)
// selection into a single line with the summed quantity, preserving
// first-seen order.
func mergeLines(lines []DraftLine) []DraftLine {
	type sel struct{ variant, color, store uuid.UUID }
	index := make(map[sel]int, len(lines))
	merged := make([]DraftLine, 0, len(lines))
	for _, l := range lines {
		k := sel{l.VariantID, l.ColorID, l.StoreID}
		if i, ok := index[k]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		index[k] = len(merged)
		merged = append(merged, l)
	}
	return merged
}

func (s *Service) Order(ctx context.Context, number string) (domain.Order, error) {
	return s.ledger.OrderByNumber(ctx, number)
}

func (s *Service) summarize(draft Draft, prices map[uuid.UUID]int64) []LineSummary {
	out := make([]LineSummary, 0, len(draft.Lines))
	for _, l := range draft.Lines {
		out = append(out, LineSummary{
			Designation: l.Designation,
			Quantity:    l.Quantity,
			PriceCents:  prices[l.VariantID],
		})
	}
	return out
}

func validateDraft(d Draft) error {
	if d.StoreID == uuid.Nil {
		return fmt.Errorf("%w: missing store", ErrInvalidDraft)
	}
	if d.Currency == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidDraft)
	}
	if len(d.Lines) == 0 {
		return fmt.Errorf("%w: order has no lines", ErrInvalidDraft)
	}
	for _, l := range d.Lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: invalid quantity %d for variant %s", ErrInvalidDraft, l.Quantity, l.VariantID)
		}
		if l.VariantID == uuid.Nil || l.ColorID == uuid.Nil || l.StoreID == uuid.Nil {
			return fmt.Errorf("%w: line is missing variant, color or store", ErrInvalidDraft)
		}
	}
	return nil
}
