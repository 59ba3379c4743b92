package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	invdomain "github.com/retailcore/checkout-core/internal/inventory/domain"
	orderdomain "github.com/retailcore/checkout-core/internal/order/domain"
	"github.com/retailcore/checkout-core/internal/payment/domain"
)

// Tx is the transaction-scoped slice of the ledger a settlement needs.
// OrderByIntentForUpdate must be the first call: it locks the order row,
// which serializes racing webhook deliveries for the same order.
type Tx interface {
	OrderByIntentForUpdate(ctx context.Context, intentID string) (orderdomain.Order, error)
	OrderByIDForUpdate(ctx context.Context, orderID uuid.UUID) (orderdomain.Order, error)
	ReservedUnits(ctx context.Context, orderID uuid.UUID) ([]invdomain.UnitRef, error)
	MarkUnitsSold(ctx context.Context, ids []uuid.UUID, at time.Time) error
	MarkUnitsReleased(ctx context.Context, ids []uuid.UUID) error
	AdjustCounters(ctx context.Context, variantID, storeID uuid.UUID, availableDelta, reservedDelta, soldDelta int) error
	ConfirmOrder(ctx context.Context, orderID uuid.UUID, paidAt time.Time) error
	CancelOrder(ctx context.Context, orderID uuid.UUID, ps orderdomain.PaymentStatus, at time.Time) error
	AppendPayment(ctx context.Context, p domain.Payment) error
	AppendHistory(ctx context.Context, h orderdomain.HistoryEntry) error
	EnqueueOutbox(ctx context.Context, aggregateID, eventType string, payload []byte) error
}

type Ledger interface {
	Transact(ctx context.Context, fn func(tx Tx) error) error
}
