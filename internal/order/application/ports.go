package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/retailcore/checkout-core/internal/order/domain"
)

// Tx is the transaction-scoped slice of the ledger a reservation needs.
// Implementations run every method on one database transaction; the
// Ledger rolls all of it back when the closure errors.
type Tx interface {
	// LockAvailableUnits row-locks up to limit IN_STOCK units for the
	// selection and returns their ids. Units locked by a concurrent
	// reservation are skipped, so two racing checkouts never observe
	// the same unit as available.
	LockAvailableUnits(ctx context.Context, variantID, colorID, storeID uuid.UUID, limit int) ([]uuid.UUID, error)
	MarkUnitsReserved(ctx context.Context, ids []uuid.UUID, at time.Time) error
	// AdjustCounters applies relative deltas to one (variant, store)
	// counter row in a single statement, never read-modify-write.
	AdjustCounters(ctx context.Context, variantID, storeID uuid.UUID, availableDelta, reservedDelta, soldDelta int) error
	InsertOrder(ctx context.Context, o domain.Order) error
	InsertItems(ctx context.Context, orderID uuid.UUID, items []domain.OrderItem) error
	AppendHistory(ctx context.Context, h domain.HistoryEntry) error
}

type Ledger interface {
	Transact(ctx context.Context, fn func(tx Tx) error) error
	AttachPaymentIntent(ctx context.Context, orderID uuid.UUID, intentID, clientSecret string) error
	OrderByNumber(ctx context.Context, number string) (domain.Order, error)
}

// Pricer resolves the catalog price snapshot for a variant. Prices are
// never trusted from the client.
type Pricer interface {
	PriceCents(ctx context.Context, variantID uuid.UUID) (int64, error)
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
}

type LineSummary struct {
	Designation string `json:"designation"`
	Quantity    int    `json:"quantity"`
	PriceCents  int64  `json:"price_cents"`
}

// PaymentGateway is the outbound request leg to the processor. It never
// transitions order state.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, o domain.Order, lines []LineSummary) (PaymentIntent, error)
}
