package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentSucceeded PaymentStatus = "SUCCEEDED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// Terminal states are final; there is no edge out of them.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Order is one checkout attempt. Created PENDING/PENDING when units are
// reserved; settled by exactly one terminal webhook transition.
type Order struct {
	ID            uuid.UUID
	Number        string
	Status        Status
	PaymentStatus PaymentStatus
	TotalCents    int64
	Currency      string
	StoreID       uuid.UUID
	IntentID      string
	ClientSecret  string
	PaidAt        *time.Time
	CancelledAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Items         []OrderItem
}

// OrderItem binds one reserved InventoryUnit to the order with a price
// snapshot. Quantity is always 1: stock is tracked per physical unit.
type OrderItem struct {
	UnitID     uuid.UUID
	VariantID  uuid.UUID
	ColorID    uuid.UUID
	StoreID    uuid.UUID
	Quantity   int
	PriceCents int64
}

// Settled reports whether the order reached a terminal payment state.
func (o Order) Settled() bool {
	return o.PaymentStatus != PaymentPending
}

func NewOrder(storeID uuid.UUID, currency string) Order {
	now := time.Now().UTC()
	id := uuid.New()
	return Order{
		ID:            id,
		Number:        orderNumber(now, id),
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		Currency:      currency,
		StoreID:       storeID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func orderNumber(t time.Time, id uuid.UUID) string {
	short := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", t.Format("20060102"), short)
}

// HistoryEntry is one append-only line of the status audit trail.
type HistoryEntry struct {
	OrderID           uuid.UUID
	Actor             string
	FromStatus        Status
	ToStatus          Status
	FromPaymentStatus PaymentStatus
	ToPaymentStatus   PaymentStatus
	Note              string
	CreatedAt         time.Time
}
