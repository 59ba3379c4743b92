package domain

import "time"

// Outbox event types announced to downstream collaborators after a
// settlement transaction commits.
const (
	EventOrderConfirmed = "OrderConfirmed"
	EventOrderCancelled = "OrderCancelled"
)

type OrderConfirmed struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	StoreID     string    `json:"store_id"`
	TotalCents  int64     `json:"total_cents"`
	Currency    string    `json:"currency"`
	PaidAt      time.Time `json:"paid_at"`
}

type OrderCancelled struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason"`
}
