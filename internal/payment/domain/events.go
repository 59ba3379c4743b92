package domain

import "time"

// Event is the closed set of provider callbacks the reconciler acts on.
// Every variant correlates to an order through the payment intent id and
// is subject to the same guard: check current order state as the first
// read inside the settlement transaction, mutate only if still pending.
// The unexported method keeps the set closed; unrecognized provider
// payloads are dropped at the webhook boundary and never become Events.
type Event interface {
	CorrelationID() string
	// OrderRef is the order id the provider echoes back from the
	// session metadata. It is the fallback correlation handle for
	// orders whose intent id never made it to the database.
	OrderRef() string
	EventType() string
	sealed()
}

// PaymentSucceeded finalizes an order: units become SOLD.
type PaymentSucceeded struct {
	IntentID      string
	OrderID       string
	ProviderTxnID string
	AmountCents   int64
	Provider      string
	OccurredAt    time.Time
	Metadata      map[string]string
}

func (e PaymentSucceeded) CorrelationID() string { return e.IntentID }
func (e PaymentSucceeded) OrderRef() string      { return e.OrderID }
func (e PaymentSucceeded) EventType() string     { return "payment.succeeded" }
func (PaymentSucceeded) sealed()                 {}

// PaymentFailed unwinds a reservation: units return to IN_STOCK.
type PaymentFailed struct {
	IntentID   string
	OrderID    string
	Provider   string
	Reason     string
	OccurredAt time.Time
}

func (e PaymentFailed) CorrelationID() string { return e.IntentID }
func (e PaymentFailed) OrderRef() string      { return e.OrderID }
func (e PaymentFailed) EventType() string     { return "payment.failed" }
func (PaymentFailed) sealed()                 {}

// CheckoutExpired releases a reservation whose session timed out at the
// provider. It can race or follow a success event for the same session,
// so its guard checks both the payment status and the order status.
type CheckoutExpired struct {
	IntentID   string
	OrderID    string
	Provider   string
	OccurredAt time.Time
}

func (e CheckoutExpired) CorrelationID() string { return e.IntentID }
func (e CheckoutExpired) OrderRef() string      { return e.OrderID }
func (e CheckoutExpired) EventType() string     { return "checkout.expired" }
func (CheckoutExpired) sealed()                 {}
