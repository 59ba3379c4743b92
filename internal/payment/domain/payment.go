package domain

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Payment is the immutable audit record of one processor event outcome.
// An order accumulates one row per attempt; rows are never updated.
type Payment struct {
	OrderID       uuid.UUID
	AmountCents   int64
	Provider      string
	ProviderTxnID string
	Status        Status
	Reason        string
	Metadata      map[string]string
	ProcessedAt   time.Time
}
