package domain

import (
	"time"

	"github.com/google/uuid"
)

// VariantCounter is the materialized per-(variant, store) roll-up of the
// unit store. It is only ever written in the same transaction as the
// unit-status change it summarizes, via relative increments.
type VariantCounter struct {
	VariantID uuid.UUID
	StoreID   uuid.UUID
	Total     int
	Available int
	Reserved  int
	Sold      int
	UpdatedAt time.Time
}

// Consistent reports whether the counter obeys its core invariant:
// available + reserved + sold == total, all non-negative.
func (c VariantCounter) Consistent() bool {
	if c.Available < 0 || c.Reserved < 0 || c.Sold < 0 || c.Total < 0 {
		return false
	}
	return c.Available+c.Reserved+c.Sold == c.Total
}
