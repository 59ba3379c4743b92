package domain

import (
	"time"

	"github.com/google/uuid"
)

// UnitStatus is the lifecycle of one physical sellable unit. Within one
// order the transitions are monotone (IN_STOCK -> RESERVED -> SOLD); the
// only backward edge is the rollback RESERVED -> IN_STOCK when a payment
// fails or the checkout session expires.
type UnitStatus string

const (
	StatusInStock  UnitStatus = "IN_STOCK"
	StatusReserved UnitStatus = "RESERVED"
	StatusSold     UnitStatus = "SOLD"
)

var validNext = map[UnitStatus]map[UnitStatus]bool{
	StatusInStock:  {StatusReserved: true},
	StatusReserved: {StatusSold: true, StatusInStock: true},
	StatusSold:     {},
}

func CanTransition(from, to UnitStatus) bool {
	return validNext[from][to]
}

// InventoryUnit is a single physical item tied to a variant, color and
// store. Units are never deleted; sold units remain for audit.
type InventoryUnit struct {
	ID         uuid.UUID
	VariantID  uuid.UUID
	ColorID    uuid.UUID
	StoreID    uuid.UUID
	Status     UnitStatus
	ReservedAt *time.Time
	SoldAt     *time.Time
	CreatedAt  time.Time
}

// UnitRef is the slice of a unit the settlement paths need: enough to
// flip its status and locate its counter row.
type UnitRef struct {
	ID        uuid.UUID
	VariantID uuid.UUID
	StoreID   uuid.UUID
}
