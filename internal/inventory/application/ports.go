package application

import (
	"context"

	"github.com/google/uuid"
)

// UnitCounter answers read-only availability questions against the unit
// store.
type UnitCounter interface {
	CountAvailable(ctx context.Context, variantID, colorID, storeID uuid.UUID) (int, error)
}

// CatalogInfo is the display data resolved for a verification response.
type CatalogInfo struct {
	Designation string
	ColorName   string
	Locality    string
}

// Catalog resolves variant/color/store display names. Failures here are
// cosmetic and never block a verification.
type Catalog interface {
	Resolve(ctx context.Context, variantID, colorID, storeID uuid.UUID) (CatalogInfo, error)
}
