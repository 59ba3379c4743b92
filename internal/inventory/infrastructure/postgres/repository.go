// Package postgres implements the read-only inventory lookups against
// the unit store and the catalog tables.
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/retailcore/checkout-core/internal/inventory/application"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CountAvailable reads the live IN_STOCK count for one selection. The
// count is advisory only; reservations re-check under row locks.
func (r *Repository) CountAvailable(ctx context.Context, variantID, colorID, storeID uuid.UUID) (int, error) {
	const q = `
		SELECT COUNT(*) FROM inventory_units
		WHERE variant_id = $1 AND color_id = $2 AND store_id = $3 AND status = 'IN_STOCK'`

	var n int
	if err := r.pool.QueryRow(ctx, q, variantID, colorID, storeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count available units: %w", err)
	}
	return n, nil
}

// Resolve fetches display names for a verification response. A missing
// row surfaces as an error; the caller degrades gracefully.
func (r *Repository) Resolve(ctx context.Context, variantID, colorID, storeID uuid.UUID) (application.CatalogInfo, error) {
	const q = `
		SELECT pv.designation, c.name, s.locality
		FROM product_variants pv, colors c, stores s
		WHERE pv.id = $1 AND c.id = $2 AND s.id = $3`

	var info application.CatalogInfo
	if err := r.pool.QueryRow(ctx, q, variantID, colorID, storeID).
		Scan(&info.Designation, &info.ColorName, &info.Locality); err != nil {
		return application.CatalogInfo{}, fmt.Errorf("resolve catalog names: %w", err)
	}
	return info, nil
}

// PriceCents returns the current catalog price for a variant.
func (r *Repository) PriceCents(ctx context.Context, variantID uuid.UUID) (int64, error) {
	const q = `SELECT price_cents FROM product_variants WHERE id = $1`

	var cents int64
	if err := r.pool.QueryRow(ctx, q, variantID).Scan(&cents); err != nil {
		return 0, fmt.Errorf("resolve variant price: %w", err)
	}
	return cents, nil
}
