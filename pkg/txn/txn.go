// Package txn is the single transaction boundary of the service. Every
// multi-row mutation (reservation, settlement, release) runs through
// Transact so commit/rollback handling lives in exactly one place.
package txn

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Beginner is satisfied by *pgxpool.Pool and by pgx.Tx (nested
// transactions become savepoints).
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Transact runs fn inside a transaction. Any error from fn rolls back
// every write fn performed; a nil return commits them atomically.
func Transact(ctx context.Context, db Beginner, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
