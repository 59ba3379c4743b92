// Package postgres is the persistence layer for orders, reservations,
// settlements and the outbox. One Repository backs both the reservation
// and the settlement side; each side sees only its own transaction port.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	invdomain "github.com/retailcore/checkout-core/internal/inventory/domain"
	"github.com/retailcore/checkout-core/internal/order/domain"
	paymentdomain "github.com/retailcore/checkout-core/internal/payment/domain"
	"github.com/retailcore/checkout-core/pkg/outbox"
	"github.com/retailcore/checkout-core/pkg/tracing"
	"github.com/retailcore/checkout-core/pkg/txn"

	orderapp "github.com/retailcore/checkout-core/internal/order/application"
	paymentapp "github.com/retailcore/checkout-core/internal/payment/application"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ReservationLedger exposes the repository through the reservation port.
func (r *Repository) ReservationLedger() orderapp.Ledger {
	return reservationLedger{r}
}

// SettlementLedger exposes the repository through the settlement port.
func (r *Repository) SettlementLedger() paymentapp.Ledger {
	return settlementLedger{r}
}

type reservationLedger struct{ repo *Repository }

func (l reservationLedger) Transact(ctx context.Context, fn func(tx orderapp.Tx) error) error {
	return txn.Transact(ctx, l.repo.pool, func(tx pgx.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

func (l reservationLedger) AttachPaymentIntent(ctx context.Context, orderID uuid.UUID, intentID, clientSecret string) error {
	return l.repo.attachPaymentIntent(ctx, orderID, intentID, clientSecret)
}

func (l reservationLedger) OrderByNumber(ctx context.Context, number string) (domain.Order, error) {
	return l.repo.orderByNumber(ctx, number)
}

type settlementLedger struct{ repo *Repository }

func (l settlementLedger) Transact(ctx context.Context, fn func(tx paymentapp.Tx) error) error {
	return txn.Transact(ctx, l.repo.pool, func(tx pgx.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

// ledgerTx runs every statement of one reservation or settlement on a
// single database transaction.
type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) LockAvailableUnits(ctx context.Context, variantID, colorID, storeID uuid.UUID, limit int) ([]uuid.UUID, error) {
	// SKIP LOCKED keeps racing checkouts from waiting on (or double
	// counting) units another transaction already claimed.
	const q = `
		SELECT id FROM inventory_units
		WHERE variant_id = $1 AND color_id = $2 AND store_id = $3 AND status = 'IN_STOCK'
		ORDER BY created_at
		LIMIT $4
		FOR UPDATE SKIP LOCKED`

	rows, err := t.tx.Query(ctx, q, variantID, colorID, storeID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (t *ledgerTx) MarkUnitsReserved(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	const q = `
		UPDATE inventory_units SET status = 'RESERVED', reserved_at = $2
		WHERE id = ANY($1) AND status = 'IN_STOCK'`

	tag, err := t.tx.Exec(ctx, q, ids, at)
	if err != nil {
		return err
	}
	if int(tag.RowsAffected()) != len(ids) {
		return fmt.Errorf("reserved %d of %d locked units", tag.RowsAffected(), len(ids))
	}
	return nil
}

func (t *ledgerTx) MarkUnitsSold(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	const q = `
		UPDATE inventory_units SET status = 'SOLD', sold_at = $2
		WHERE id = ANY($1) AND status = 'RESERVED'`

	tag, err := t.tx.Exec(ctx, q, ids, at)
	if err != nil {
		return err
	}
	if int(tag.RowsAffected()) != len(ids) {
		return fmt.Errorf("sold %d of %d reserved units", tag.RowsAffected(), len(ids))
	}
	return nil
}

func (t *ledgerTx) MarkUnitsReleased(ctx context.Context, ids []uuid.UUID) error {
	const q = `
		UPDATE inventory_units SET status = 'IN_STOCK', reserved_at = NULL
		WHERE id = ANY($1) AND status = 'RESERVED'`

	tag, err := t.tx.Exec(ctx, q, ids)
	if err != nil {
		return err
	}
	if int(tag.RowsAffected()) != len(ids) {
		return fmt.Errorf("released %d of %d reserved units", tag.RowsAffected(), len(ids))
	}
	return nil
}

// AdjustCounters applies relative deltas in one statement. The table's
// CHECK constraints reject any adjustment that would break the
// available + reserved + sold = total invariant.
func (t *ledgerTx) AdjustCounters(ctx context.Context, variantID, storeID uuid.UUID, availableDelta, reservedDelta, soldDelta int) error {
	const q = `
		UPDATE variant_counters
		SET available_stock = available_stock + $3,
		    reserved_stock  = reserved_stock + $4,
		    sold_stock      = sold_stock + $5,
		    updated_at      = now()
		WHERE variant_id = $1 AND store_id = $2`

	tag, err := t.tx.Exec(ctx, q, variantID, storeID, availableDelta, reservedDelta, soldDelta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("no counter row for variant %s store %s", variantID, storeID)
	}
	return nil
}

func (t *ledgerTx) InsertOrder(ctx context.Context, o domain.Order) error {
	const q = `
		INSERT INTO orders (id, order_number, status, payment_status, total_cents, currency, store_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := t.tx.Exec(ctx, q,
		o.ID, o.Number, o.Status, o.PaymentStatus, o.TotalCents, o.Currency, o.StoreID, o.CreatedAt, o.UpdatedAt)
	return err
}

func (t *ledgerTx) InsertItems(ctx context.Context, orderID uuid.UUID, items []domain.OrderItem) error {
	const q = `
		INSERT INTO order_items (order_id, unit_id, variant_id, color_id, store_id, quantity, price_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(q, orderID, it.UnitID, it.VariantID, it.ColorID, it.StoreID, it.Quantity, it.PriceCents)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *ledgerTx) AppendHistory(ctx context.Context, h domain.HistoryEntry) error {
	const q = `
		INSERT INTO order_status_history (order_id, actor, from_status, to_status, from_payment_status, to_payment_status, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := t.tx.Exec(ctx, q,
		h.OrderID, h.Actor, h.FromStatus, h.ToStatus, h.FromPaymentStatus, h.ToPaymentStatus, h.Note, h.CreatedAt)
	return err
}

// OrderByIntentForUpdate locks the order row for the rest of the
// transaction. A concurrent settlement for the same intent blocks here
// and re-reads the committed status when the lock is released.
func (t *ledgerTx) OrderByIntentForUpdate(ctx context.Context, intentID string) (domain.Order, error) {
	const q = `
		SELECT id, order_number, status, payment_status, total_cents, currency, store_id,
		       COALESCE(intent_id, ''), COALESCE(client_secret, ''), paid_at, cancelled_at, created_at, updated_at
		FROM orders
		WHERE intent_id = $1
		FOR UPDATE`

	o, err := scanOrder(t.tx.QueryRow(ctx, q, intentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, err
}

// OrderByIDForUpdate locks the order row by its primary key. Settlement
// uses it as the metadata fallback when no row carries the intent id.
func (t *ledgerTx) OrderByIDForUpdate(ctx context.Context, orderID uuid.UUID) (domain.Order, error) {
	const q = `
		SELECT id, order_number, status, payment_status, total_cents, currency, store_id,
		       COALESCE(intent_id, ''), COALESCE(client_secret, ''), paid_at, cancelled_at, created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE`

	o, err := scanOrder(t.tx.QueryRow(ctx, q, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, err
}

func (t *ledgerTx) ReservedUnits(ctx context.Context, orderID uuid.UUID) ([]invdomain.UnitRef, error) {
	const q = `
		SELECT oi.unit_id, oi.variant_id, oi.store_id
		FROM order_items oi
		WHERE oi.order_id = $1
		ORDER BY oi.id`

	rows, err := t.tx.Query(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (invdomain.UnitRef, error) {
		var u invdomain.UnitRef
		err := row.Scan(&u.ID, &u.VariantID, &u.StoreID)
		return u, err
	})
}

func (t *ledgerTx) ConfirmOrder(ctx context.Context, orderID uuid.UUID, paidAt time.Time) error {
	const q = `
		UPDATE orders
		SET status = 'CONFIRMED', payment_status = 'SUCCEEDED', paid_at = $2, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`

	tag, err := t.tx.Exec(ctx, q, orderID, paidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("order %s not pending", orderID)
	}
	return nil
}

func (t *ledgerTx) CancelOrder(ctx context.Context, orderID uuid.UUID, ps domain.PaymentStatus, at time.Time) error {
	const q = `
		UPDATE orders
		SET status = 'CANCELLED', payment_status = $2, cancelled_at = $3, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`

	tag, err := t.tx.Exec(ctx, q, orderID, ps, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("order %s not pending", orderID)
	}
	return nil
}

func (t *ledgerTx) AppendPayment(ctx context.Context, p paymentdomain.Payment) error {
	const q = `
		INSERT INTO payments (order_id, amount_cents, provider, provider_txn_id, status, reason, metadata, processed_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8)`

	_, err := t.tx.Exec(ctx, q,
		p.OrderID, p.AmountCents, p.Provider, p.ProviderTxnID, p.Status, p.Reason, p.Metadata, p.ProcessedAt)
	return err
}

func (t *ledgerTx) EnqueueOutbox(ctx context.Context, aggregateID, eventType string, payload []byte) error {
	const q = `
		INSERT INTO outbox (event_id, aggregate_type, aggregate_id, type, payload, traceparent, status)
		VALUES ($1, 'order', $2, $3, $4, NULLIF($5, ''), 'pending')`

	_, err := t.tx.Exec(ctx, q, uuid.New(), aggregateID, eventType, payload, tracing.Traceparent(ctx))
	return err
}

func (r *Repository) attachPaymentIntent(ctx context.Context, orderID uuid.UUID, intentID, clientSecret string) error {
	const q = `
		UPDATE orders SET intent_id = $2, client_secret = $3, updated_at = now()
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, q, orderID, intentID, clientSecret)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *Repository) orderByNumber(ctx context.Context, number string) (domain.Order, error) {
	const q = `
		SELECT id, order_number, status, payment_status, total_cents, currency, store_id,
		       COALESCE(intent_id, ''), COALESCE(client_secret, ''), paid_at, cancelled_at, created_at, updated_at
		FROM orders
		WHERE order_number = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, q, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}

	const itemsQ = `
		SELECT unit_id, variant_id, color_id, store_id, quantity, price_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`

	rows, err := r.pool.Query(ctx, itemsQ, o.ID)
	if err != nil {
		return domain.Order{}, err
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderItem, error) {
		var it domain.OrderItem
		err := row.Scan(&it.UnitID, &it.VariantID, &it.ColorID, &it.StoreID, &it.Quantity, &it.PriceCents)
		return it, err
	})
	return o, err
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.Number, &o.Status, &o.PaymentStatus, &o.TotalCents, &o.Currency, &o.StoreID,
		&o.IntentID, &o.ClientSecret, &o.PaidAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// LockBatch claims pending outbox rows for one relay, reclaiming rows
// whose previous claim's lease ran out before the relay marked them.
func (r *Repository) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	const q = `
		UPDATE outbox
		SET status = 'in_progress', relay_id = $1, lease_until = now() + ($3 * interval '1 millisecond')
		WHERE id IN (
			SELECT id FROM outbox
			WHERE status = 'pending' OR (status = 'in_progress' AND lease_until < now())
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_id, aggregate_type, aggregate_id, type, payload,
		          COALESCE(headers, '{}'::jsonb), COALESCE(traceparent, ''), created_at, retry_count`

	rows, err := r.pool.Query(ctx, q, relayID, batchSize, lease.Milliseconds())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Event, error) {
		e := outbox.Event{Status: outbox.StatusInProgress, RelayID: relayID}
		err := row.Scan(&e.ID, &e.EventID, &e.AggregateType, &e.AggregateID, &e.Type,
			&e.Payload, &e.Headers, &e.Traceparent, &e.CreatedAt, &e.RetryCount)
		return e, err
	})
}

func (r *Repository) MarkSent(ctx context.Context, ids []int64) error {
	const q = `UPDATE outbox SET status = 'sent' WHERE id = ANY($1)`
	_, err := r.pool.Exec(ctx, q, ids)
	return err
}

// MarkFailed returns the row to the pending pool for another attempt;
// after five attempts it parks the row as failed for operator review.
func (r *Repository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	const q = `
		UPDATE outbox
		SET status      = CASE WHEN retry_count + 1 >= 5 THEN 'failed' ELSE 'pending' END,
		    retry_count = retry_count + 1,
		    last_error  = $2
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, q, id, errMsg)
	return err
}
