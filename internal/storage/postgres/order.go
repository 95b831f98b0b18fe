package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopcore/checkout-engine/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, user_id, idempotency_key, status, lines, total, ordered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	lockOrderStatusSQL = `SELECT status FROM orders WHERE id = $1 FOR UPDATE`
	cancelOrderSQL     = `UPDATE orders SET status = $2 WHERE id = $1`

	orderColumns    = `id, user_id, idempotency_key, status, lines, total, ordered_at`
	getOrderSQL     = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	orderByKeySQL   = `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = $1`
	ordersByUserSQL = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY ordered_at DESC`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL. An order and its
// lines land in one row (lines as JSONB), so Save is a single atomic write by
// construction.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Save persists an order. Both an id collision and a reused idempotency key
// surface as order.ErrDuplicateOrder.
func (r *OrderStore) Save(ctx context.Context, o *order.Order) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshaling order lines: %w", err)
	}

	_, err = r.pool.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, o.IdempotencyKey, o.Status, linesJSON, o.Total, o.OrderedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return order.ErrDuplicateOrder
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Cancel transitions a placed order to cancelled.
func (r *OrderStore) Cancel(ctx context.Context, orderID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status order.Status
	if err := tx.QueryRow(ctx, lockOrderStatusSQL, orderID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNotFound
		}
		return fmt.Errorf("locking order %q: %w", orderID, err)
	}
	if status == order.StatusCancelled {
		return order.ErrInvalidTransition
	}

	if _, err := tx.Exec(ctx, cancelOrderSQL, orderID, order.StatusCancelled); err != nil {
		return fmt.Errorf("cancelling order %q: %w", orderID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cancel tx: %w", err)
	}
	return nil
}

// GetByID returns a single order.
func (r *OrderStore) GetByID(ctx context.Context, orderID string) (*order.Order, error) {
	return r.getOne(ctx, getOrderSQL, orderID)
}

// GetByIdempotencyKey returns the order recorded for a checkout attempt.
func (r *OrderStore) GetByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	return r.getOne(ctx, orderByKeySQL, key)
}

// ListByUser returns a user's orders newest-first.
func (r *OrderStore) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, ordersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func (r *OrderStore) getOne(ctx context.Context, sql, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		linesJSON []byte
	)
	err := row.Scan(&o.ID, &o.UserID, &o.IdempotencyKey, &o.Status, &linesJSON, &o.Total, &o.OrderedAt)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(linesJSON, &o.Lines); err != nil {
		return o, fmt.Errorf("unmarshaling order %q lines: %w", o.ID, err)
	}
	return o, nil
}
