package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/shopcore/checkout-engine/internal/domain/stock"
)

const (
	lockProductSQL     = `SELECT quantity, price FROM products WHERE id = $1 FOR UPDATE`
	decrementStockSQL  = `UPDATE products SET quantity = quantity - $2, updated_at = now() WHERE id = $1`
	restockSQL         = `UPDATE products SET quantity = quantity + $2, updated_at = now() WHERE id = $1`
	insertTicketSQL    = `INSERT INTO reservation_tickets (id, idempotency_key, status, lines) VALUES ($1, $2, $3, $4)`
	lockTicketSQL      = `SELECT status, lines FROM reservation_tickets WHERE id = $1 FOR UPDATE`
	setTicketStatusSQL = `UPDATE reservation_tickets SET status = $2, updated_at = now() WHERE id = $1`
	ticketByKeySQL     = `SELECT id, idempotency_key, status, lines, created_at
		FROM reservation_tickets WHERE idempotency_key = $1`
)

// uniqueViolation is the PostgreSQL error code raised when two concurrent
// reservations race on the same idempotency key.
const uniqueViolation = "23505"

var _ stock.Ledger = (*StockLedger)(nil)

// StockLedger implements stock.Ledger backed by PostgreSQL. Correctness rests
// on row-level locks: every reservation locks the product rows it touches
// (sorted by id, so two multi-line checkouts sharing products cannot
// deadlock), validates all lines, and only then decrements — all inside one
// transaction. The guarantee therefore survives process restarts and holds
// across multiple instances sharing the database.
type StockLedger struct {
	pool *pgxpool.Pool
}

// NewStockLedger returns a StockLedger that uses the given pool.
func NewStockLedger(pool *pgxpool.Pool) *StockLedger {
	return &StockLedger{pool: pool}
}

// Reserve implements stock.Ledger.
func (r *StockLedger) Reserve(ctx context.Context, key string, lines []stock.ReserveRequest) (*stock.Ticket, bool, error) {
	// Fast path: the key has been seen before.
	if t, err := r.FindByKey(ctx, key); err == nil {
		return t, true, nil
	} else if !errors.Is(err, stock.ErrUnknownTicket) {
		return nil, false, err
	}

	// Merged duplicates validate as one summed line; sorted ids keep the
	// row lock order deadlock-free.
	sorted := stock.MergeRequests(lines)

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock and validate every row before the first decrement, so a failed
	// line leaves no partial reservation behind.
	ticketLines := make([]stock.Line, len(sorted))
	for i, l := range sorted {
		var (
			available int
			price     decimal.Decimal
		)
		err := tx.QueryRow(ctx, lockProductSQL, l.ProductID).Scan(&available, &price)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, false, &stock.InsufficientStockError{ProductID: l.ProductID, Requested: l.Quantity}
			}
			return nil, false, fmt.Errorf("locking product %q: %w", l.ProductID, err)
		}
		if available < l.Quantity {
			return nil, false, &stock.InsufficientStockError{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Available: available,
			}
		}
		ticketLines[i] = stock.Line{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: price}
	}

	for _, l := range sorted {
		if _, err := tx.Exec(ctx, decrementStockSQL, l.ProductID, l.Quantity); err != nil {
			return nil, false, fmt.Errorf("decrementing product %q: %w", l.ProductID, err)
		}
	}

	linesJSON, err := json.Marshal(ticketLines)
	if err != nil {
		return nil, false, fmt.Errorf("marshaling ticket lines: %w", err)
	}
	ticketID := uuid.New().String()
	if _, err := tx.Exec(ctx, insertTicketSQL, ticketID, key, stock.StatusPending, linesJSON); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Lost the race to a concurrent attempt with the same key.
			// Our tx rolls back (restoring the decrements); theirs won.
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				return nil, false, fmt.Errorf("rollback losing reservation: %w", rbErr)
			}
			t, ferr := r.FindByKey(ctx, key)
			if ferr != nil {
				return nil, false, fmt.Errorf("fetching winning ticket: %w", ferr)
			}
			return t, true, nil
		}
		return nil, false, fmt.Errorf("inserting ticket: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit reserve tx: %w", err)
	}

	t, err := r.FindByKey(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("reading back ticket %q: %w", ticketID, err)
	}
	return t, false, nil
}

// Commit implements stock.Ledger. Idempotent for a committed ticket.
func (r *StockLedger) Commit(ctx context.Context, ticketID string) error {
	return r.transition(ctx, ticketID, stock.StatusCommitted)
}

// Release implements stock.Ledger. Idempotent for a released ticket; returns
// the held quantities to availability in the same transaction as the status
// flip.
func (r *StockLedger) Release(ctx context.Context, ticketID string) error {
	return r.transition(ctx, ticketID, stock.StatusReleased)
}

func (r *StockLedger) transition(ctx context.Context, ticketID string, target stock.TicketStatus) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		status    stock.TicketStatus
		linesJSON []byte
	)
	if err := tx.QueryRow(ctx, lockTicketSQL, ticketID).Scan(&status, &linesJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stock.ErrUnknownTicket
		}
		return fmt.Errorf("locking ticket %q: %w", ticketID, err)
	}

	switch {
	case status == target:
		return nil
	case status != stock.StatusPending:
		// committed -> released and released -> committed are both
		// forbidden: a committed deduction is permanent and a released
		// hold no longer exists.
		return stock.ErrInvalidTransition
	}

	if target == stock.StatusReleased {
		var lines []stock.Line
		if err := json.Unmarshal(linesJSON, &lines); err != nil {
			return fmt.Errorf("unmarshaling ticket %q lines: %w", ticketID, err)
		}
		for _, l := range lines {
			if _, err := tx.Exec(ctx, restockSQL, l.ProductID, l.Quantity); err != nil {
				return fmt.Errorf("restocking product %q: %w", l.ProductID, err)
			}
		}
	}

	if _, err := tx.Exec(ctx, setTicketStatusSQL, ticketID, target); err != nil {
		return fmt.Errorf("updating ticket %q status: %w", ticketID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transition tx: %w", err)
	}
	return nil
}

// Restock implements stock.Ledger. All lines return in one transaction.
func (r *StockLedger) Restock(ctx context.Context, lines []stock.ReserveRequest) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin restock tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, l := range lines {
		if _, err := tx.Exec(ctx, restockSQL, l.ProductID, l.Quantity); err != nil {
			return fmt.Errorf("restocking product %q: %w", l.ProductID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit restock tx: %w", err)
	}
	return nil
}

// FindByKey implements stock.Ledger.
func (r *StockLedger) FindByKey(ctx context.Context, key string) (*stock.Ticket, error) {
	var (
		t         stock.Ticket
		linesJSON []byte
	)
	err := r.pool.QueryRow(ctx, ticketByKeySQL, key).
		Scan(&t.ID, &t.IdempotencyKey, &t.Status, &linesJSON, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, stock.ErrUnknownTicket
		}
		return nil, fmt.Errorf("finding ticket by key: %w", err)
	}
	if err := json.Unmarshal(linesJSON, &t.Lines); err != nil {
		return nil, fmt.Errorf("unmarshaling ticket %q lines: %w", t.ID, err)
	}
	return &t, nil
}
