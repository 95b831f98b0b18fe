// Package stock defines the stock ledger: the authoritative per-product
// availability counter and the reservation tickets held against it.
package stock

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// TicketStatus is the lifecycle state of a reservation ticket.
type TicketStatus string

const (
	// StatusPending means stock is decremented but the checkout has not
	// finished; the hold can still be committed or released.
	StatusPending TicketStatus = "pending"
	// StatusCommitted means the deduction is permanent.
	StatusCommitted TicketStatus = "committed"
	// StatusReleased means the reserved quantities were returned to
	// availability. Terminal for the ticket's idempotency key.
	StatusReleased TicketStatus = "released"
)

// Line is one reserved product within a ticket. UnitPrice is the price
// confirmed at reservation time and is what an order built from this ticket
// must record.
type Line struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Ticket is a provisional, ledger-backed hold on stock tied to one checkout
// attempt.
type Ticket struct {
	ID             string
	IdempotencyKey string
	Status         TicketStatus
	Lines          []Line
	CreatedAt      time.Time
}

// Total returns the sum of quantity times unit price over all lines.
func (t *Ticket) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range t.Lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total.Round(2)
}

// Sentinel errors for ticket transitions.
var (
	// ErrUnknownTicket is returned when a ticket id is not found.
	ErrUnknownTicket = errors.New("unknown ticket")
	// ErrInvalidTransition is returned for commit-after-release and
	// release-after-commit. These indicate a coordinator bug, not a
	// recoverable condition.
	ErrInvalidTransition = errors.New("invalid ticket transition")
)

// InsufficientStockError reports the first line of a reservation that would
// drive availability negative. No quantities change when it is returned.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// ReserveRequest is one line of a reservation attempt.
type ReserveRequest struct {
	ProductID string
	Quantity  int
}

// MergeRequests normalizes reservation lines: lines naming the same product
// collapse into one with their quantities summed, and the result is sorted by
// product id. Ledger implementations reserve the merged form, so a duplicated
// product id is validated once against its total quantity instead of passing
// per-line checks that each fit but together overdraw the counter.
func MergeRequests(lines []ReserveRequest) []ReserveRequest {
	byProduct := make(map[string]int, len(lines))
	for _, l := range lines {
		byProduct[l.ProductID] += l.Quantity
	}

	merged := make([]ReserveRequest, 0, len(byProduct))
	for id, qty := range byProduct {
		merged = append(merged, ReserveRequest{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged
}

// Ledger is the authoritative stock counter. Every operation runs as a single
// atomic unit; concurrent reservations for the same product are serialized so
// the sum of live holds never exceeds availability.
type Ledger interface {
	// Reserve atomically decrements availability for every line, or for
	// none: if any line would go negative the whole call fails with
	// *InsufficientStockError and no quantities change. Lines naming the
	// same product are merged and counted as their summed quantity. Unit
	// prices are read from the catalog rows inside the same atomic scope.
	//
	// Reserve is at-most-once per idempotency key: when a ticket already
	// exists for the key it is returned unchanged with replayed=true,
	// whatever its status. A released ticket is terminal for its key.
	Reserve(ctx context.Context, key string, lines []ReserveRequest) (t *Ticket, replayed bool, err error)

	// Commit makes a pending ticket's deduction permanent. Idempotent for
	// an already committed ticket; ErrInvalidTransition for a released
	// one; ErrUnknownTicket when the id is not found.
	Commit(ctx context.Context, ticketID string) error

	// Release returns a pending ticket's quantities to availability.
	// Idempotent for an already released ticket; ErrInvalidTransition for
	// a committed one; ErrUnknownTicket when the id is not found.
	Release(ctx context.Context, ticketID string) error

	// FindByKey returns the ticket for an idempotency key, or
	// ErrUnknownTicket if none exists.
	FindByKey(ctx context.Context, key string) (*Ticket, error)

	// Restock returns quantities to availability outside any ticket.
	// Used when a placed order is cancelled: its committed deduction is
	// permanent at the ticket level, so the return travels this way.
	Restock(ctx context.Context, lines []ReserveRequest) error
}
