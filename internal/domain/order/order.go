// Package order defines finalized orders and their persistence contract.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a persisted order.
type Status string

const (
	// StatusPlaced means the order's stock deduction is committed.
	StatusPlaced Status = "placed"
	// StatusCancelled is the only state reachable from placed, and only
	// via Store.Cancel. Also used for the audit record of a checkout
	// attempt whose payment failed.
	StatusCancelled Status = "cancelled"
)

// Sentinel errors for order persistence.
var (
	ErrNotFound       = errors.New("order not found")
	ErrDuplicateOrder = errors.New("order already exists")
	// ErrInvalidTransition is returned when cancelling an already
	// cancelled order.
	ErrInvalidTransition = errors.New("invalid order transition")
)

// Line is one immutable order line. UnitPrice is the price at purchase,
// copied from the reservation ticket, never re-read from the catalog.
type Line struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Order is immutable once created except for the single placed to cancelled
// transition.
type Order struct {
	ID             string
	UserID         string
	IdempotencyKey string
	Status         Status
	Lines          []Line
	Total          decimal.Decimal
	OrderedAt      time.Time
}

// Store persists finalized orders.
type Store interface {
	// Save writes the order and its lines in one atomic write. Fails with
	// ErrDuplicateOrder when the id already exists.
	Save(ctx context.Context, o *Order) error
	// Cancel transitions a placed order to cancelled. The only allowed
	// mutation. Fails with ErrInvalidTransition when already cancelled
	// and ErrNotFound when the id is unknown.
	Cancel(ctx context.Context, orderID string) error
	GetByID(ctx context.Context, orderID string) (*Order, error)
	// GetByIdempotencyKey returns the order recorded for a checkout
	// attempt, or ErrNotFound.
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	// ListByUser returns a user's orders newest-first.
	ListByUser(ctx context.Context, userID string) ([]Order, error)
}
