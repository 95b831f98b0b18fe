// Package catalog defines the read-only view of the product catalog.
//
// The catalog itself (admin editing, categories, images) is owned by the
// surrounding storefront application; the checkout engine only ever reads
// current price and availability by product id.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog item as seen by the checkout engine.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Category string
	// Quantity is the available (unreserved) stock at read time. It is
	// advisory outside the stock ledger: only a ledger reservation may
	// rely on it.
	Quantity int
}

// Reader defines read operations against the product catalog.
type Reader interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
