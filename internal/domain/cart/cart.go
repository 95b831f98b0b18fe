// Package cart models the live shopping cart and its immutable checkout
// snapshot.
//
// The live cart is a loosely structured, frequently mutated thing owned by the
// user session (stored in Redis, edited by the storefront). The instant a
// checkout begins it is frozen into a Snapshot; later edits to the live cart
// must not affect an in-flight checkout.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for snapshot building.
var ErrEmptyCart = errors.New("cart is empty")

// InvalidLineError indicates a cart line references a product that no longer
// exists in the catalog, or carries a non-positive quantity.
type InvalidLineError struct {
	ProductID string
	Reason    string
}

func (e *InvalidLineError) Error() string {
	return "invalid cart line for product " + e.ProductID + ": " + e.Reason
}

// Line is a single entry in a live cart: a product reference and a quantity.
type Line struct {
	ProductID string
	Quantity  int
}

// Source provides access to a user's live cart. Implementations own the
// mutable cart state; the checkout engine only reads it once per attempt and
// clears it after a placed order.
type Source interface {
	// Lines returns the current cart contents. An absent cart is an empty
	// slice, not an error.
	Lines(ctx context.Context, userID string) ([]Line, error)
	// SetLine sets the quantity for a product, removing the line when
	// quantity is zero.
	SetLine(ctx context.Context, userID, productID string, quantity int) error
	// Clear removes the whole cart.
	Clear(ctx context.Context, userID string) error
}

// SnapshotLine is one validated, price-carrying line of a frozen cart.
type SnapshotLine struct {
	ProductID string
	Name      string
	Quantity  int
	// UnitPrice is the catalog price read at snapshot time. Advisory only:
	// the stock ledger re-reads prices under its row locks at reservation.
	UnitPrice decimal.Decimal
}

// Snapshot is an immutable copy of a cart taken at checkout start.
type Snapshot struct {
	UserID  string
	Lines   []SnapshotLine
	TakenAt time.Time
}

// Subtotal returns the advisory total of the snapshot.
func (s *Snapshot) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}
