package cart

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"

	"github.com/shopcore/checkout-engine/internal/domain/catalog"
)

// SnapshotBuilder freezes live carts into validated snapshots. It is a pure
// read over the cart source and the catalog; it never mutates either.
type SnapshotBuilder struct {
	catalog catalog.Reader
}

// NewSnapshotBuilder creates a SnapshotBuilder backed by the given catalog.
func NewSnapshotBuilder(c catalog.Reader) *SnapshotBuilder {
	return &SnapshotBuilder{catalog: c}
}

// Build validates the given cart lines against the catalog and returns an
// immutable snapshot carrying current unit prices. It fails with ErrEmptyCart
// when the cart has no lines and with InvalidLineError when a line references
// a missing product or a non-positive quantity.
//
// Lines are merged by product id (a cart is a set keyed by product) and the
// result is ordered by product id so downstream lock acquisition is stable.
func (b *SnapshotBuilder) Build(ctx context.Context, userID string, lines []Line) (*Snapshot, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	merged := make(map[string]int, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, &InvalidLineError{ProductID: l.ProductID, Reason: "quantity must be greater than 0"}
		}
		if _, ok := merged[l.ProductID]; !ok {
			ids = append(ids, l.ProductID)
		}
		merged[l.ProductID] += l.Quantity
	}
	sort.Strings(ids)

	// Batch fetch all referenced products in a single query.
	fetched, err := b.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]catalog.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	snapshot := &Snapshot{
		UserID:  userID,
		Lines:   make([]SnapshotLine, 0, len(ids)),
		TakenAt: time.Now().UTC(),
	}
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, &InvalidLineError{ProductID: id, Reason: "product not found"}
		}
		snapshot.Lines = append(snapshot.Lines, SnapshotLine{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  merged[id],
			UnitPrice: p.Price,
		})
	}
	return snapshot, nil
}
