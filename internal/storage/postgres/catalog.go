package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopcore/checkout-engine/internal/domain/catalog"
)

const (
	listProductsSQL = `SELECT id, name, price, category, quantity
		FROM products ORDER BY id`

	getProductByIDSQL = `SELECT id, name, price, category, quantity
		FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT id, name, price, category, quantity
		FROM products WHERE id = ANY($1)`
)

var _ catalog.Reader = (*CatalogReader)(nil)

// CatalogReader implements catalog.Reader backed by PostgreSQL. Reads are
// plain committed reads; only the stock ledger takes row locks.
type CatalogReader struct {
	pool *pgxpool.Pool
}

// NewCatalogReader returns a CatalogReader that uses the given pool.
func NewCatalogReader(pool *pgxpool.Pool) *CatalogReader {
	return &CatalogReader{pool: pool}
}

// List returns all products ordered by ID.
func (r *CatalogReader) List(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *CatalogReader) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs. Missing ids are
// simply absent from the result.
func (r *CatalogReader) GetByIDs(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Category, &p.Quantity)
	return p, err
}
