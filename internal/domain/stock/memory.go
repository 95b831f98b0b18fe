package stock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shopcore/checkout-engine/internal/domain/catalog"
)

// MemoryLedger is an in-process Ledger backed by a mutex instead of row
// locks. It keeps the same semantics as the PostgreSQL ledger (all-or-nothing
// multi-line reservations, at-most-once per idempotency key, idempotent
// terminal transitions) and doubles as a catalog.Reader, which makes it the
// store of choice for unit tests and local development without a database.
type MemoryLedger struct {
	mu       sync.Mutex
	products map[string]*memProduct
	tickets  map[string]*Ticket
	byKey    map[string]string // idempotency key -> ticket id
}

type memProduct struct {
	name     string
	price    decimal.Decimal
	quantity int
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		products: make(map[string]*memProduct),
		tickets:  make(map[string]*Ticket),
		byKey:    make(map[string]string),
	}
}

// SetProduct creates or replaces a product with the given price and available
// quantity.
func (m *MemoryLedger) SetProduct(id, name string, price decimal.Decimal, quantity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id] = &memProduct{name: name, price: price, quantity: quantity}
}

// SetPrice changes a product's catalog price without touching its stock.
func (m *MemoryLedger) SetPrice(id string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[id]; ok {
		p.price = price
	}
}

// Available returns the current unreserved quantity for a product.
func (m *MemoryLedger) Available(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[id]; ok {
		return p.quantity
	}
	return 0
}

// Reserve implements Ledger.
func (m *MemoryLedger) Reserve(_ context.Context, key string, lines []ReserveRequest) (*Ticket, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[key]; ok {
		return copyTicket(m.tickets[id]), true, nil
	}

	// Merge duplicate product ids, then validate every line before the
	// first decrement.
	sorted := MergeRequests(lines)

	for _, l := range sorted {
		p, ok := m.products[l.ProductID]
		if !ok {
			return nil, false, &InsufficientStockError{ProductID: l.ProductID, Requested: l.Quantity}
		}
		if p.quantity < l.Quantity {
			return nil, false, &InsufficientStockError{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Available: p.quantity,
			}
		}
	}

	t := &Ticket{
		ID:             uuid.New().String(),
		IdempotencyKey: key,
		Status:         StatusPending,
		Lines:          make([]Line, len(sorted)),
		CreatedAt:      time.Now().UTC(),
	}
	for i, l := range sorted {
		p := m.products[l.ProductID]
		p.quantity -= l.Quantity
		t.Lines[i] = Line{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: p.price}
	}
	m.tickets[t.ID] = t
	m.byKey[key] = t.ID
	return copyTicket(t), false, nil
}

// Commit implements Ledger.
func (m *MemoryLedger) Commit(_ context.Context, ticketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[ticketID]
	if !ok {
		return ErrUnknownTicket
	}
	switch t.Status {
	case StatusCommitted:
		return nil
	case StatusReleased:
		return ErrInvalidTransition
	}
	t.Status = StatusCommitted
	return nil
}

// Release implements Ledger.
func (m *MemoryLedger) Release(_ context.Context, ticketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[ticketID]
	if !ok {
		return ErrUnknownTicket
	}
	switch t.Status {
	case StatusReleased:
		return nil
	case StatusCommitted:
		return ErrInvalidTransition
	}
	for _, l := range t.Lines {
		if p, ok := m.products[l.ProductID]; ok {
			p.quantity += l.Quantity
		}
	}
	t.Status = StatusReleased
	return nil
}

// Restock implements Ledger.
func (m *MemoryLedger) Restock(_ context.Context, lines []ReserveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range lines {
		if p, ok := m.products[l.ProductID]; ok {
			p.quantity += l.Quantity
		}
	}
	return nil
}

// FindByKey implements Ledger.
func (m *MemoryLedger) FindByKey(_ context.Context, key string) (*Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byKey[key]
	if !ok {
		return nil, ErrUnknownTicket
	}
	return copyTicket(m.tickets[id]), nil
}

// List implements catalog.Reader.
func (m *MemoryLedger) List(_ context.Context) ([]catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.products))
	for id := range m.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]catalog.Product, len(ids))
	for i, id := range ids {
		out[i] = m.toCatalog(id)
	}
	return out, nil
}

// GetByID implements catalog.Reader.
func (m *MemoryLedger) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[id]; !ok {
		return nil, catalog.ErrNotFound
	}
	p := m.toCatalog(id)
	return &p, nil
}

// GetByIDs implements catalog.Reader. Missing ids are skipped, not errors.
func (m *MemoryLedger) GetByIDs(_ context.Context, ids []string) ([]catalog.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]catalog.Product, 0, len(ids))
	for _, id := range ids {
		if _, ok := m.products[id]; ok {
			out = append(out, m.toCatalog(id))
		}
	}
	return out, nil
}

// toCatalog must be called with mu held.
func (m *MemoryLedger) toCatalog(id string) catalog.Product {
	p := m.products[id]
	return catalog.Product{ID: id, Name: p.name, Price: p.price, Quantity: p.quantity}
}

func copyTicket(t *Ticket) *Ticket {
	c := *t
	c.Lines = make([]Line, len(t.Lines))
	copy(c.Lines, t.Lines)
	return &c
}
