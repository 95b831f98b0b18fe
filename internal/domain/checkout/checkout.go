// Package checkout implements the checkout coordinator: the single
// orchestrator of the snapshot, reserve, charge, commit-or-release sequence
// and the only writer of orders.
package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/shopcore/checkout-engine/internal/domain/order"
)

// Sentinel errors surfaced to callers.
var (
	// ErrMissingIdempotencyKey is returned when a checkout attempt does
	// not identify itself. Every entry point must be safely re-invokable,
	// which is impossible without a key.
	ErrMissingIdempotencyKey = errors.New("idempotency key required")
	// ErrPaymentDeclined is returned after the gateway declines a charge.
	// The reservation is already released when the caller sees it.
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentTimeout is returned when the gateway does not answer
	// within the configured deadline. The reservation is already released;
	// a late success is discarded and compensated on the gateway side.
	ErrPaymentTimeout = errors.New("payment timed out")
)

// PaymentGateway is the external payment collaborator. It is invoked exactly
// once per reservation with the ticket id as reference, so retries are
// deduplicated on the gateway's side. A declined charge is ErrPaymentDeclined;
// an expired ctx means no answer arrived in time.
type PaymentGateway interface {
	Charge(ctx context.Context, amount decimal.Decimal, reference string) error
}

// EventPublisher receives order lifecycle notifications. Publishing is
// best-effort: a failed publish never fails a checkout.
type EventPublisher interface {
	OrderPlaced(ctx context.Context, o *order.Order) error
	OrderCancelled(ctx context.Context, o *order.Order) error
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) OrderPlaced(context.Context, *order.Order) error    { return nil }
func (NopPublisher) OrderCancelled(context.Context, *order.Order) error { return nil }

// Outcome is the terminal state of a checkout attempt.
type Outcome string

const (
	// OutcomePlaced means the reservation was committed and an order
	// persisted.
	OutcomePlaced Outcome = "placed"
	// OutcomeReleased means the reservation was returned to stock and no
	// placed order exists for the attempt.
	OutcomeReleased Outcome = "released"
)

// Request identifies one checkout attempt. The same key presented again, by a
// browser retry or a network blip, must produce the same effect exactly once.
type Request struct {
	UserID         string
	IdempotencyKey string
}

// Result is the terminal outcome of a checkout attempt.
type Result struct {
	Outcome Outcome
	// Order is the placed order, or the cancelled audit record of a
	// released attempt when one was written. Nil otherwise.
	Order *order.Order
	// Replayed reports that a prior attempt with the same key already
	// reached a terminal state and its outcome was returned without
	// re-executing side effects.
	Replayed bool
}
