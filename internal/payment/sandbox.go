// Package payment holds payment gateway implementations. Real gateway
// integration lives outside this service; the engine only needs something
// honoring the checkout.PaymentGateway contract.
package payment

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shopcore/checkout-engine/internal/domain/checkout"
)

var _ checkout.PaymentGateway = (*Sandbox)(nil)

// Sandbox is a deterministic stand-in gateway for local development and
// testing. Behaviour is selected by the charge amount's cents:
//
//	.13  -> declined
//	.77  -> never answers (exercises the payment timeout path)
//	else -> approved after Latency
type Sandbox struct {
	// Latency delays every approval, imitating a slow collaborator.
	Latency time.Duration
}

// Charge implements checkout.PaymentGateway.
func (s *Sandbox) Charge(ctx context.Context, amount decimal.Decimal, _ string) error {
	switch cents(amount) {
	case "13":
		return checkout.ErrPaymentDeclined
	case "77":
		<-ctx.Done()
		return ctx.Err()
	}

	if s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func cents(amount decimal.Decimal) string {
	parts := strings.SplitN(amount.StringFixed(2), ".", 2)
	return parts[1]
}
