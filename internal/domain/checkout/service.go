package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopcore/checkout-engine/internal/domain/cart"
	"github.com/shopcore/checkout-engine/internal/domain/order"
	"github.com/shopcore/checkout-engine/internal/domain/stock"
)

// Config holds the coordinator's tunables.
type Config struct {
	// PaymentTimeout bounds the wait for the payment gateway. An attempt
	// that exceeds it is treated as a payment failure and released.
	PaymentTimeout time.Duration
	// RecordCancelled controls whether a failed-payment attempt leaves a
	// visible cancelled order. On by default for auditability.
	RecordCancelled bool
}

// Service is the checkout coordinator. One logical instance exists per
// process; each Checkout call runs one attempt identified by its idempotency
// key through the state machine
//
//	Building -> Reserving -> AwaitingPayment -> Finalizing -> Done(placed)
//
// with Done(released) reachable from Reserving (insufficient stock) and
// AwaitingPayment (declined or timed-out payment). No database lock is held
// across the payment wait: the stock decrement is durably committed by the
// ledger before the gateway is called.
type Service struct {
	carts     cart.Source
	snapshots *cart.SnapshotBuilder
	ledger    stock.Ledger
	orders    order.Store
	payments  PaymentGateway
	events    EventPublisher
	cfg       Config
}

// NewService creates a checkout coordinator. A nil events publisher disables
// publishing.
func NewService(
	carts cart.Source,
	snapshots *cart.SnapshotBuilder,
	ledger stock.Ledger,
	orders order.Store,
	payments PaymentGateway,
	events EventPublisher,
	cfg Config,
) *Service {
	if events == nil {
		events = NopPublisher{}
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 30 * time.Second
	}
	return &Service{
		carts:     carts,
		snapshots: snapshots,
		ledger:    ledger,
		orders:    orders,
		payments:  payments,
		events:    events,
		cfg:       cfg,
	}
}

// Checkout runs one checkout attempt end to end. Re-invocation with a key
// that already reached a terminal state returns the original outcome without
// re-reserving, re-charging, or re-persisting. An attempt found mid-flight
// (pending ticket, e.g. after a crash between reserve and payment) resumes
// from the payment step with the existing ticket.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	if req.IdempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}
	lg := zctx.From(ctx).With(
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("user_id", req.UserID),
	)

	// Replay: a known key short-circuits before any side effect.
	ticket, err := s.ledger.FindByKey(ctx, req.IdempotencyKey)
	switch {
	case err == nil && ticket.Status != stock.StatusPending:
		return s.replay(ctx, ticket)
	case err == nil:
		// Pending ticket: stock is held but the attempt never finished.
		lg.Info("Resuming pending checkout", zap.String("ticket_id", ticket.ID))
		return s.awaitPayment(ctx, req, ticket)
	case !errors.Is(err, stock.ErrUnknownTicket):
		return nil, errors.Wrap(err, "find ticket")
	}

	// Building: freeze the live cart into a validated snapshot.
	lines, err := s.carts.Lines(ctx, req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "read cart")
	}
	snapshot, err := s.snapshots.Build(ctx, req.UserID, lines)
	if err != nil {
		return nil, err
	}

	// Reserving: atomic all-or-nothing hold with price re-confirmation.
	reqs := make([]stock.ReserveRequest, len(snapshot.Lines))
	for i, l := range snapshot.Lines {
		reqs[i] = stock.ReserveRequest{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	ticket, replayed, err := s.ledger.Reserve(ctx, req.IdempotencyKey, reqs)
	if err != nil {
		// Insufficient stock ends the attempt in Done(released) without
		// ever reaching payment; nothing was decremented.
		return nil, err
	}
	if replayed && ticket.Status != stock.StatusPending {
		// Lost a race with a concurrent retry that already finished.
		return s.replay(ctx, ticket)
	}
	lg.Info("Stock reserved",
		zap.String("ticket_id", ticket.ID),
		zap.Int("lines", len(ticket.Lines)),
		zap.String("total", ticket.Total().String()),
	)

	return s.awaitPayment(ctx, req, ticket)
}

// CancelOrder cancels a placed order and independently returns its quantities
// to stock. This is the one mutation allowed after an order exists; the
// committed ticket stays committed, the return travels through Restock.
func (s *Service) CancelOrder(ctx context.Context, orderID string) error {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	if err := s.orders.Cancel(ctx, orderID); err != nil {
		return err
	}

	reqs := make([]stock.ReserveRequest, len(o.Lines))
	for i, l := range o.Lines {
		reqs[i] = stock.ReserveRequest{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	if err := s.ledger.Restock(ctx, reqs); err != nil {
		return errors.Wrap(err, "restock cancelled order")
	}

	o.Status = order.StatusCancelled
	if err := s.events.OrderCancelled(ctx, o); err != nil {
		zctx.From(ctx).Warn("Publishing order cancelled event failed", zap.Error(err))
	}

	zctx.From(ctx).Info("Order cancelled",
		zap.String("order_id", o.ID),
		zap.Int("lines_restocked", len(reqs)),
	)
	return nil
}

// awaitPayment drives AwaitingPayment -> Finalizing -> Done. The ticket's
// decrement is already durable, so no lock is held while the gateway is slow.
func (s *Service) awaitPayment(ctx context.Context, req Request, ticket *stock.Ticket) (*Result, error) {
	lg := zctx.From(ctx).With(zap.String("ticket_id", ticket.ID))

	chargeCtx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	err := s.payments.Charge(chargeCtx, ticket.Total(), ticket.ID)
	cancel()

	switch {
	case err == nil:
		return s.finalize(ctx, req, ticket)
	case errors.Is(err, ErrPaymentDeclined):
		lg.Info("Payment declined, releasing reservation")
		if rerr := s.rollback(ctx, req, ticket); rerr != nil {
			return nil, rerr
		}
		return nil, ErrPaymentDeclined
	case errors.Is(err, context.DeadlineExceeded):
		// No answer within the deadline counts as failure. If the
		// gateway answers success later, the charge references a ticket
		// that is already terminal; compensation is the gateway's job.
		lg.Warn("Payment timed out, releasing reservation",
			zap.Duration("timeout", s.cfg.PaymentTimeout))
		if rerr := s.rollback(ctx, req, ticket); rerr != nil {
			return nil, rerr
		}
		return nil, ErrPaymentTimeout
	default:
		// Transport-level failure: release so no stock stays held for an
		// attempt whose charge state is unknown.
		lg.Error("Payment gateway error, releasing reservation", zap.Error(err))
		if rerr := s.rollback(ctx, req, ticket); rerr != nil {
			return nil, rerr
		}
		return nil, errors.Wrap(err, "charge")
	}
}

// finalize commits the ticket and persists the placed order with the ticket's
// price-snapshotted lines.
func (s *Service) finalize(ctx context.Context, req Request, ticket *stock.Ticket) (*Result, error) {
	lg := zctx.From(ctx).With(zap.String("ticket_id", ticket.ID))

	if err := s.ledger.Commit(ctx, ticket.ID); err != nil {
		return nil, errors.Wrap(err, "commit ticket")
	}

	o := s.orderFromTicket(req, ticket, order.StatusPlaced)
	if err := s.orders.Save(ctx, o); err != nil {
		if errors.Is(err, order.ErrDuplicateOrder) {
			// A concurrent retry finalized first; its order is ours.
			return s.replay(ctx, ticket)
		}
		return nil, errors.Wrap(err, "save order")
	}

	// The live cart is consumed by a placed order. Best effort: the order
	// stands even if the clear fails.
	if err := s.carts.Clear(ctx, req.UserID); err != nil {
		lg.Warn("Clearing cart failed", zap.Error(err))
	}
	if err := s.events.OrderPlaced(ctx, o); err != nil {
		lg.Warn("Publishing order placed event failed", zap.Error(err))
	}

	lg.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("total", o.Total.String()),
	)
	return &Result{Outcome: OutcomePlaced, Order: o}, nil
}

// rollback releases the reservation and, when configured, records a cancelled
// order for the failed attempt.
func (s *Service) rollback(ctx context.Context, req Request, ticket *stock.Ticket) error {
	lg := zctx.From(ctx).With(zap.String("ticket_id", ticket.ID))

	if err := s.ledger.Release(ctx, ticket.ID); err != nil {
		return errors.Wrap(err, "release ticket")
	}
	if !s.cfg.RecordCancelled {
		return nil
	}

	o := s.orderFromTicket(req, ticket, order.StatusCancelled)
	if err := s.orders.Save(ctx, o); err != nil && !errors.Is(err, order.ErrDuplicateOrder) {
		// The release already happened; a missing audit record is not
		// worth failing the rollback over.
		lg.Warn("Recording cancelled order failed", zap.Error(err))
		return nil
	}
	if err := s.events.OrderCancelled(ctx, o); err != nil {
		lg.Warn("Publishing order cancelled event failed", zap.Error(err))
	}
	return nil
}

// replay reconstructs the original outcome of a terminal attempt.
func (s *Service) replay(ctx context.Context, ticket *stock.Ticket) (*Result, error) {
	o, err := s.orders.GetByIdempotencyKey(ctx, ticket.IdempotencyKey)
	if err != nil && !errors.Is(err, order.ErrNotFound) {
		return nil, errors.Wrap(err, "load prior order")
	}

	switch ticket.Status {
	case stock.StatusCommitted:
		if o == nil {
			// Committed ticket without an order means a crash between
			// commit and save; the order was never observable, so the
			// attempt is not terminal after all. Surface it as an
			// integrity error rather than inventing an outcome.
			return nil, errors.Errorf("ticket %s committed but no order recorded", ticket.ID)
		}
		return &Result{Outcome: OutcomePlaced, Order: o, Replayed: true}, nil
	case stock.StatusReleased:
		return &Result{Outcome: OutcomeReleased, Order: o, Replayed: true}, nil
	default:
		return nil, errors.Errorf("ticket %s is not terminal", ticket.ID)
	}
}

func (s *Service) orderFromTicket(req Request, ticket *stock.Ticket, status order.Status) *order.Order {
	lines := make([]order.Line, len(ticket.Lines))
	for i, l := range ticket.Lines {
		lines[i] = order.Line{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice}
	}
	return &order.Order{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		Status:         status,
		Lines:          lines,
		Total:          ticket.Total(),
		OrderedAt:      time.Now().UTC(),
	}
}
