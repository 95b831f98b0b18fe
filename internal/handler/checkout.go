package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-faster/errors"

	"github.com/shopcore/checkout-engine/internal/domain/cart"
	"github.com/shopcore/checkout-engine/internal/domain/checkout"
	"github.com/shopcore/checkout-engine/internal/domain/order"
	"github.com/shopcore/checkout-engine/internal/domain/stock"
)

// IdempotencyKeyHeader identifies one logical checkout attempt across
// retries. The storefront generates it per cart-submit action.
const IdempotencyKeyHeader = "Idempotency-Key"

// checkoutRequest is the body of a checkout call.
type checkoutRequest struct {
	UserID string `json:"user_id"`
}

// checkoutResponse reports the terminal outcome of a checkout attempt.
type checkoutResponse struct {
	Outcome  string         `json:"outcome"`
	Order    *orderResponse `json:"order,omitempty"`
	Replayed bool           `json:"replayed,omitempty"`
}

// Checkout runs one checkout attempt. Retried requests must carry the same
// Idempotency-Key and receive the original outcome.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" {
		respondError(w, http.StatusBadRequest, "Idempotency-Key header required")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id required")
		return
	}

	result, err := h.checkout.Checkout(r.Context(), checkout.Request{
		UserID:         req.UserID,
		IdempotencyKey: key,
	})
	if err != nil {
		h.respondCheckoutError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	resp := checkoutResponse{Outcome: string(result.Outcome), Replayed: result.Replayed}
	if result.Order != nil {
		o := toOrderResponse(result.Order)
		resp.Order = &o
	}
	respondJSON(w, status, resp)
}

// respondCheckoutError maps coordinator failures to caller-facing outcomes.
// Recoverable conditions keep their detail; integrity errors are logged and
// reported generically.
func (h *Handler) respondCheckoutError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalidLine  *cart.InvalidLineError
		insufficient *stock.InsufficientStockError
	)
	switch {
	case errors.Is(err, cart.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "cart is empty")
	case errors.As(err, &invalidLine):
		respondError(w, http.StatusUnprocessableEntity, invalidLine.Error())
	case errors.As(err, &insufficient):
		respondError(w, http.StatusConflict, insufficient.Error())
	case errors.Is(err, checkout.ErrPaymentDeclined):
		respondError(w, http.StatusPaymentRequired, "payment declined")
	case errors.Is(err, checkout.ErrPaymentTimeout):
		respondError(w, http.StatusGatewayTimeout, "payment timed out")
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, stock.ErrUnknownTicket),
		errors.Is(err, stock.ErrInvalidTransition):
		// Integrity errors: should not occur under correct usage.
		respondInternal(w, r, err)
	default:
		respondInternal(w, r, err)
	}
}
