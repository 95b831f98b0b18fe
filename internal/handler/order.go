package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/shopcore/checkout-engine/internal/domain/order"
)

// orderLineResponse is one immutable order line with its price at purchase.
type orderLineResponse struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// orderResponse is the JSON shape of a persisted order.
type orderResponse struct {
	ID        string              `json:"id"`
	UserID    string              `json:"user_id"`
	Status    string              `json:"status"`
	Lines     []orderLineResponse `json:"lines"`
	Total     float64             `json:"total"`
	OrderedAt time.Time           `json:"ordered_at"`
}

// GetOrder returns a single order by id.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	o, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			respondError(w, http.StatusNotFound, "order not found")
			return
		}
		respondInternal(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o))
}

// CancelOrder cancels a placed order, restocking its quantities.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.checkout.CancelOrder(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			respondError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, order.ErrInvalidTransition):
			respondError(w, http.StatusConflict, "order is already cancelled")
		default:
			respondInternal(w, r, err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListOrders returns a user's orders newest-first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	list, err := h.orders.ListByUser(r.Context(), userID)
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	out := make([]orderResponse, len(list))
	for i := range list {
		out[i] = toOrderResponse(&list[i])
	}
	respondJSON(w, http.StatusOK, out)
}

func toOrderResponse(o *order.Order) orderResponse {
	lines := make([]orderLineResponse, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = orderLineResponse{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.InexactFloat64(),
		}
	}
	return orderResponse{
		ID:        o.ID,
		UserID:    o.UserID,
		Status:    string(o.Status),
		Lines:     lines,
		Total:     o.Total.InexactFloat64(),
		OrderedAt: o.OrderedAt,
	}
}
