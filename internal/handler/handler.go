// Package handler exposes the checkout engine to the surrounding storefront
// as a thin JSON API. All business rules live in the domain packages; the
// handlers translate requests and map structured failures to status codes.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/shopcore/checkout-engine/internal/domain/cart"
	"github.com/shopcore/checkout-engine/internal/domain/catalog"
	"github.com/shopcore/checkout-engine/internal/domain/checkout"
	"github.com/shopcore/checkout-engine/internal/domain/order"
)

// Handler serves the storefront-facing JSON API.
type Handler struct {
	catalog  catalog.Reader
	carts    cart.Source
	checkout *checkout.Service
	orders   order.Store
}

// New constructs a Handler with the required domain dependencies.
func New(
	c catalog.Reader,
	carts cart.Source,
	svc *checkout.Service,
	orders order.Store,
) *Handler {
	return &Handler{
		catalog:  c,
		carts:    carts,
		checkout: svc,
		orders:   orders,
	}
}

// Routes mounts all API routes on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/products", h.ListProducts)
	r.Get("/products/{id}", h.GetProduct)
	r.Get("/users/{userID}/cart", h.GetCart)
	r.Put("/users/{userID}/cart/{productID}", h.SetCartLine)
	r.Delete("/users/{userID}/cart", h.ClearCart)
	r.Get("/users/{userID}/orders", h.ListOrders)
	r.Post("/checkout", h.Checkout)
	r.Get("/orders/{id}", h.GetOrder)
	r.Post("/orders/{id}/cancel", h.CancelOrder)
	return r
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Code: status, Message: message})
}

// respondInternal logs the real error and returns a generic failure so
// internal identifiers never leak to callers.
func respondInternal(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("Internal error", zap.Error(err))
	respondError(w, http.StatusInternalServerError, "internal error")
}
