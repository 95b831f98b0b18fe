package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// cartLineResponse is one live cart line.
type cartLineResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// GetCart returns a user's live cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	lines, err := h.carts.Lines(r.Context(), userID)
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	out := make([]cartLineResponse, len(lines))
	for i, l := range lines {
		out[i] = cartLineResponse{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	respondJSON(w, http.StatusOK, out)
}

// setCartLineRequest is the body of a cart line update.
type setCartLineRequest struct {
	Quantity int `json:"quantity"`
}

// SetCartLine sets the quantity of one product in a user's cart; zero removes
// the line. The live cart accepts anything — validation against the catalog
// happens when a checkout freezes the cart into a snapshot.
func (h *Handler) SetCartLine(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	productID := chi.URLParam(r, "productID")

	var req setCartLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity < 0 {
		respondError(w, http.StatusUnprocessableEntity, "quantity must not be negative")
		return
	}

	if err := h.carts.SetLine(r.Context(), userID, productID, req.Quantity); err != nil {
		respondInternal(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCart removes a user's whole cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.carts.Clear(r.Context(), userID); err != nil {
		respondInternal(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
