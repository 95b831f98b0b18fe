//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const idempotencyHeader = "Idempotency-Key"

func keyHeader(key string) map[string]string {
	return map[string]string{idempotencyHeader: key}
}

func TestCheckout_PlacesOrder(t *testing.T) {
	userID := "it-" + uuid.NewString()
	fillCart(t, userID, "tiramisu", 2)   // 2 x $5.50
	fillCart(t, userID, "red-velvet", 1) // 1 x $4.50

	resp := doJSON(t, http.MethodPost, "/api/checkout",
		checkoutRequest{UserID: userID}, keyHeader(uuid.NewString()))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	result := decodeJSON[checkoutResponse](t, resp)
	if result.Outcome != "placed" {
		t.Fatalf("outcome: got %q, want placed", result.Outcome)
	}
	if result.Order == nil {
		t.Fatal("placed checkout must carry an order")
	}
	if result.Order.Total != 15.5 {
		t.Errorf("total: got %v, want 15.5", result.Order.Total)
	}
	if result.Order.Status != "placed" {
		t.Errorf("status: got %q, want placed", result.Order.Status)
	}

	// The live cart is cleared by the placed order.
	cartResp := doGet(t, fmt.Sprintf("/api/users/%s/cart", userID))
	defer cartResp.Body.Close()
	if lines := decodeJSON[[]cartLine](t, cartResp); len(lines) != 0 {
		t.Errorf("cart should be empty after checkout, got %d lines", len(lines))
	}

	// The order is visible in the user's history.
	histResp := doGet(t, fmt.Sprintf("/api/users/%s/orders", userID))
	defer histResp.Body.Close()
	history := decodeJSON[[]orderResponse](t, histResp)
	if len(history) != 1 || history[0].ID != result.Order.ID {
		t.Errorf("order history should contain the placed order")
	}
}

func TestCheckout_ReplaySameKey(t *testing.T) {
	userID := "it-" + uuid.NewString()
	key := uuid.NewString()
	fillCart(t, userID, "baklava", 3)

	first := doJSON(t, http.MethodPost, "/api/checkout", checkoutRequest{UserID: userID}, keyHeader(key))
	defer first.Body.Close()
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first attempt: expected 201, got %d", first.StatusCode)
	}
	firstResult := decodeJSON[checkoutResponse](t, first)

	second := doJSON(t, http.MethodPost, "/api/checkout", checkoutRequest{UserID: userID}, keyHeader(key))
	defer second.Body.Close()
	if second.StatusCode != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d", second.StatusCode)
	}

	secondResult := decodeJSON[checkoutResponse](t, second)
	if !secondResult.Replayed {
		t.Error("second attempt should report replayed")
	}
	if secondResult.Order == nil || secondResult.Order.ID != firstResult.Order.ID {
		t.Error("replay must return the original order")
	}
}

func TestCheckout_MissingKey(t *testing.T) {
	resp := doJSON(t, http.MethodPost, "/api/checkout", checkoutRequest{UserID: "someone"}, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	resp := doJSON(t, http.MethodPost, "/api/checkout",
		checkoutRequest{UserID: "it-" + uuid.NewString()}, keyHeader(uuid.NewString()))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCheckout_UnknownProduct(t *testing.T) {
	userID := "it-" + uuid.NewString()
	fillCart(t, userID, "no-such-product", 1)

	resp := doJSON(t, http.MethodPost, "/api/checkout",
		checkoutRequest{UserID: userID}, keyHeader(uuid.NewString()))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestCheckout_InsufficientStock(t *testing.T) {
	userID := "it-" + uuid.NewString()
	fillCart(t, userID, "panna-cotta", 100000)

	resp := doJSON(t, http.MethodPost, "/api/checkout",
		checkoutRequest{UserID: userID}, keyHeader(uuid.NewString()))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	// Nothing was decremented.
	prodResp := doGet(t, "/api/products/panna-cotta")
	defer prodResp.Body.Close()
	product := decodeJSON[productResponse](t, prodResp)
	if product.Quantity != 55 {
		t.Errorf("quantity: got %d, want seeded 55", product.Quantity)
	}
}

// Exercises the row-lock serialization in the database-backed ledger: more
// buyers than the stock can satisfy check out at once, and exactly the number
// that fits may win.
func TestCheckout_ConcurrentBuyersNeverOversell(t *testing.T) {
	const (
		buyers   = 20
		quantity = 7
	)

	before := doGet(t, "/api/products/creme-brulee")
	defer before.Body.Close()
	initial := decodeJSON[productResponse](t, before).Quantity

	users := make([]string, buyers)
	for i := range users {
		users[i] = "it-" + uuid.NewString()
		fillCart(t, users[i], "creme-brulee", quantity)
	}

	var placed, rejected atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for _, userID := range users {
		g.Go(func() error {
			body, err := json.Marshal(checkoutRequest{UserID: userID})
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				baseURL+"/api/checkout", bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(idempotencyHeader, uuid.NewString())

			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch resp.StatusCode {
			case http.StatusCreated:
				placed.Add(1)
			case http.StatusConflict:
				rejected.Add(1)
			default:
				return fmt.Errorf("user %s: unexpected status %d", userID, resp.StatusCode)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	want := int64(initial / quantity)
	if placed.Load() != want {
		t.Errorf("placed: got %d, want %d", placed.Load(), want)
	}
	if placed.Load()+rejected.Load() != buyers {
		t.Errorf("placed %d + rejected %d, want %d attempts total", placed.Load(), rejected.Load(), buyers)
	}

	after := doGet(t, "/api/products/creme-brulee")
	defer after.Body.Close()
	remaining := decodeJSON[productResponse](t, after).Quantity
	if wantLeft := int64(initial) - placed.Load()*quantity; int64(remaining) != wantLeft {
		t.Errorf("quantity: got %d, want %d", remaining, wantLeft)
	}
}

func TestCancelOrder_Restocks(t *testing.T) {
	before := doGet(t, "/api/products/macaron-mix")
	defer before.Body.Close()
	initial := decodeJSON[productResponse](t, before).Quantity

	userID := "it-" + uuid.NewString()
	fillCart(t, userID, "macaron-mix", 2)

	placed := doJSON(t, http.MethodPost, "/api/checkout",
		checkoutRequest{UserID: userID}, keyHeader(uuid.NewString()))
	defer placed.Body.Close()
	if placed.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", placed.StatusCode)
	}
	result := decodeJSON[checkoutResponse](t, placed)

	cancel := doJSON(t, http.MethodPost, "/api/orders/"+result.Order.ID+"/cancel", nil, nil)
	defer cancel.Body.Close()
	if cancel.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel: expected 204, got %d", cancel.StatusCode)
	}

	after := doGet(t, "/api/products/macaron-mix")
	defer after.Body.Close()
	if got := decodeJSON[productResponse](t, after).Quantity; got != initial {
		t.Errorf("quantity: got %d, want %d after cancel restock", got, initial)
	}

	again := doJSON(t, http.MethodPost, "/api/orders/"+result.Order.ID+"/cancel", nil, nil)
	defer again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Fatalf("second cancel: expected 409, got %d", again.StatusCode)
	}
}

func TestCheckout_StockIsDecrementedOnce(t *testing.T) {
	before := doGet(t, "/api/products/brownie")
	defer before.Body.Close()
	initial := decodeJSON[productResponse](t, before).Quantity

	userID := "it-" + uuid.NewString()
	key := uuid.NewString()
	fillCart(t, userID, "brownie", 4)

	for i := range 3 {
		resp := doJSON(t, http.MethodPost, "/api/checkout", checkoutRequest{UserID: userID}, keyHeader(key))
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
			t.Fatalf("attempt %d: unexpected status %d", i+1, resp.StatusCode)
		}
	}

	after := doGet(t, "/api/products/brownie")
	defer after.Body.Close()
	remaining := decodeJSON[productResponse](t, after).Quantity
	if remaining != initial-4 {
		t.Errorf("quantity: got %d, want %d (single decrement across retries)", remaining, initial-4)
	}
}
