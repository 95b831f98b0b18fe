// Package redis implements the live cart source on Redis.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopcore/checkout-engine/internal/domain/cart"
)

// cartKey is the hash holding a user's live cart: field = product id,
// value = quantity.
const cartKey = "cart:user:%s"

// cartTTL bounds how long an untouched cart survives. Refreshed on every
// write.
const cartTTL = 7 * 24 * time.Hour

// NewClient connects to Redis using a redis:// URL and verifies the
// connection.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

var _ cart.Source = (*CartSource)(nil)

// CartSource implements cart.Source on a Redis hash per user. The cart is the
// one piece of state the engine reads but does not own: the storefront edits
// it freely until a checkout snapshot freezes it.
type CartSource struct {
	client *redis.Client
}

// NewCartSource returns a CartSource that uses the given client.
func NewCartSource(client *redis.Client) *CartSource {
	return &CartSource{client: client}
}

// Lines returns the current cart contents. A missing cart is empty, not an
// error.
func (s *CartSource) Lines(ctx context.Context, userID string) ([]cart.Line, error) {
	fields, err := s.client.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading cart for user %q: %w", userID, err)
	}

	lines := make([]cart.Line, 0, len(fields))
	for productID, raw := range fields {
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("cart for user %q has bad quantity %q for product %q", userID, raw, productID)
		}
		lines = append(lines, cart.Line{ProductID: productID, Quantity: qty})
	}
	return lines, nil
}

// SetLine sets the quantity for a product; zero removes the line.
func (s *CartSource) SetLine(ctx context.Context, userID, productID string, quantity int) error {
	key := s.key(userID)
	if quantity <= 0 {
		if err := s.client.HDel(ctx, key, productID).Err(); err != nil {
			return fmt.Errorf("removing cart line for user %q: %w", userID, err)
		}
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, productID, quantity)
	pipe.Expire(ctx, key, cartTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("setting cart line for user %q: %w", userID, err)
	}
	return nil
}

// Clear removes the whole cart.
func (s *CartSource) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("clearing cart for user %q: %w", userID, err)
	}
	return nil
}

func (s *CartSource) key(userID string) string {
	return fmt.Sprintf(cartKey, userID)
}
