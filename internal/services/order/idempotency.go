package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"restaurant-system/internal/models"
)

const (
	inFlightMarker = "__pending__"
	inFlightTTL    = time.Minute
)

// RedisIdempotency remembers which order an Idempotency-Key produced
type RedisIdempotency struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisIdempotency creates an idempotency store; completed keys live for ttl
func NewRedisIdempotency(client redis.Cmdable, ttl time.Duration) *RedisIdempotency {
	return &RedisIdempotency{client: client, ttl: ttl}
}

func idempotencyKey(restaurantID, key string) string {
	return fmt.Sprintf("idem:%s:%s", restaurantID, key)
}

// Reserve claims key for a new checkout. When the key was already used it returns
// the order id it produced and reserved=false.
func (s *RedisIdempotency) Reserve(ctx context.Context, restaurantID, key string) (string, bool, error) {
	k := idempotencyKey(restaurantID, key)

	ok, err := s.client.SetNX(ctx, k, inFlightMarker, inFlightTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return "", true, nil
	}

	orderID, err := s.client.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil), orderID == inFlightMarker:
		return "", false, models.ErrIdempotencyInProgress
	case err != nil:
		return "", false, fmt.Errorf("read idempotency key: %w", err)
	}

	return orderID, false, nil
}

// Complete binds key to the order it created
func (s *RedisIdempotency) Complete(ctx context.Context, restaurantID, key, orderID string) error {
	if err := s.client.Set(ctx, idempotencyKey(restaurantID, key), orderID, s.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release frees a reservation whose checkout failed before an order was stored
func (s *RedisIdempotency) Release(ctx context.Context, restaurantID, key string) error {
	if err := s.client.Del(ctx, idempotencyKey(restaurantID, key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
