package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"lms-payment-service/models"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// RedisCartRepository reads carts written by the cart service.
type RedisCartRepository struct {
	client *redis.Client
}

func NewCartRepository(client *redis.Client) *RedisCartRepository {
	return &RedisCartRepository{client: client}
}

func cartKey(userID string) string {
	return fmt.Sprintf("cart:user:%s", userID)
}

// GetCart returns nil, nil when the user has no cart.
func (r *RedisCartRepository) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	data, err := r.client.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}

	var cart models.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, errors.Wrap(err, "decode cart")
	}
	if cart.UserID == "" {
		cart.UserID = userID
	}
	return &cart, nil
}

func (r *RedisCartRepository) ClearCart(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cartKey(userID)).Err(); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}
