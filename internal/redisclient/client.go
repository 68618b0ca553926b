package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_stock.lua
var reserveStockScript string

//go:embed scripts/release_stock.lua
var releaseStockScript string

// ReserveResult is the outcome of a mirrored stock reservation
type ReserveResult int

const (
	ReserveOK           ReserveResult = iota // mirror decremented
	ReserveInsufficient                      // mirror reports not enough stock
	ReserveUnknown                           // product not mirrored, ask the database
)

type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveStockScript),
		releaseScript: redis.NewScript(releaseStockScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

// ReserveStock atomically decrements the mirrored stock for a product.
// The mirror is a fast-fail pre-check only; the database row stays
// authoritative.
func (c *Client) ReserveStock(ctx context.Context, productID int64, quantity int) (ReserveResult, error) {
	result, err := c.reserveScript.Run(ctx, c.rdb, []string{stockKey(productID)}, quantity).Result()
	if err != nil {
		return ReserveUnknown, fmt.Errorf("reserve stock script failed: %w", err)
	}

	switch result {
	case int64(1):
		return ReserveOK, nil
	case int64(0):
		return ReserveInsufficient, nil
	default:
		return ReserveUnknown, nil
	}
}

// ReleaseStock restores mirrored stock after a rollback or refund
func (c *Client) ReleaseStock(ctx context.Context, productID int64, quantity int) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{stockKey(productID)}, quantity).Result()
	if err != nil {
		return fmt.Errorf("release stock script failed: %w", err)
	}
	return nil
}

// SetStock seeds the mirrored stock value for a product
func (c *Client) SetStock(ctx context.Context, productID int64, stock int) error {
	return c.rdb.Set(ctx, stockKey(productID), stock, 0).Err()
}

// DropStock removes the mirror entry (product became untracked or inactive)
func (c *Client) DropStock(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, stockKey(productID)).Err()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), orderID, ttl).Err()
}

// GetIdempotentOrderID returns the order already created for a key, or 0
func (c *Client) GetIdempotentOrderID(ctx context.Context, key string) (int64, error) {
	id, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}
