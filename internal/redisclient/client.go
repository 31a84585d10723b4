package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/restore_stock.lua
var restoreStockScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

// ErrLockNotHeld is returned when releasing a lock whose token no longer
// matches, because it expired or another holder took it.
var ErrLockNotHeld = errors.New("lock not held")

type Client struct {
	rdb           *redis.Client
	restoreScript *redis.Script
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

	return NewClientWithRedis(rdb), nil
}

// NewClientWithRedis wraps an existing connection
func NewClientWithRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		restoreScript: redis.NewScript(restoreStockScript),
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// ProductStockKey is the cache key of a product's stock
func ProductStockKey(productID int64) string {
	return fmt.Sprintf("stock:product:%d", productID)
}

// VariantStockKey is the cache key of a variant's stock
func VariantStockKey(variantID int64) string {
	return fmt.Sprintf("stock:variant:%d", variantID)
}

// UserChannel is the pub/sub channel carrying a user's realtime notifications
func UserChannel(userID int64) string {
	return fmt.Sprintf("notifications:user:%d", userID)
}

// RestoreStock atomically adds quantity back to a cached stock counter.
// Returns false when the key is not cached; the cache is never created here
// so a cold cache cannot be seeded with a partial value.
func (c *Client) RestoreStock(ctx context.Context, key string, quantity int) (bool, error) {
	result, err := c.restoreScript.Run(ctx, c.rdb, []string{key}, quantity).Result()
	if err != nil {
		return false, fmt.Errorf("restore stock script failed: %w", err)
	}

	newStock, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	return newStock >= 0, nil
}

// InitStock sets a cached stock counter
func (c *Client) InitStock(ctx context.Context, key string, stock int) error {
	return c.rdb.Set(ctx, key, stock, 0).Err()
}

// Publish sends payload on a pub/sub channel
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

// SubscribeUser streams the payloads pushed on a user's channel. The
// returned func closes the subscription and the stream.
func (c *Client) SubscribeUser(ctx context.Context, userID int64) (<-chan []byte, func(), error) {
	pubsub := c.rdb.Subscribe(ctx, UserChannel(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", UserChannel(userID), err)
	}

	out := make(chan []byte)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			pubsub.Close()
		})
	}
	return out, stop, nil
}

func lockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

// AcquireLock acquires a distributed lock. The returned token identifies
// this holder and must be passed to ReleaseLock.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	acquired, err := c.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock only if it is still held with token
func (c *Client) ReleaseLock(ctx context.Context, key, token string) error {
	released, err := c.releaseScript.Run(ctx, c.rdb, []string{lockKey(key)}, token).Int()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	if released == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, key)
	}
	return nil
}
