package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Cache wraps the raw client with the key conventions of this service.
// Redis is an accelerator here, never the source of truth: every caller
// tolerates a miss or an error and falls back to Postgres.
type Cache struct{ RDB *redis.Client }

func NewCache(addr string) *Cache {
	return &Cache{RDB: New(addr)}
}

func (c *Cache) Close() error { return c.RDB.Close() }

// SetCheckoutIdem remembers which order a checkout external_id produced.
func (c *Cache) SetCheckoutIdem(ctx context.Context, externalID, orderID string) error {
	return c.RDB.Set(ctx, fmt.Sprintf(KeyIdemCheckout, externalID), orderID, TTLIdempotency).Err()
}

func (c *Cache) GetProgress(ctx context.Context, orderID string) (string, error) {
	return c.RDB.Get(ctx, fmt.Sprintf(KeyProgress, orderID)).Result()
}

func (c *Cache) SetProgress(ctx context.Context, orderID string, body []byte) error {
	return c.RDB.Set(ctx, fmt.Sprintf(KeyProgress, orderID), body, TTLProgress).Err()
}

// InvalidateProgress drops the cached view after any installment transition.
func (c *Cache) InvalidateProgress(ctx context.Context, orderID string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyProgress, orderID)).Err()
}

// SeenEvent reports whether a consumer already finished processing an event.
// Read-only: a failed handling attempt must stay retryable, so the dedup key
// is only written via MarkEvent once the handler succeeded.
func (c *Cache) SeenEvent(ctx context.Context, service, eventID string) (bool, error) {
	n, err := c.RDB.Exists(ctx, fmt.Sprintf(KeyDedup, service, eventID)).Result()
	return n > 0, err
}

// MarkEvent records an event as processed, after successful handling.
func (c *Cache) MarkEvent(ctx context.Context, service, eventID string) error {
	return c.RDB.Set(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Err()
}
