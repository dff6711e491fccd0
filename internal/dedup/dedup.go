package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

// Cache is a short-lived idempotency cache over provider message ids.
// Carriers deliver webhooks at-least-once; the first delivery of an id wins
// and replays are no-ops. The usage log's unique index is the durable
// backstop when Redis forgets or fails.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) (*Cache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// MarkIfFirst records the id and reports whether this is its first sighting.
func (c *Cache) MarkIfFirst(ctx context.Context, providerMessageID string) (bool, error) {
	id := strings.TrimSpace(providerMessageID)
	if id == "" {
		return false, fmt.Errorf("provider message id is required")
	}

	first, err := c.client.SetNX(ctx, key(id), 1, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark message id: %w", err)
	}
	return first, nil
}

// Forget drops the dedup marker so the webhook may be reprocessed. Used when
// processing failed before any side effect happened.
func (c *Cache) Forget(ctx context.Context, providerMessageID string) error {
	return c.client.Del(ctx, key(strings.TrimSpace(providerMessageID))).Err()
}

func key(id string) string {
	return "dedup:inbound:" + id
}
