package webhook

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupTTL = 24 * time.Hour

// Deduper remembers delivery IDs so retried deliveries are acknowledged
// without being processed twice.
type Deduper interface {
	FirstDelivery(ctx context.Context, deliveryID, experienceID, action string) (bool, error)
}

// RedisDeduper claims delivery IDs with SETNX and lets them expire.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper on an existing client.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func deliveryKey(experienceID, deliveryID string) string {
	return "webhook:delivery:" + experienceID + ":" + deliveryID
}

func (d *RedisDeduper) FirstDelivery(ctx context.Context, deliveryID, experienceID, action string) (bool, error) {
	return d.client.SetNX(ctx, deliveryKey(experienceID, deliveryID), action, d.ttl).Result()
}
