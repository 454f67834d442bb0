package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the slice of the redis API the deduper needs. Satisfied by
// redis.UniversalClient.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// NotificationDeduper short-circuits repeated webhook deliveries before they
// reach the database. It is an optimization only: the compare-and-swap on the
// payment record's status remains the correctness guarantee, so a Redis miss
// or outage just means the slow path runs.
type NotificationDeduper struct {
	client Client
	ttl    time.Duration
}

func NewNotificationDeduper(client Client, ttl time.Duration) *NotificationDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &NotificationDeduper{client: client, ttl: ttl}
}

// MarkOnce records that a notification key was processed. It returns true on
// the first call for a key and false for replays within the TTL. Errors are
// returned so the caller can fall through to the database path.
func (d *NotificationDeduper) MarkOnce(ctx context.Context, invoiceID, status string) (bool, error) {
	key := fmt.Sprintf("qpay:notify:%s:%s", invoiceID, status)
	first, err := d.client.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup mark: %w", err)
	}
	return first, nil
}

// Forget drops a dedup key, used when processing failed after the mark so a
// gateway retry can run the full path again.
func (d *NotificationDeduper) Forget(ctx context.Context, invoiceID, status string) error {
	key := fmt.Sprintf("qpay:notify:%s:%s", invoiceID, status)
	if err := d.client.Del(ctx, key).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("dedup forget: %w", err)
	}
	return nil
}
