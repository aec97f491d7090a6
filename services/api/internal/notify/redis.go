package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher is the subset of *redis.Client used here.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier broadcasts events on a per-zone pub/sub channel so live canvas
// viewers see bids and sales as they happen.
type RedisNotifier struct {
	client RedisPublisher
	prefix string
}

func NewRedis(client RedisPublisher, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = "zone_events"
	}
	return &RedisNotifier{client: client, prefix: prefix}
}

func (n *RedisNotifier) Channel(ev Event) string {
	return fmt.Sprintf("%s:%s", n.prefix, ev.ZoneID)
}

func (n *RedisNotifier) Notify(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.client.Publish(ctx, n.Channel(ev), data).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}
