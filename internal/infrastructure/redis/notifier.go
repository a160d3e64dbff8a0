package redis

import (
	"context"
	"encoding/json"

	"procureflow/internal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes approval events on Pub/Sub for the notification
// service to fan out as email/SMS. Fire-and-forget: the engine logs publish
// failures and moves on.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{
		client:  client,
		channel: "approval:events",
	}
}

func (n *RedisNotifier) Notify(ctx context.Context, event domain.ApprovalEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return n.client.Publish(ctx, n.channel, payload).Err()
}
