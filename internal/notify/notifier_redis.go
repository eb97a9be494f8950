package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"cirvia/pkg/domain"
)

// RedisNotifier publishes notifications on per-user pub/sub channels. Delivery
// is fire-and-forget; consumers subscribe to their own channel.
type RedisNotifier struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisNotifier(client *redis.Client, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger}
}

func channelFor(userID domain.UserID) string {
	return "notify:user:" + userID.String()
}

func (n *RedisNotifier) NotifyUser(ctx context.Context, userID domain.UserID, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := n.client.Publish(ctx, channelFor(userID), data).Err(); err != nil {
		if n.logger != nil {
			n.logger.ErrorContext(ctx, "failed to publish notification",
				"user_id", userID, "error", err)
		}
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
