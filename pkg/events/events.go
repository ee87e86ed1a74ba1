package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Topic builders (global convention across services)
func NewPostTopic(campaignID, platform string) string {
	return fmt.Sprintf("NEW_POST_%s_%s", campaignID, platform)
}

func NewEngagementTopic(campaignID, platform string) string {
	return fmt.Sprintf("NEW_ENGAGEMENT_%s_%s", campaignID, platform)
}

func PointsUpdatedTopic(campaignID string) string {
	return fmt.Sprintf("POINTS_UPDATED_%s", campaignID)
}

// Publisher fans domain events out to subscribed dashboards over redis
// pub/sub. Delivery is fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

type redisPublisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) Publisher {
	return &redisPublisher{rdb: rdb}
}

func (p *redisPublisher) Publish(ctx context.Context, topic string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if err := p.rdb.Publish(ctx, topic, b).Err(); err != nil {
		zap.L().Warn("failed to publish event", zap.String("topic", topic), zap.Error(err))
		return err
	}

	return nil
}
