package store

import (
	"context"
	"encoding/json"

	"punchcard-go/internal/models"

	"github.com/redis/go-redis/v9"
)

const cardEventChannel = "card_events"

// RedisStore carries the realtime card-event channel for the dashboard SSE
// stream. Postgres stays the system of record; nothing here is durable.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(opts *redis.Options) *RedisStore {
	rdb := redis.NewClient(opts)
	return &RedisStore{client: rdb}
}

func (s *RedisStore) PublishCardEvent(ctx context.Context, ev models.CardEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, cardEventChannel, data).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, cardEventChannel)
}
