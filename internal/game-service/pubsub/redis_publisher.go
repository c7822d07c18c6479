package pubsub

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// ChannelRoundBroadcast é o canal Redis Pub/Sub consumido pelo hub WS.
const ChannelRoundBroadcast = "round_events_broadcast"

// RedisBroadcaster repassa eventos do engine para o Pub/Sub do Redis.
type RedisBroadcaster struct {
	r *redis.Client
}

func NewRedisBroadcaster(r *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{r: r}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.r.Publish(ctx, channel, payload).Err()
}
