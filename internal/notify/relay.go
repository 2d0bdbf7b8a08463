package notify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const relayChannelPrefix = "wplaunch:progress:"

type relayEnvelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisRelay fans progress events out to other instances over Redis
// pub/sub, so a stream attached to one instance sees a job running on
// another.
type RedisRelay struct {
	client *redis.Client
	origin string
	log    *zap.Logger
}

func NewRedisRelay(client *redis.Client, log *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, origin: uuid.NewString(), log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(relayEnvelope{Origin: r.origin, Event: ev})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, relayChannelPrefix+ev.Topic, payload).Err()
}

// Run delivers events published by other instances to local subscribers
// until ctx is done.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) {
	sub := r.client.PSubscribe(ctx, relayChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("dropping malformed relay message", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			if env.Event.Topic == "" {
				env.Event.Topic = strings.TrimPrefix(msg.Channel, relayChannelPrefix)
			}
			hub.Deliver(env.Event)
		}
	}
}
