package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"flowdesk/backend/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const ChannelPrefix = "flowdesk:room:"

// RedisBridge fans events out to every instance. Publish goes through Redis
// and each instance's Run loop hands what it receives to its local Hub.
type RedisBridge struct {
	client *redis.Client
	hub    *Hub
	log    *logger.Logger
}

func NewRedisBridge(client *redis.Client, hub *Hub, log *logger.Logger) *RedisBridge {
	return &RedisBridge{client: client, hub: hub, log: log.Named("realtime_bridge")}
}

func (b *RedisBridge) Publish(ctx context.Context, room string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.client.Publish(ctx, ChannelPrefix+room, data).Err()
}

// Subscribe starts listening and returns once the subscription is confirmed,
// so events published afterwards are not missed. Run consumes it.
func (b *RedisBridge) Subscribe(ctx context.Context) (*redis.PubSub, error) {
	sub := b.client.PSubscribe(ctx, ChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return sub, nil
}

// Run delivers messages from sub until ctx is done, then closes sub.
func (b *RedisBridge) Run(ctx context.Context, sub *redis.PubSub) {
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
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("invalid event on bridge", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			b.hub.Deliver(strings.TrimPrefix(msg.Channel, ChannelPrefix), ev)
		}
	}
}
