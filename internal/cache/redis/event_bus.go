package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbx/internal/domain"
)

// channelPrefix namespaces all event channels in a shared Redis.
const channelPrefix = "arbx:events:"

// EventBus implements domain.EventBus over Redis Pub/Sub, one channel per
// event type. It lets multiple processes share one event stream; the
// in-process bus stays the default for single-binary deployments.
type EventBus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

var _ domain.EventBus = (*EventBus)(nil)

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client, logger *slog.Logger) *EventBus {
	return &EventBus{
		rdb:    c.Underlying(),
		logger: logger.With(slog.String("component", "redis_event_bus")),
	}
}

// Publish JSON-encodes the event and publishes it on its type channel.
// Pub/Sub delivery is fire-and-forget, which matches the bus contract:
// nobody listening means the event is dropped, not queued.
func (b *EventBus) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal event %s: %w", ev.Type, err)
	}
	if err := b.rdb.Publish(ctx, channelPrefix+ev.Type, data).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", ev.Type, err)
	}
	return nil
}

// Subscribe returns a channel of decoded events for the given types, or for
// all types when none are given. The subscription closes with ctx.
func (b *EventBus) Subscribe(ctx context.Context, types ...string) (<-chan domain.Event, error) {
	var pubsub *redis.PubSub
	if len(types) == 0 {
		pubsub = b.rdb.PSubscribe(ctx, channelPrefix+"*")
	} else {
		channels := make([]string, len(types))
		for i, t := range types {
			channels[i] = channelPrefix + t
		}
		pubsub = b.rdb.Subscribe(ctx, channels...)
	}

	// Verify the subscription is established.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe: %w", err)
	}

	out := make(chan domain.Event, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("dropping undecodable event",
						slog.String("channel", msg.Channel),
						slog.String("error", err.Error()),
					)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
