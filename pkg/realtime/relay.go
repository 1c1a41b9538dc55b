package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/cohort/pkg/observability"
)

// envelope is the Redis payload
type envelope struct {
	Group string `json:"group"`
	Event Event  `json:"event"`
}

// RedisRelay shares broadcasts between processes over a Redis pub/sub
// channel. Each process delivers relayed events to its own hub; group
// membership is never shared.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *observability.Logger
}

// NewRedisRelay creates a relay for hub
func NewRedisRelay(client *redis.Client, channel string, hub *Hub, logger *observability.Logger) *RedisRelay {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		hub:     hub,
		logger:  logger.WithComponent("realtime_relay"),
	}
}

// Publish sends the event to every process, including this one. When Redis
// is unreachable the event is still delivered locally and the error returned.
func (r *RedisRelay) Publish(ctx context.Context, group string, ev Event) error {
	payload, err := json.Marshal(envelope{Group: group, Event: ev})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.hub.Deliver(group, ev)
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Run subscribes to the channel and feeds the local hub until ctx is done
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.logger.WithField("channel", r.channel).Info("realtime relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.WithError(err).Warn("discarding undecodable relay message")
				continue
			}
			if err := ValidateGroup(env.Group); err != nil {
				r.logger.WithError(err).Warn("discarding relay message for unknown group")
				continue
			}
			r.hub.Deliver(env.Group, env.Event)
		}
	}
}
