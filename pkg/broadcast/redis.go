package broadcast

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/iddaa-lens/redpacket/pkg/models"
)

// DefaultChannel is the pub/sub channel used when none is configured
const DefaultChannel = "redpacket:service"

// RedisBroadcaster publishes signals on a Redis pub/sub channel
type RedisBroadcaster struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisBroadcaster creates a publisher on channel
func NewRedisBroadcaster(client redis.UniversalClient, channel string) (*RedisBroadcaster, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBroadcaster{client: client, channel: channel}, nil
}

// Channel returns the pub/sub channel name
func (r *RedisBroadcaster) Channel() string {
	return r.channel
}

func (r *RedisBroadcaster) Broadcast(ctx context.Context, signal models.Signal) error {
	if err := r.client.Publish(ctx, r.channel, string(signal)).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", signal, err)
	}
	return nil
}

// Listen subscribes to channel and forwards each signal to fn until ctx ends
func Listen(ctx context.Context, client redis.UniversalClient, channel string, fn func(models.Signal)) error {
	if channel == "" {
		channel = DefaultChannel
	}
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			fn(models.Signal(msg.Payload))
		}
	}
}

var _ Broadcaster = (*RedisBroadcaster)(nil)
