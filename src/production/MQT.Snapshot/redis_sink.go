package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink stores each snapshot under "<prefix>:<location>:<room>" with a TTL
// and publishes it on a channel of the same name, for dashboards that read
// redis rather than MQTT.
type RedisSink struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisSink creates a RedisSink. ttl should outlive a few publish intervals
// so a stalled relay makes the keys expire instead of showing stale values.
func NewRedisSink(client redis.Cmdable, prefix string, ttl time.Duration) *RedisSink {
	return &RedisSink{client: client, prefix: prefix, ttl: ttl}
}

// Name implements Sink
func (s *RedisSink) Name() string { return "redis" }

// Key returns the redis key used for a (location, room) pair
func (s *RedisSink) Key(location, room string) string {
	return s.prefix + ":" + location + ":" + room
}

// Publish implements Sink
func (s *RedisSink) Publish(ctx context.Context, msg Message) error {
	key := s.Key(msg.Location, msg.Room)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, msg.Payload, s.ttl)
		pipe.Publish(ctx, key, msg.Payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis snapshot %s: %w", key, err)
	}
	return nil
}
