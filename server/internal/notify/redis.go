package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/copperwatch/copperwatch/server/internal/alerts"
	"github.com/copperwatch/copperwatch/server/internal/config"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes events as JSON on a pub/sub channel.
type Redis struct {
	channel string
	client  publisher
	closer  func() error
}

// NewRedis connects a Redis notifier for cfg. The connection is lazy; the
// first Send reports an unreachable server.
func NewRedis(cfg config.RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis: addr is required")
	}
	if cfg.Channel == "" {
		cfg.Channel = config.DefaultRedisChannel
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password(),
		DB:       cfg.DB,
	})
	r := newRedis(cfg.Channel, client)
	r.closer = client.Close
	return r, nil
}

func newRedis(channel string, p publisher) *Redis {
	return &Redis{channel: channel, client: p}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Send(ctx context.Context, ev alerts.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fail(r.Name(), fmt.Errorf("marshal event: %w", err))
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fail(r.Name(), fmt.Errorf("publish to %s: %w", r.channel, err))
	}
	return nil
}

// Close releases the client connection pool.
func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
