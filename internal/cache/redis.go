package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofamint/content-sync/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// InvalidationMessage is published to renderers after keys are purged
type InvalidationMessage struct {
	Tags []string `json:"tags"`
	At   int64    `json:"at"`
}

// RedisInvalidator purges rendered pages stored under "<prefix><tag>" and
// announces the purge on a Pub/Sub channel.
type RedisInvalidator struct {
	client  *redis.Client
	prefix  string
	channel string
	log     zerolog.Logger
}

// NewRedisInvalidator connects to Redis using cfg.URL. Only a malformed URL
// is an error; an unreachable server is logged and retried by the client on
// each invalidation.
func NewRedisInvalidator(cfg *config.RedisConfig, log zerolog.Logger) (*RedisInvalidator, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inv := NewRedisInvalidatorWithClient(client, cfg.KeyPrefix, cfg.Channel, log)
	if err := inv.HealthCheck(ctx); err != nil {
		inv.log.Warn().Err(err).Str("addr", opt.Addr).Msg("Redis unreachable, cache invalidation degraded")
	}
	return inv, nil
}

// NewRedisInvalidatorWithClient wraps an existing client
func NewRedisInvalidatorWithClient(client *redis.Client, prefix, channel string, log zerolog.Logger) *RedisInvalidator {
	return &RedisInvalidator{
		client:  client,
		prefix:  prefix,
		channel: channel,
		log:     log.With().Str("component", "cache").Logger(),
	}
}

// Close releases the underlying client
func (r *RedisInvalidator) Close() error {
	return r.client.Close()
}

// Keys returns the cache keys covered by tags
func (r *RedisInvalidator) Keys(tags []string) []string {
	keys := make([]string, 0, len(tags))
	for _, tag := range tags {
		keys = append(keys, r.prefix+tag)
	}
	return keys
}

// Invalidate deletes the tagged keys and publishes the tag list in one
// round trip.
func (r *RedisInvalidator) Invalidate(ctx context.Context, tags []string) error {
	if len(tags) == 0 {
		return nil
	}

	data, err := json.Marshal(InvalidationMessage{Tags: tags, At: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}

	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.Keys(tags)...)
	pipe.Publish(ctx, r.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis invalidation failed: %w", err)
	}

	r.log.Debug().
		Strs("tags", tags).
		Int64("deleted", del.Val()).
		Str("channel", r.channel).
		Msg("Cache invalidated")
	return nil
}

// HealthCheck pings Redis
func (r *RedisInvalidator) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
