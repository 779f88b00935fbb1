// Package redisstate is the distributed ExecutionCache backend, used
// when config.CacheConfig.Backend == "redis". Grounded on the teacher's
// common/redis/client.go wrapper (hash ops, streams, pipelines) and
// workflow_lifecycle/status.go's dual hot/cold write pattern — here the
// "cold path" is the durable pgstate.Repository rather than a second
// Redis stream consumer, since DiPeO's StateService (not a separate
// async worker) owns the terminal-status flush.
//
// The cache also appends state-delta events to a per-execution Redis
// Stream (XADD) alongside the point-in-time hash snapshot. State is
// always read back from the snapshot; ReadStreamFrom returns the stream
// entries after a given id, and nothing in this package rebuilds state
// from the stream.
package redisstate

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dipeo/dipeo-core/internal/logging"
)

// Client wraps *redis.Client the way the teacher's common/redis.Client
// wraps go-redis, but scoped to exactly the operations the state cache
// and event bus backends need instead of the teacher's broader surface.
type Client struct {
	rdb *redis.Client
	log *logging.Logger
}

// New connects to addr.
func New(addr string, log *logging.Logger) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		log: log,
	}
}

// Ping verifies connectivity at startup, matching the teacher's
// bootstrap health checks for other backends.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

func (c *Client) SetHash(ctx context.Context, key, field, value string) error {
	return c.rdb.HSet(ctx, key, field, value).Err()
}

func (c *Client) GetHash(ctx context.Context, key, field string) (string, error) {
	v, err := c.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("field %q not found on key %q", field, key)
	}
	return v, err
}

func (c *Client) AddToStream(ctx context.Context, stream string, values map[string]any) (string, error) {
	return c.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values, MaxLen: 1000, Approx: true}).Result()
}

// ReadStreamFrom reads every stream entry with an id greater than
// afterID, for cold replay (spec §4.6 "cold replay from sequence + 1").
func (c *Client) ReadStreamFrom(ctx context.Context, stream, afterID string) ([]redis.XMessage, error) {
	start := "(" + afterID
	res, err := c.rdb.XRange(ctx, stream, start, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", stream, err)
	}
	return res, nil
}

func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

func (c *Client) Subscribe(ctx context.Context, pattern string) *redis.PubSub {
	return c.rdb.PSubscribe(ctx, pattern)
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}
