package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisStream = "docpipe:jobs"
	defaultRedisGroup  = "docpipe-workers"
	defaultRedisBlock  = 5 * time.Second
	defaultRedisCount  = 10
	bodyField          = "body"
	jobIDField         = "jobId"
)

// RedisOptions configures the Redis Streams backend.
type RedisOptions struct {
	URL      string
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Count    int64
	// ClaimIdle is how long a delivery may stay unacknowledged before another
	// consumer reclaims it. Zero disables reclaiming.
	ClaimIdle time.Duration
}

// RedisClient is a Client and Consumer on a Redis stream with a consumer group.
type RedisClient struct {
	rdb       *redis.Client
	stream    string
	group     string
	consumer  string
	block     time.Duration
	count     int64
	claimIdle time.Duration
}

// NewRedisClient connects to Redis and ensures the consumer group exists.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*RedisClient, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(parsed)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	client, err := NewRedisWithClient(ctx, rdb, opts)
	if err != nil {
		rdb.Close()
		return nil, err
	}
	return client, nil
}

// NewRedisWithClient wraps an existing connection.
func NewRedisWithClient(ctx context.Context, rdb *redis.Client, opts RedisOptions) (*RedisClient, error) {
	c := &RedisClient{
		rdb:       rdb,
		stream:    strings.TrimSpace(opts.Stream),
		group:     strings.TrimSpace(opts.Group),
		consumer:  strings.TrimSpace(opts.Consumer),
		block:     opts.Block,
		count:     opts.Count,
		claimIdle: opts.ClaimIdle,
	}
	if c.stream == "" {
		c.stream = defaultRedisStream
	}
	if c.group == "" {
		c.group = defaultRedisGroup
	}
	if c.consumer == "" {
		c.consumer = "worker-" + uuid.NewString()[:8]
	}
	if c.block <= 0 {
		c.block = defaultRedisBlock
	}
	if c.count <= 0 {
		c.count = defaultRedisCount
	}

	err := rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group %s: %w", c.group, err)
	}
	return c, nil
}

// Send appends a message to the stream.
func (c *RedisClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode redis message: %w", err)
	}
	err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		Values: map[string]interface{}{
			bodyField:  string(payload),
			jobIDField: msg.JobID,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd: %w", err)
	}
	return nil
}

// Receive returns reclaimed deliveries first, then new entries for this
// consumer.
func (c *RedisClient) Receive(ctx context.Context) ([]Delivery, error) {
	if c.claimIdle > 0 {
		reclaimed, err := c.reclaim(ctx)
		if err != nil {
			return nil, err
		}
		if len(reclaimed) > 0 {
			return reclaimed, nil
		}
	}

	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.count,
		Block:    c.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis xreadgroup: %w", err)
	}

	var out []Delivery
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			out = append(out, c.delivery(msg, 1))
		}
	}
	return out, nil
}

func (c *RedisClient) reclaim(ctx context.Context) ([]Delivery, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.claimIdle,
		Start:    "0-0",
		Count:    c.count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis xautoclaim: %w", err)
	}

	out := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, c.delivery(msg, c.deliveryCount(ctx, msg.ID)))
	}
	return out, nil
}

func (c *RedisClient) deliveryCount(ctx context.Context, id string) int {
	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0
	}
	return int(pending[0].RetryCount)
}

func (c *RedisClient) delivery(msg redis.XMessage, receiveCount int) Delivery {
	body, _ := msg.Values[bodyField].(string)
	id := msg.ID
	return NewDelivery(id, body, receiveCount, func(ctx context.Context) error {
		if err := c.rdb.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
			return fmt.Errorf("redis xack %s: %w", id, err)
		}
		return nil
	})
}

// Ping checks the connection.
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection.
func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

var (
	_ Client   = (*RedisClient)(nil)
	_ Consumer = (*RedisClient)(nil)
	_ Pinger   = (*RedisClient)(nil)
)
