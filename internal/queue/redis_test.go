package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func setupRedisQueue(t *testing.T, opts RedisOptions) (*miniredis.Miniredis, *RedisClient) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })

	opts.URL = "redis://" + mr.Addr()
	if opts.Block == 0 {
		opts.Block = 50 * time.Millisecond
	}
	client, err := NewRedisClient(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisSendReceiveAck(t *testing.T) {
	mr, client := setupRedisQueue(t, RedisOptions{Stream: "docpipe:test", Group: "g1"})
	ctx := context.Background()

	if err := Enqueue(ctx, client, "job-1", "req-1"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deliveries, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected one delivery, got %d", len(deliveries))
	}
	msg, err := DecodeMessage([]byte(deliveries[0].Body))
	if err != nil || msg.JobID != "job-1" {
		t.Fatalf("unexpected body %q (%v)", deliveries[0].Body, err)
	}
	if deliveries[0].ReceiveCount != 1 {
		t.Fatalf("ReceiveCount = %d", deliveries[0].ReceiveCount)
	}

	if err := deliveries[0].Ack(ctx); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer raw.Close()
	pending, err := raw.XPending(ctx, "docpipe:test", "g1").Result()
	if err != nil {
		t.Fatalf("XPending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending entries, got %d", pending.Count)
	}
}

func TestRedisReceiveEmptyReturnsNil(t *testing.T) {
	_, client := setupRedisQueue(t, RedisOptions{})
	deliveries, err := client.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(deliveries) != 0 {
		t.Fatalf("expected no deliveries, got %d", len(deliveries))
	}
}

func TestRedisGroupCreationIsIdempotent(t *testing.T) {
	mr, _ := setupRedisQueue(t, RedisOptions{Stream: "s", Group: "g"})
	again, err := NewRedisClient(context.Background(), RedisOptions{URL: "redis://" + mr.Addr(), Stream: "s", Group: "g"})
	if err != nil {
		t.Fatalf("second NewRedisClient: %v", err)
	}
	again.Close()
}

func TestRedisUnackedDeliveryIsReclaimed(t *testing.T) {
	_, client := setupRedisQueue(t, RedisOptions{Stream: "s", Group: "g", ClaimIdle: time.Millisecond})
	ctx := context.Background()

	if err := Enqueue(ctx, client, "job-2", ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	first, err := client.Receive(ctx)
	if err != nil || len(first) != 1 {
		t.Fatalf("first Receive = %v, %v", first, err)
	}

	time.Sleep(20 * time.Millisecond)
	second, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	if len(second) != 1 || second[0].ID != first[0].ID {
		t.Fatalf("expected redelivery of %s, got %+v", first[0].ID, second)
	}
	if second[0].ReceiveCount < 2 {
		t.Fatalf("ReceiveCount = %d, want >= 2", second[0].ReceiveCount)
	}
}

func TestNewRedisClientRequiresURL(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), RedisOptions{}); err == nil {
		t.Fatalf("expected error")
	}
}
