package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const defaultMemoryWait = time.Second

// MemoryQueue is an in-process queue for dev and tests. Deliveries that are not
// acknowledged are not redelivered.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []Delivery
	inFlight map[string]Message
	seq      int
	notify   chan struct{}
	wait     time.Duration
}

// NewMemoryQueue creates an empty queue. wait bounds how long Receive blocks.
func NewMemoryQueue(wait time.Duration) *MemoryQueue {
	if wait <= 0 {
		wait = defaultMemoryWait
	}
	return &MemoryQueue{
		inFlight: make(map[string]Message),
		notify:   make(chan struct{}, 1),
		wait:     wait,
	}
}

// Send appends a message.
func (q *MemoryQueue) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	q.mu.Lock()
	q.seq++
	id := "mem-" + strconv.Itoa(q.seq)
	q.pending = append(q.pending, NewDelivery(id, string(payload), 1, func(context.Context) error {
		q.mu.Lock()
		delete(q.inFlight, id)
		q.mu.Unlock()
		return nil
	}))
	q.inFlight[id] = msg
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive drains everything queued, waiting up to the configured wait when
// the queue is empty.
func (q *MemoryQueue) Receive(ctx context.Context) ([]Delivery, error) {
	if out := q.drain(); len(out) > 0 {
		return out, nil
	}
	timer := time.NewTimer(q.wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case <-q.notify:
		return q.drain(), nil
	}
}

// Unacked returns the messages received or queued but not yet acknowledged.
func (q *MemoryQueue) Unacked() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, 0, len(q.inFlight))
	for _, m := range q.inFlight {
		out = append(out, m)
	}
	return out
}

// Len reports the number of messages waiting to be received.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Ping always succeeds.
func (q *MemoryQueue) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (q *MemoryQueue) drain() []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

var (
	_ Client   = (*MemoryQueue)(nil)
	_ Consumer = (*MemoryQueue)(nil)
	_ Pinger   = (*MemoryQueue)(nil)
)
