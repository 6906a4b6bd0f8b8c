package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Consumer pulls deliveries from a queue backend. Receive blocks for at most
// the backend's wait time and returns an empty slice when nothing arrived.
type Consumer interface {
	Receive(ctx context.Context) ([]Delivery, error)
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Delivery is one received message. Unacknowledged deliveries are redelivered
// by the backend.
type Delivery struct {
	ID           string
	Body         string
	ReceiveCount int

	ack func(ctx context.Context) error
}

// NewDelivery builds a delivery whose Ack runs ack.
func NewDelivery(id, body string, receiveCount int, ack func(ctx context.Context) error) Delivery {
	return Delivery{ID: id, Body: body, ReceiveCount: receiveCount, ack: ack}
}

// Ack removes the delivery from the queue.
func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return errors.New("delivery has no ack handle")
	}
	return d.ack(ctx)
}

// Enqueue publishes a job id for the workers.
func Enqueue(ctx context.Context, client Client, jobID, requestID string) error {
	if client == nil {
		return errors.New("queue client not configured")
	}
	if strings.TrimSpace(jobID) == "" {
		return errors.New("job id is required")
	}
	if err := client.Send(ctx, NewMessage(jobID, requestID, time.Now())); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}
