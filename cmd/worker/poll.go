package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"docpipe-backend/internal/queue"
	"docpipe-backend/internal/shared/metrics"
	"docpipe-backend/internal/shared/telemetry"
	"docpipe-backend/internal/workerproc"
)

const (
	defaultConcurrency     = 4
	defaultShutdownTimeout = 30 * time.Second
	receiveErrorBackoff    = time.Second
)

type pollConfig struct {
	Consumer        queue.Consumer
	Processor       workerproc.JobProcessor
	Metrics         *metrics.Worker
	Concurrency     int
	ShutdownTimeout time.Duration
}

// poll receives deliveries until ctx is done, then waits up to
// ShutdownTimeout for in-flight jobs.
func poll(ctx context.Context, cfg pollConfig) {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		deliveries, err := cfg.Consumer.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				break pollLoop
			case <-time.After(receiveErrorBackoff):
			}
			continue
		}

		for _, d := range deliveries {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			cfg.Metrics.QueueMessage("received")
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				// Acks must survive shutdown so finished work is not redelivered.
				handleDelivery(context.WithoutCancel(ctx), cfg.Processor, cfg.Metrics, d)
			}()
		}
	}

	telemetry.Info("worker.shutdown", map[string]any{"timeout": shutdownTimeout.String()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", map[string]any{"timeout": shutdownTimeout.String()})
	}
}

// handleDelivery acks unrecoverable payloads and successful jobs. Processing
// errors leave the delivery unacknowledged so the backend redelivers it.
func handleDelivery(ctx context.Context, processor workerproc.JobProcessor, m *metrics.Worker, d queue.Delivery) {
	decoded, err := workerproc.ParseMessage(d.Body)
	if err != nil {
		fields := baseFields(d, decoded.JobID, decoded.RequestID)
		if pe, ok := workerproc.Unrecoverable(err); ok {
			for k, v := range pe.Fields() {
				fields[k] = v
			}
			if pe.Err != nil {
				fields["error"] = pe.Err.Error()
			}
		}
		telemetry.Error("worker.job.dropped", fields)
		if ack(ctx, d, decoded.JobID, decoded.RequestID) {
			m.QueueMessage("dropped")
		}
		return
	}

	telemetry.Info("worker.job.received", baseFields(d, decoded.JobID, decoded.RequestID))

	if err := workerproc.Run(ctx, processor, decoded); err != nil {
		fields := baseFields(d, decoded.JobID, decoded.RequestID)
		fields["error"] = err.Error()
		var procErr *workerproc.ProcessError
		if errors.As(err, &procErr) {
			fields["error"] = procErr.Err.Error()
		}
		telemetry.Error("worker.job.failed", fields)
		m.QueueMessage("failed")
		return
	}

	if ack(ctx, d, decoded.JobID, decoded.RequestID) {
		telemetry.Info("worker.job.completed", baseFields(d, decoded.JobID, decoded.RequestID))
		m.QueueMessage("completed")
	}
}

func ack(ctx context.Context, d queue.Delivery, jobID, requestID string) bool {
	if err := d.Ack(ctx); err != nil {
		fields := baseFields(d, jobID, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.job.ack_failed", fields)
		return false
	}
	return true
}

func baseFields(d queue.Delivery, jobID, requestID string) map[string]any {
	fields := map[string]any{
		"job_id":        jobID,
		"message_id":    d.ID,
		"receive_count": d.ReceiveCount,
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}
