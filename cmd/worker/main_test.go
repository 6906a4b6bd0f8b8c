package main

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe-backend/internal/queue"
	"docpipe-backend/internal/shared/metrics"
	"docpipe-backend/internal/workerproc"
)

type ackRecorder struct {
	mu    sync.Mutex
	acked []string
	err   error
}

func (a *ackRecorder) delivery(id, body string) queue.Delivery {
	return queue.NewDelivery(id, body, 1, func(context.Context) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.err != nil {
			return a.err
		}
		a.acked = append(a.acked, id)
		return nil
	})
}

func (a *ackRecorder) ids() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.acked...)
}

type fakeProcessor struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (f *fakeProcessor) ProcessJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, jobID)
	return f.err
}

func body(t *testing.T, jobID string) string {
	t.Helper()
	raw, err := queue.EncodeMessage(queue.Message{JobID: jobID, RequestID: "req-" + jobID, Version: queue.MessageVersion})
	require.NoError(t, err)
	return string(raw)
}

func newMetrics(t *testing.T) (*metrics.Worker, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return metrics.NewWorker(reg), reg
}

func outcome(t *testing.T, reg *prometheus.Registry, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "worker_queue_messages_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "outcome" && lp.GetValue() == label {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestWorkerAcksOnSuccess(t *testing.T) {
	acks := &ackRecorder{}
	proc := &fakeProcessor{}
	m, reg := newMetrics(t)

	handleDelivery(context.Background(), proc, m, acks.delivery("m1", body(t, "job-1")))

	assert.Equal(t, []string{"m1"}, acks.ids())
	assert.Equal(t, []string{"job-1"}, proc.seen)
	assert.Equal(t, 1.0, outcome(t, reg, "completed"))
}

func TestWorkerDoesNotAckOnFailure(t *testing.T) {
	acks := &ackRecorder{}
	proc := &fakeProcessor{err: errors.New("boom")}
	m, reg := newMetrics(t)

	handleDelivery(context.Background(), proc, m, acks.delivery("m2", body(t, "job-2")))

	assert.Empty(t, acks.ids())
	assert.Equal(t, 1.0, outcome(t, reg, "failed"))
}

func TestWorkerDropsUnrecoverablePayloads(t *testing.T) {
	cases := map[string]string{
		"invalid json": "{bad-json",
		"empty body":   "   ",
		"missing id":   `{"requestId":"r"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			acks := &ackRecorder{}
			proc := &fakeProcessor{}
			m, reg := newMetrics(t)

			handleDelivery(context.Background(), proc, m, acks.delivery("bad", payload))

			assert.Equal(t, []string{"bad"}, acks.ids())
			assert.Empty(t, proc.seen)
			assert.Equal(t, 1.0, outcome(t, reg, "dropped"))
		})
	}
}

func TestWorkerAckFailureIsNotCompleted(t *testing.T) {
	acks := &ackRecorder{err: errors.New("receipt expired")}
	proc := &fakeProcessor{}
	m, reg := newMetrics(t)

	handleDelivery(context.Background(), proc, m, acks.delivery("m3", body(t, "job-3")))

	assert.Equal(t, []string{"job-3"}, proc.seen)
	assert.Equal(t, 0.0, outcome(t, reg, "completed"))
}

func TestPollDrainsMemoryQueue(t *testing.T) {
	q := queue.NewMemoryQueue(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, queue.Enqueue(ctx, q, id, ""))
	}

	done := make(chan struct{})
	var count sync.WaitGroup
	count.Add(3)
	proc := workerproc.JobProcessorFunc(func(context.Context, string) error {
		count.Done()
		return nil
	})
	go func() {
		poll(ctx, pollConfig{Consumer: q, Processor: proc, Concurrency: 2, ShutdownTimeout: time.Second})
		close(done)
	}()

	count.Wait()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop after cancel")
	}
	assert.Empty(t, q.Unacked())
}

func TestRootCommandListsSubcommands(t *testing.T) {
	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())

	out := buf.String()
	for _, sub := range []string{"run", "sweep", "process"} {
		assert.Contains(t, out, sub)
	}
}

func TestProcessRequiresJobID(t *testing.T) {
	root := newRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	root.SetArgs([]string{"process"})
	require.Error(t, root.Execute())
}
