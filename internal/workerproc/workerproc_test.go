package workerproc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe-backend/internal/queue"
	"docpipe-backend/internal/shared/telemetry"
)

func encode(t *testing.T, msg queue.Message) string {
	t.Helper()
	payload, err := queue.EncodeMessage(msg)
	require.NoError(t, err)
	return string(payload)
}

func TestParseMessageClassifiesBadPayloads(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		reason Reason
	}{
		{"blank", "   ", ReasonEmptyBody},
		{"garbage", "{not json", ReasonDecode},
		{"no job", `{"requestId":"r1"}`, ReasonMissingJobID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseMessage(tc.body)
			var pe *PayloadError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.reason, pe.Reason)
			assert.Equal(t, len(tc.body), pe.BodyLen)
			assert.Len(t, pe.BodySHA, 64)
			_, drop := Unrecoverable(err)
			assert.True(t, drop)
		})
	}
}

func TestMissingJobIDKeepsRequestID(t *testing.T) {
	msg, err := ParseMessage(`{"requestId":"r1"}`)
	require.Error(t, err)
	assert.Equal(t, "r1", msg.RequestID)

	var pe *PayloadError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "r1", pe.Fields()["request_id"])
	assert.Equal(t, "missing_id", pe.Fields()["reason"])
}

func TestHandleMessagePassesJobAndRequestID(t *testing.T) {
	var gotJob, gotReq string
	processor := JobProcessorFunc(func(ctx context.Context, jobID string) error {
		gotJob = jobID
		gotReq = telemetry.RequestIDFromContext(ctx)
		return nil
	})

	require.NoError(t, HandleMessage(context.Background(), processor, encode(t, queue.Message{JobID: "job-1", RequestID: "req-1"})))
	assert.Equal(t, "job-1", gotJob)
	assert.Equal(t, "req-1", gotReq)
}

func TestProcessErrorsAreRetryable(t *testing.T) {
	boom := errors.New("db down")
	processor := JobProcessorFunc(func(context.Context, string) error { return boom })

	err := HandleMessage(context.Background(), processor, encode(t, queue.Message{JobID: "job-2"}))
	var procErr *ProcessError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, "job-2", procErr.JobID)
	assert.ErrorIs(t, err, boom)
	_, drop := Unrecoverable(err)
	assert.False(t, drop)
}

func TestRunRequiresProcessor(t *testing.T) {
	err := Run(context.Background(), nil, queue.Message{JobID: "x"})
	require.Error(t, err)
	_, drop := Unrecoverable(err)
	assert.False(t, drop)
}
