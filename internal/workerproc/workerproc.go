// Package workerproc turns raw queue payloads into pipeline job runs. It is
// shared by the polling worker and the Lambda handler.
package workerproc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docpipe-backend/internal/queue"
	"docpipe-backend/internal/shared/telemetry"
	"docpipe-backend/internal/shared/util"
)

// JobProcessor runs one pipeline job.
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID string) error
}

// JobProcessorFunc adapts a function to JobProcessor.
type JobProcessorFunc func(ctx context.Context, jobID string) error

func (f JobProcessorFunc) ProcessJob(ctx context.Context, jobID string) error {
	return f(ctx, jobID)
}

// Reason classifies a payload that can never be processed.
type Reason string

const (
	ReasonEmptyBody    Reason = "empty_body"
	ReasonDecode       Reason = "decode_failed"
	ReasonMissingJobID Reason = "missing_id"
)

// PayloadError reports a queue body that redelivery cannot fix.
type PayloadError struct {
	Reason    Reason
	BodyLen   int
	BodySHA   string
	RequestID string
	Err       error
}

func (e *PayloadError) Error() string {
	msg := strings.ReplaceAll(string(e.Reason), "_", " ")
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *PayloadError) Unwrap() error { return e.Err }

// Fields returns log fields describing the rejected body.
func (e *PayloadError) Fields() map[string]any {
	fields := map[string]any{"reason": string(e.Reason), "body_len": e.BodyLen}
	if e.BodySHA != "" {
		fields["body_sha256"] = e.BodySHA
	}
	if e.RequestID != "" {
		fields["request_id"] = e.RequestID
	}
	return fields
}

// ProcessError wraps a failure from the JobProcessor. These are retried.
type ProcessError struct {
	JobID string
	Err   error
}

func (e *ProcessError) Error() string { return fmt.Sprintf("job %s: %v", e.JobID, e.Err) }

func (e *ProcessError) Unwrap() error { return e.Err }

// Unrecoverable returns the PayloadError in err's chain, if any. Such
// messages should be dropped rather than redelivered.
func Unrecoverable(err error) (*PayloadError, bool) {
	var pe *PayloadError
	ok := errors.As(err, &pe)
	return pe, ok
}

func newPayloadError(reason Reason, body string, requestID string, cause error) *PayloadError {
	pe := &PayloadError{Reason: reason, BodyLen: len(body), RequestID: requestID, Err: cause}
	if body != "" {
		pe.BodySHA = util.SHA256Hex([]byte(body))
	}
	return pe
}

// ParseMessage decodes and validates a queue body. On a missing job id the
// partially decoded message is still returned so callers can log its request id.
func ParseMessage(body string) (queue.Message, error) {
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, newPayloadError(ReasonEmptyBody, body, "", nil)
	}
	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, newPayloadError(ReasonDecode, body, "", err)
	}
	if strings.TrimSpace(msg.JobID) == "" {
		return msg, newPayloadError(ReasonMissingJobID, body, msg.RequestID, nil)
	}
	return msg, nil
}

// Run processes an already parsed message, carrying its request id on ctx.
func Run(ctx context.Context, processor JobProcessor, msg queue.Message) error {
	if processor == nil {
		return errors.New("job processor not configured")
	}
	if err := processor.ProcessJob(telemetry.WithRequestID(ctx, msg.RequestID), msg.JobID); err != nil {
		return &ProcessError{JobID: msg.JobID, Err: err}
	}
	return nil
}

// HandleMessage parses body and runs the job it names.
func HandleMessage(ctx context.Context, processor JobProcessor, body string) error {
	msg, err := ParseMessage(body)
	if err != nil {
		return err
	}
	return Run(ctx, processor, msg)
}
