package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageVersion is the payload schema version written by Enqueue.
const MessageVersion = 1

// ErrUnsupportedVersion is returned for payloads written by a newer producer.
var ErrUnsupportedVersion = errors.New("unsupported message version")

// Message is the payload sent to pipeline workers. The job id is the only
// required field; everything else is diagnostic.
type Message struct {
	JobID      string `json:"jobId"`
	RequestID  string `json:"requestId,omitempty"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// NewMessage stamps a job message with the current schema version.
func NewMessage(jobID, requestID string, now time.Time) Message {
	return Message{
		JobID:      jobID,
		RequestID:  requestID,
		EnqueuedAt: now.UTC().Format(time.RFC3339),
		Version:    MessageVersion,
	}
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload. Payloads without a version are read
// as version 1.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if msg.Version > MessageVersion {
		return Message{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, msg.Version)
	}
	if msg.Version == 0 {
		msg.Version = MessageVersion
	}
	msg.JobID = strings.TrimSpace(msg.JobID)
	msg.RequestID = strings.TrimSpace(msg.RequestID)
	return msg, nil
}
