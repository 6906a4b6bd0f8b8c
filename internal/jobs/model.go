// Package jobs tracks processing jobs through queued, running and a terminal
// state, and sweeps jobs that stopped making progress.
package jobs

import (
	"errors"
	"time"
)

// Job statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Steps recorded when a job starts running.
var DefaultSteps = []string{"normalize", "ocr", "quality", "finalize"}

// ErrorTimeout is stored on jobs failed by the sweeper.
const ErrorTimeout = "job_timeout"

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Job is one processing attempt of a document version.
type Job struct {
	ID         string
	DocumentID string
	Status     string
	Steps      []string
	Error      *string
	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}

var transitions = map[string][]string{
	StatusQueued:  {StatusRunning},
	StatusRunning: {StatusSucceeded, StatusFailed},
}

// CanTransition reports whether from -> to is allowed. Terminal states are final.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status is succeeded or failed.
func IsTerminal(status string) bool {
	return status == StatusSucceeded || status == StatusFailed
}
