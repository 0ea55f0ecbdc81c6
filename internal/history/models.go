package history

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusPartial marks inference that produced output which could not be delivered.
	StatusPartial Status = "partial"
)

// InterruptedReason is the error message set on jobs left running by a previous worker process.
const InterruptedReason = "Worker stopped before the job finished"

var allStatuses = []Status{StatusRunning, StatusCompleted, StatusFailed, StatusPartial}

// ParseStatus converts a user-supplied label into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// AllStatuses returns the known statuses in display order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Job is one row of the job ledger.
type Job struct {
	ID            string
	Kind          string
	ModelName     string
	FileID        string
	CorrelationID string
	Status        Status
	Stage         string
	ErrorKind     string
	ErrorMessage  string
	ResultURL     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FinishedAt    time.Time
}

// IsTerminal reports whether the job has finished one way or another.
func (j Job) IsTerminal() bool {
	return j.Status != StatusRunning
}

// Duration returns how long the job ran, or has been running so far.
func (j Job) Duration(now time.Time) time.Duration {
	end := j.FinishedAt
	if end.IsZero() {
		end = now
	}
	if j.CreatedAt.IsZero() || end.Before(j.CreatedAt) {
		return 0
	}
	return end.Sub(j.CreatedAt)
}

// StageRun records one external command invocation.
type StageRun struct {
	JobID     string
	Stage     string
	ExitCode  int
	Duration  time.Duration
	StartedAt time.Time
}
