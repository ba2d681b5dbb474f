package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Priority orders queued jobs. Higher priorities are admitted first.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	default:
		return 3
	}
}

// ParsePriority parses a priority name. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PriorityNormal, nil
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return p, nil
	default:
		return "", fmt.Errorf("unknown priority %q (want urgent, high, normal or low)", s)
	}
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a unit of scheduled work. Values handed out by the scheduler are
// snapshots.
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Payload     any        `json:"-"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func (j *Job) snapshot() Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// JobFunc performs the work of a job. progress reports completion in percent.
// The context is cancelled when the job is cancelled or the scheduler shuts down.
type JobFunc func(ctx context.Context, job *Job, progress func(int)) (any, error)

// JobError is recorded on a job whose function failed on every attempt.
type JobError struct {
	JobID    string
	Attempts int
	Err      error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed after %d attempt(s): %v", e.JobID, e.Attempts, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }
