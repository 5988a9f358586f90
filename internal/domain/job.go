package domain

import (
	"context"
	"time"
)

// JobKind tags the payload of a scheduled job.
type JobKind string

const (
	JobPredictionResolve JobKind = "prediction_resolve"
	JobBattleCheck       JobKind = "battle_check"
	JobBattleExpire      JobKind = "battle_expire"
)

// JobState is the queue-side lifecycle of a scheduled job.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// JobPayload is the tagged union carried by a scheduled job. Exactly one of
// PredictionID or BattleID is set, according to Kind. The scheduler never
// inspects these fields; only the registered handler does.
type JobPayload struct {
	Kind         JobKind `json:"kind"`
	PredictionID string  `json:"prediction_id,omitempty"`
	BattleID     string  `json:"battle_id,omitempty"`
}

// Job is a durable unit of delayed work.
type Job struct {
	ID        string
	Payload   JobPayload
	NotBefore time.Time
	Attempt   int
	State     JobState
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// QueueStats is a point-in-time count of jobs per state.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// JobHandler consumes a job whose deadline has been reached. A non-nil error
// triggers the scheduler's retry policy.
type JobHandler func(ctx context.Context, job Job) error
