// Package scheduler provides deferred callback scheduling for delay actions
// and waiting-node timeouts, plus the minute tick source for scheduled
// triggers.
package scheduler

import (
	"context"
	"time"
)

// TaskKind identifies what a scheduled callback should do when it fires.
type TaskKind string

const (
	// TaskResumeDelay resumes a chain walk after a delay action elapsed.
	TaskResumeDelay TaskKind = "resume_delay"
	// TaskWaitingTimeout exhausts a waiting node that got no response.
	TaskWaitingTimeout TaskKind = "waiting_timeout"
)

// Task is the payload of a deferred callback.
type Task struct {
	Kind        TaskKind `json:"kind"`
	ExecutionID string   `json:"execution_id"`
	NodeID      string   `json:"node_id"`
}

// Callback receives fired tasks. Delivery is at-least-once: implementations
// may fire a task more than once, so receivers must be idempotent.
type Callback func(ctx context.Context, task Task)

// Scheduler fires a task after a delay.
type Scheduler interface {
	ScheduleAfter(ctx context.Context, delay time.Duration, task Task) error
}
