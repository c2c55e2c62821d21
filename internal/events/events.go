package events

import (
	"context"
	"time"
)

// Event subjects for task and worker lifecycle transitions.
const (
	SubjectTaskCreated        = "task.created"
	SubjectTaskAssigned       = "task.assigned"
	SubjectTaskCompleted      = "task.completed"
	SubjectTaskFailed         = "task.failed"
	SubjectTaskCancelled      = "task.cancelled"
	SubjectWorkerRegistered   = "worker.registered"
	SubjectWorkerUnregistered = "worker.unregistered"
)

// Event is a lifecycle notification emitted by the coordinator. Events are
// advisory observability; no coordinator decision depends on them.
type Event struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	TaskID     string    `json:"task_id,omitempty"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	WorkerID   string    `json:"worker_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher emits lifecycle events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards every event. Used when no event transport is
// configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event Event) error { return nil }
