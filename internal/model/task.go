package model

import (
	"time"
)

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// TaskPriority represents the priority level of a task
type TaskPriority int

const (
	TaskPriorityLow      TaskPriority = 1
	TaskPriorityMedium   TaskPriority = 2
	TaskPriorityHigh     TaskPriority = 3
	TaskPriorityCritical TaskPriority = 4
)

// Valid reports whether the priority is one of the defined levels.
func (p TaskPriority) Valid() bool {
	return p >= TaskPriorityLow && p <= TaskPriorityCritical
}

// TaskClass categorizes a task by the service-level deadline it carries.
// The SLA duration is fixed per class and determines the task deadline
// at creation time.
type TaskClass string

const (
	TaskClassRealTime TaskClass = "real-time"
	TaskClassPlanned  TaskClass = "planned"
	TaskClassComplex  TaskClass = "complex"
)

// SLA returns the service-level duration for the class.
func (c TaskClass) SLA() time.Duration {
	switch c {
	case TaskClassRealTime:
		return 15 * time.Minute
	case TaskClassPlanned:
		return 240 * time.Minute
	case TaskClassComplex:
		return 1440 * time.Minute
	}
	return 0
}

// Valid reports whether the class is one of the defined classes.
func (c TaskClass) Valid() bool {
	switch c {
	case TaskClassRealTime, TaskClassPlanned, TaskClassComplex:
		return true
	}
	return false
}

// Task represents a unit of work to be executed by a worker
type Task struct {
	ID           string                 `json:"id"`
	WorkflowID   string                 `json:"workflow_id"`
	Name         string                 `json:"name"`
	Class        TaskClass              `json:"class"`
	Priority     TaskPriority           `json:"priority"`
	Status       TaskStatus             `json:"status"`
	Context      map[string]interface{} `json:"context,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`

	// Sequence is the store-assigned insertion counter, used as the
	// deterministic tie-break in scheduling decisions.
	Sequence int64 `json:"sequence"`

	// Timing fields. Deadline is CreatedAt plus the class SLA, computed
	// once at creation and never recomputed.
	CreatedAt time.Time  `json:"created_at"`
	Deadline  time.Time  `json:"deadline"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	// Execution details. Result and ErrorMessage are mutually exclusive
	// and populated exactly once at the terminal transition.
	AssignedWorker string `json:"assigned_worker,omitempty"`
	Result         []byte `json:"result,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// Clone returns a deep copy of the task. Store accessors hand out clones so
// callers can never mutate canonical state directly.
func (t *Task) Clone() *Task {
	c := *t
	if t.Context != nil {
		c.Context = make(map[string]interface{}, len(t.Context))
		for k, v := range t.Context {
			c.Context[k] = v
		}
	}
	if t.Dependencies != nil {
		c.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.Result != nil {
		c.Result = append([]byte(nil), t.Result...)
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.EndedAt != nil {
		ended := *t.EndedAt
		c.EndedAt = &ended
	}
	return &c
}

// TaskResult represents the result of a task execution
type TaskResult struct {
	TaskID      string    `json:"task_id"`
	WorkerID    string    `json:"worker_id,omitempty"`
	Result      []byte    `json:"result,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
