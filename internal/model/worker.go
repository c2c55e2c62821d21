package model

import (
	"context"
	"time"
)

// WorkerStatus represents the live status of a worker
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusError   WorkerStatus = "error"
	WorkerStatusOffline WorkerStatus = "offline"
)

// WorkerCapability describes what a worker can do. It is attached at
// registration and immutable for the worker's lifetime.
type WorkerCapability struct {
	SupportedClasses   []TaskClass `json:"supported_classes"`
	MaxConcurrentTasks int         `json:"max_concurrent_tasks"`
	Specializations    []string    `json:"specializations,omitempty"`

	// PerformanceScore is a tie-break weight among eligible workers,
	// never a hard constraint.
	PerformanceScore float64 `json:"performance_score"`
}

// Supports reports whether the capability covers the given task class.
func (c WorkerCapability) Supports(class TaskClass) bool {
	for _, sc := range c.SupportedClasses {
		if sc == class {
			return true
		}
	}
	return false
}

// Worker is the contract the coordinator consumes from a worker
// implementation. Business logic lives entirely behind this interface;
// the registry never depends on a concrete type.
type Worker interface {
	// Capability returns the worker's immutable capability descriptor.
	Capability() WorkerCapability

	// ExecuteTask runs the task and returns its result payload, or an
	// error when execution failed.
	ExecuteTask(ctx context.Context, task *Task) (*TaskResult, error)
}

// WorkerState is the registry-owned mutable record for a registered worker.
type WorkerState struct {
	ID             string           `json:"id"`
	Capability     WorkerCapability `json:"capability"`
	Status         WorkerStatus     `json:"status"`
	CurrentTaskIDs []string         `json:"current_task_ids,omitempty"`
	CompletedTasks int              `json:"completed_tasks"`
	ErrorCount     int              `json:"error_count"`
	RegisteredAt   time.Time        `json:"registered_at"`
	LastActivity   time.Time        `json:"last_activity"`
}

// Clone returns a deep copy of the worker state.
func (s *WorkerState) Clone() *WorkerState {
	c := *s
	c.CurrentTaskIDs = append([]string(nil), s.CurrentTaskIDs...)
	c.Capability.SupportedClasses = append([]TaskClass(nil), s.Capability.SupportedClasses...)
	c.Capability.Specializations = append([]string(nil), s.Capability.Specializations...)
	return &c
}
