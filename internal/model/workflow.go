package model

import "time"

// WorkflowStatus is a pure projection over the statuses of the workflow's
// tasks; it is never mutated independently.
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// Workflow is a named, ordered collection of tasks.
type Workflow struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Context   map[string]interface{} `json:"context,omitempty"`
	TaskIDs   []string               `json:"task_ids"`
	CreatedAt time.Time              `json:"created_at"`
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	c := *w
	if w.Context != nil {
		c.Context = make(map[string]interface{}, len(w.Context))
		for k, v := range w.Context {
			c.Context[k] = v
		}
	}
	c.TaskIDs = append([]string(nil), w.TaskIDs...)
	return &c
}

// WorkflowStatusReport is the aggregate view of a workflow exposed to callers.
type WorkflowStatusReport struct {
	WorkflowID         string         `json:"workflow_id"`
	Name               string         `json:"name"`
	Status             WorkflowStatus `json:"status"`
	TotalTasks         int            `json:"total_tasks"`
	CompletedTasks     int            `json:"completed_tasks"`
	FailedTasks        int            `json:"failed_tasks"`
	InProgressTasks    int            `json:"in_progress_tasks"`
	PendingTasks       int            `json:"pending_tasks"`
	CancelledTasks     int            `json:"cancelled_tasks"`
	ProgressPercentage float64        `json:"progress_percentage"`
}
