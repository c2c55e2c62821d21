package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexhub-labs/coordinator/internal/model"
)

// Store owns the canonical representation of tasks and workflows and
// enforces every lifecycle invariant. It performs no I/O; accessors hand
// out clones so callers can never mutate canonical state directly.
type Store struct {
	logger    *zap.Logger
	mu        sync.RWMutex
	tasks     map[string]*model.Task
	workflows map[string]*model.Workflow
	seq       int64
}

// New creates an empty store.
func New(logger *zap.Logger) *Store {
	return &Store{
		logger:    logger.Named("store"),
		tasks:     make(map[string]*model.Task),
		workflows: make(map[string]*model.Workflow),
	}
}

// CreateWorkflow creates a new workflow and returns its id.
func (s *Store) CreateWorkflow(name string, context map[string]interface{}) (*model.Workflow, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wf := &model.Workflow{
		ID:        uuid.New().String(),
		Name:      name,
		Context:   context,
		CreatedAt: time.Now(),
	}
	s.workflows[wf.ID] = wf

	s.logger.Info("Workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("name", name))

	return wf.Clone(), nil
}

// AddTask creates a task inside a workflow. The deadline is computed once
// here from the class SLA and is immutable afterwards. Every dependency id
// must reference an existing task; an unknown id rejects the request with a
// ValidationError and mutates nothing.
func (s *Store) AddTask(workflowID, name string, class model.TaskClass, priority model.TaskPriority, dependencies []string, context map[string]interface{}) (*model.Task, error) {
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if !class.Valid() {
		return nil, &ValidationError{Field: "class", Reason: fmt.Sprintf("unknown task class %q", class)}
	}
	if !priority.Valid() {
		return nil, &ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %d", priority)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	for _, dep := range dependencies {
		if _, ok := s.tasks[dep]; !ok {
			return nil, &ValidationError{Field: "dependencies", Reason: fmt.Sprintf("unknown task id %q", dep)}
		}
	}

	now := time.Now()
	s.seq++
	task := &model.Task{
		ID:           uuid.New().String(),
		WorkflowID:   workflowID,
		Name:         name,
		Class:        class,
		Priority:     priority,
		Status:       model.TaskStatusPending,
		Context:      context,
		Dependencies: append([]string(nil), dependencies...),
		Sequence:     s.seq,
		CreatedAt:    now,
		Deadline:     now.Add(class.SLA()),
	}
	s.tasks[task.ID] = task
	wf.TaskIDs = append(wf.TaskIDs, task.ID)

	s.logger.Info("Task added",
		zap.String("task_id", task.ID),
		zap.String("workflow_id", workflowID),
		zap.String("class", string(class)),
		zap.Int("priority", int(priority)))

	return task.Clone(), nil
}

// Task returns a clone of the task with the given id.
func (s *Store) Task(id string) (*model.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// Workflow returns a clone of the workflow with the given id.
func (s *Store) Workflow(id string) (*model.Workflow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, false
	}
	return wf.Clone(), true
}

// ReadyTasks returns clones of every pending task whose dependencies have
// all completed, ordered by insertion sequence.
func (s *Store) ReadyTasks() []*model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ready []*model.Task
	for _, task := range s.tasks {
		if task.Status == model.TaskStatusPending && s.dependenciesMet(task) {
			ready = append(ready, task.Clone())
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].Sequence < ready[j].Sequence
	})
	return ready
}

// DependenciesMet reports whether every dependency of the task has
// completed.
func (s *Store) DependenciesMet(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return false
	}
	return s.dependenciesMet(task)
}

func (s *Store) dependenciesMet(task *model.Task) bool {
	for _, dep := range task.Dependencies {
		if d, ok := s.tasks[dep]; !ok || d.Status != model.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// MarkInProgress moves a pending task with satisfied dependencies to
// in_progress, recording the assigned worker. It reports false without
// mutating anything when the transition is not permitted.
func (s *Store) MarkInProgress(taskID, workerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok || task.Status != model.TaskStatusPending || !s.dependenciesMet(task) {
		return false
	}

	now := time.Now()
	task.Status = model.TaskStatusInProgress
	task.AssignedWorker = workerID
	task.StartedAt = &now
	return true
}

// Reassign moves an in-progress task to a different worker without
// changing its status. It reports false when the task is not in progress.
func (s *Store) Reassign(taskID, workerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok || task.Status != model.TaskStatusInProgress {
		return false
	}
	task.AssignedWorker = workerID
	return true
}

// Revert returns an in-progress task to pending, clearing its assignment.
// Used when a worker is unregistered and no replacement exists.
func (s *Store) Revert(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok || task.Status != model.TaskStatusInProgress {
		return false
	}
	task.Status = model.TaskStatusPending
	task.AssignedWorker = ""
	task.StartedAt = nil
	return true
}

// Complete moves an in-progress task to completed with its result payload.
// Terminal states reject re-entry.
func (s *Store) Complete(taskID string, result []byte) error {
	return s.finish(taskID, model.TaskStatusCompleted, result, "")
}

// Fail moves an in-progress task to failed with an error message. The
// message is retained indefinitely for inspection.
func (s *Store) Fail(taskID, message string) error {
	return s.finish(taskID, model.TaskStatusFailed, nil, message)
}

func (s *Store) finish(taskID string, status model.TaskStatus, result []byte, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return ErrTaskTerminal
	}
	if task.Status != model.TaskStatusInProgress {
		return ErrTaskNotInProgress
	}

	now := time.Now()
	task.Status = status
	task.Result = result
	task.ErrorMessage = message
	task.EndedAt = &now

	s.logger.Info("Task finished",
		zap.String("task_id", taskID),
		zap.String("status", string(status)))

	return nil
}

// Cancel moves a pending or in-progress task to cancelled and returns a
// snapshot taken under the same lock as the transition, so the caller sees
// the assignment the task held at the moment it was cancelled. Cancellation
// is caller-driven; deadlines never trigger it.
func (s *Store) Cancel(taskID string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return nil, ErrTaskTerminal
	}

	now := time.Now()
	task.Status = model.TaskStatusCancelled
	task.EndedAt = &now

	s.logger.Info("Task cancelled", zap.String("task_id", taskID))
	return task.Clone(), nil
}

// WorkflowStatus projects the aggregate status of a workflow from its
// tasks: completed iff all tasks completed, failed iff any task failed and
// none are still pending or in progress, otherwise running.
func (s *Store) WorkflowStatus(workflowID string) (*model.WorkflowStatusReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return nil, ErrWorkflowNotFound
	}

	report := &model.WorkflowStatusReport{
		WorkflowID: wf.ID,
		Name:       wf.Name,
		TotalTasks: len(wf.TaskIDs),
	}
	for _, id := range wf.TaskIDs {
		switch s.tasks[id].Status {
		case model.TaskStatusCompleted:
			report.CompletedTasks++
		case model.TaskStatusFailed:
			report.FailedTasks++
		case model.TaskStatusInProgress:
			report.InProgressTasks++
		case model.TaskStatusPending:
			report.PendingTasks++
		case model.TaskStatusCancelled:
			report.CancelledTasks++
		}
	}

	switch {
	case report.TotalTasks > 0 && report.CompletedTasks == report.TotalTasks:
		report.Status = model.WorkflowStatusCompleted
	case report.FailedTasks > 0 && report.PendingTasks == 0 && report.InProgressTasks == 0:
		report.Status = model.WorkflowStatusFailed
	default:
		report.Status = model.WorkflowStatusRunning
	}
	if report.TotalTasks > 0 {
		report.ProgressPercentage = float64(report.CompletedTasks) / float64(report.TotalTasks) * 100
	}

	return report, nil
}

// TaskCounts returns the number of tasks per status.
func (s *Store) TaskCounts() map[model.TaskStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[model.TaskStatus]int)
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	return counts
}
