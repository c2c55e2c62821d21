package registry

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexhub-labs/coordinator/internal/model"
	"github.com/nexhub-labs/coordinator/internal/store"
)

type workerEntry struct {
	impl  model.Worker
	state *model.WorkerState

	// seq is the registration counter, the FIFO tie-break among workers
	// with equal performance scores.
	seq int64
}

// Registry tracks worker capability descriptors and live status, and owns
// the assignment of tasks to workers. Its mutex serializes the whole
// check-eligibility / mutate-task / mutate-worker sequence so two
// concurrent assignment attempts can never claim the same task or
// over-subscribe a worker.
type Registry struct {
	logger  *zap.Logger
	store   *store.Store
	mu      sync.Mutex
	workers map[string]*workerEntry
	seq     int64
}

// New creates a registry over the given store.
func New(st *store.Store, logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger.Named("registry"),
		store:   st,
		workers: make(map[string]*workerEntry),
	}
}

// Register adds a worker under the given id. The capability descriptor is
// captured once here and treated as immutable afterwards.
func (r *Registry) Register(id string, w model.Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[id]; exists {
		return ErrDuplicateWorker
	}

	now := time.Now()
	r.seq++
	r.workers[id] = &workerEntry{
		impl: w,
		state: &model.WorkerState{
			ID:           id,
			Capability:   w.Capability(),
			Status:       model.WorkerStatusIdle,
			RegisteredAt: now,
			LastActivity: now,
		},
		seq: r.seq,
	}

	r.logger.Info("Worker registered",
		zap.String("worker_id", id),
		zap.Int("max_concurrent", w.Capability().MaxConcurrentTasks),
		zap.Float64("performance_score", w.Capability().PerformanceScore))

	return nil
}

// Reassignment records a task handed to a new worker during unregister.
// The caller owns driving execution on the new worker.
type Reassignment struct {
	TaskID   string
	WorkerID string
}

// Unregister removes a worker. Each task it was running is handed to
// another eligible idle worker when one exists, otherwise the task reverts
// to pending and re-enters the candidate pool. The reassigned tasks are
// returned so the caller can start execution on their new workers. Unknown
// ids are a no-op.
func (r *Registry) Unregister(id string) []Reassignment {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.workers[id]
	if !exists {
		return nil
	}
	entry.state.Status = model.WorkerStatusOffline
	delete(r.workers, id)

	var reassigned []Reassignment
	for _, taskID := range entry.state.CurrentTaskIDs {
		task, ok := r.store.Task(taskID)
		if !ok {
			continue
		}
		if next := r.firstEligible(task.Class); next != nil && r.store.Reassign(taskID, next.state.ID) {
			r.attach(next, taskID)
			reassigned = append(reassigned, Reassignment{TaskID: taskID, WorkerID: next.state.ID})
			r.logger.Info("Task reassigned",
				zap.String("task_id", taskID),
				zap.String("from", id),
				zap.String("to", next.state.ID))
			continue
		}
		r.store.Revert(taskID)
		r.logger.Info("Task reverted to pending",
			zap.String("task_id", taskID),
			zap.String("worker_id", id))
	}

	r.logger.Info("Worker unregistered", zap.String("worker_id", id))
	return reassigned
}

// FindEligible returns idle workers supporting the class, sorted by
// performance score descending with registration order breaking ties.
func (r *Registry) FindEligible(class model.TaskClass) []*model.WorkerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	var states []*model.WorkerState
	for _, entry := range r.eligible(class) {
		states = append(states, entry.state.Clone())
	}
	return states
}

func (r *Registry) eligible(class model.TaskClass) []*workerEntry {
	var entries []*workerEntry
	for _, entry := range r.workers {
		if entry.state.Status == model.WorkerStatusIdle && entry.state.Capability.Supports(class) {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].state.Capability.PerformanceScore != entries[j].state.Capability.PerformanceScore {
			return entries[i].state.Capability.PerformanceScore > entries[j].state.Capability.PerformanceScore
		}
		return entries[i].seq < entries[j].seq
	})
	return entries
}

func (r *Registry) firstEligible(class model.TaskClass) *workerEntry {
	entries := r.eligible(class)
	if len(entries) == 0 {
		return nil
	}
	return entries[0]
}

// attach records a task on a worker, flipping it to busy when the
// concurrency limit is reached.
func (r *Registry) attach(entry *workerEntry, taskID string) {
	entry.state.CurrentTaskIDs = append(entry.state.CurrentTaskIDs, taskID)
	entry.state.LastActivity = time.Now()
	if len(entry.state.CurrentTaskIDs) >= entry.state.Capability.MaxConcurrentTasks {
		entry.state.Status = model.WorkerStatusBusy
	}
}

// detach removes a task from a worker. A busy worker with no remaining
// tasks returns to idle; an errored worker stays errored until explicitly
// reset.
func (r *Registry) detach(entry *workerEntry, taskID string) {
	for i, id := range entry.state.CurrentTaskIDs {
		if id == taskID {
			entry.state.CurrentTaskIDs = append(entry.state.CurrentTaskIDs[:i], entry.state.CurrentTaskIDs[i+1:]...)
			break
		}
	}
	entry.state.LastActivity = time.Now()
	if entry.state.Status == model.WorkerStatusBusy && len(entry.state.CurrentTaskIDs) < entry.state.Capability.MaxConcurrentTasks {
		entry.state.Status = model.WorkerStatusIdle
	}
}

// Assign picks the first eligible idle worker for the task and atomically
// marks the task in_progress and records it on the worker. It returns the
// chosen worker id.
func (r *Registry) Assign(taskID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.store.Task(taskID)
	if !ok {
		return "", store.ErrTaskNotFound
	}

	entry := r.firstEligible(task.Class)
	if entry == nil {
		return "", ErrNoEligibleWorker
	}

	if !r.store.MarkInProgress(taskID, entry.state.ID) {
		return "", ErrTaskNotAssignable
	}
	r.attach(entry, taskID)

	r.logger.Info("Task assigned",
		zap.String("task_id", taskID),
		zap.String("worker_id", entry.state.ID))

	return entry.state.ID, nil
}

// Complete records a successful task execution: the task moves to
// completed and the worker frees the slot. A second call for the same task
// is rejected by the store and leaves all counters untouched.
func (r *Registry) Complete(taskID string, result []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.store.Task(taskID)
	if !ok {
		return store.ErrTaskNotFound
	}
	if err := r.store.Complete(taskID, result); err != nil {
		return err
	}

	if entry, exists := r.workers[task.AssignedWorker]; exists {
		r.detach(entry, taskID)
		entry.state.CompletedTasks++
	}
	return nil
}

// Fail records a failed task execution. The worker moves to error and is
// excluded from eligibility for every task class until ResetError is
// called. This is deliberately a whole-worker circuit breaker, not
// per-class isolation.
func (r *Registry) Fail(taskID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.store.Task(taskID)
	if !ok {
		return store.ErrTaskNotFound
	}
	if err := r.store.Fail(taskID, message); err != nil {
		return err
	}

	if entry, exists := r.workers[task.AssignedWorker]; exists {
		r.detach(entry, taskID)
		entry.state.ErrorCount++
		entry.state.Status = model.WorkerStatusError
	}
	return nil
}

// Release removes a task from its worker without recording a completion
// or a failure. Used when a caller cancels an in-progress task.
func (r *Registry) Release(taskID, workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.workers[workerID]; exists {
		r.detach(entry, taskID)
	}
}

// ResetError returns an errored worker to the assignable pool. Recovery is
// explicit, never automatic.
func (r *Registry) ResetError(workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.workers[workerID]
	if !exists {
		return ErrWorkerNotFound
	}
	if entry.state.Status != model.WorkerStatusError {
		return ErrWorkerNotErrored
	}

	if len(entry.state.CurrentTaskIDs) >= entry.state.Capability.MaxConcurrentTasks {
		entry.state.Status = model.WorkerStatusBusy
	} else {
		entry.state.Status = model.WorkerStatusIdle
	}
	entry.state.LastActivity = time.Now()

	r.logger.Info("Worker error reset", zap.String("worker_id", workerID))
	return nil
}

// Worker returns the implementation registered under the given id.
func (r *Registry) Worker(id string) (model.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.workers[id]
	if !exists {
		return nil, false
	}
	return entry.impl, true
}

// WorkerState returns a clone of the live state for a worker.
func (r *Registry) WorkerState(id string) (*model.WorkerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.workers[id]
	if !exists {
		return nil, false
	}
	return entry.state.Clone(), true
}

// WorkerCounts returns the number of workers per status.
func (r *Registry) WorkerCounts() map[model.WorkerStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[model.WorkerStatus]int)
	for _, entry := range r.workers {
		counts[entry.state.Status]++
	}
	return counts
}
