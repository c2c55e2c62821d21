package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/nexhub-labs/coordinator/internal/events"
	"github.com/nexhub-labs/coordinator/internal/model"
	"github.com/nexhub-labs/coordinator/internal/registry"
	"github.com/nexhub-labs/coordinator/internal/scheduler"
	"github.com/nexhub-labs/coordinator/internal/storage"
	"github.com/nexhub-labs/coordinator/internal/store"
)

const defaultAssignmentInterval = 500 * time.Millisecond

// SystemStatus is the aggregate view of the coordinator exposed to callers.
type SystemStatus struct {
	Tasks             map[model.TaskStatus]int   `json:"tasks"`
	Workers           map[model.WorkerStatus]int `json:"workers"`
	EventsPublished   int64                      `json:"events_published"`
	CPUUsagePercent   float64                    `json:"cpu_usage_percent"`
	MemoryUsedPercent float64                    `json:"memory_used_percent"`
	CollectedAt       time.Time                  `json:"collected_at"`
}

// Orchestrator is the façade over the task store, scheduler and worker
// registry. It owns the assignment loop and the execution of assigned
// tasks through their workers.
type Orchestrator struct {
	logger    *zap.Logger
	store     *store.Store
	scheduler *scheduler.Scheduler
	registry  *registry.Registry
	history   storage.HistoryStore
	publisher events.Publisher
	interval  time.Duration

	eventsPublished atomic.Int64

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHistory enables archiving of terminal tasks.
func WithHistory(h storage.HistoryStore) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithAssignmentInterval sets the background assignment pass interval.
func WithAssignmentInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.interval = d }
}

// New creates an orchestrator over the given components.
func New(st *store.Store, sch *scheduler.Scheduler, reg *registry.Registry, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:    logger.Named("orchestrator"),
		store:     st,
		scheduler: sch,
		registry:  reg,
		publisher: events.NopPublisher{},
		interval:  defaultAssignmentInterval,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start starts the background assignment loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.logger.Info("Starting orchestrator",
		zap.Duration("assignment_interval", o.interval))

	go o.assignmentLoop(ctx)
	return nil
}

// Stop stops the assignment loop and waits for in-flight task executions.
func (o *Orchestrator) Stop() {
	o.once.Do(func() {
		o.logger.Info("Stopping orchestrator")
		close(o.stop)
	})
	o.wg.Wait()
}

func (o *Orchestrator) assignmentLoop(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		case <-ticker.C:
			o.RunAssignmentPass(ctx)
		}
	}
}

// CreateWorkflow creates a workflow and returns its id.
func (o *Orchestrator) CreateWorkflow(name string, context map[string]interface{}) (string, error) {
	wf, err := o.store.CreateWorkflow(name, context)
	if err != nil {
		return "", err
	}
	return wf.ID, nil
}

// AddTask adds a task to a workflow and returns its id.
func (o *Orchestrator) AddTask(ctx context.Context, workflowID, name string, class model.TaskClass, priority model.TaskPriority, dependencies []string, taskContext map[string]interface{}) (string, error) {
	task, err := o.store.AddTask(workflowID, name, class, priority, dependencies, taskContext)
	if err != nil {
		return "", err
	}

	o.publish(ctx, events.Event{
		Subject:    events.SubjectTaskCreated,
		TaskID:     task.ID,
		WorkflowID: workflowID,
	})
	return task.ID, nil
}

// GetWorkflowStatus returns the aggregate status of a workflow.
func (o *Orchestrator) GetWorkflowStatus(workflowID string) (*model.WorkflowStatusReport, error) {
	return o.store.WorkflowStatus(workflowID)
}

// GetTask returns a snapshot of a single task.
func (o *Orchestrator) GetTask(taskID string) (*model.Task, error) {
	task, ok := o.store.Task(taskID)
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return task, nil
}

// RegisterWorker registers a worker implementation under a generated id.
func (o *Orchestrator) RegisterWorker(ctx context.Context, w model.Worker) (string, error) {
	id := uuid.New().String()
	if err := o.registry.Register(id, w); err != nil {
		return "", err
	}

	o.publish(ctx, events.Event{
		Subject:  events.SubjectWorkerRegistered,
		WorkerID: id,
	})
	return id, nil
}

// UnregisterWorker removes a worker, reassigning or reverting its tasks.
// Execution of each reassigned task is restarted on its new worker; the
// goroutine spawned for the original assignment finds the old worker gone
// and the terminal-state guard rejects whichever execution finishes second.
func (o *Orchestrator) UnregisterWorker(ctx context.Context, workerID string) {
	for _, reassignment := range o.registry.Unregister(workerID) {
		o.wg.Add(1)
		go o.execute(ctx, reassignment.TaskID, reassignment.WorkerID)
	}
	o.publish(ctx, events.Event{
		Subject:  events.SubjectWorkerUnregistered,
		WorkerID: workerID,
	})
}

// GetWorkerStatus returns the live state of a worker.
func (o *Orchestrator) GetWorkerStatus(workerID string) (*model.WorkerState, error) {
	state, ok := o.registry.WorkerState(workerID)
	if !ok {
		return nil, registry.ErrWorkerNotFound
	}
	return state, nil
}

// ResetWorkerError returns an errored worker to the assignable pool.
func (o *Orchestrator) ResetWorkerError(workerID string) error {
	return o.registry.ResetError(workerID)
}

// GetSystemStatus returns aggregate task and worker counts together with
// host resource usage.
func (o *Orchestrator) GetSystemStatus(ctx context.Context) (*SystemStatus, error) {
	status := &SystemStatus{
		Tasks:           o.store.TaskCounts(),
		Workers:         o.registry.WorkerCounts(),
		EventsPublished: o.eventsPublished.Load(),
		CollectedAt:     time.Now(),
	}

	if cpuPercent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercent) > 0 {
		status.CPUUsagePercent = cpuPercent[0]
	}
	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		status.MemoryUsedPercent = memInfo.UsedPercent
	}
	return status, nil
}

// RunAssignmentPass attempts to assign every currently-ready pending task
// to an eligible idle worker and returns the number assigned. Tasks with
// no eligible worker are skipped, not failed.
func (o *Orchestrator) RunAssignmentPass(ctx context.Context) int {
	assigned := 0
	for _, task := range o.scheduler.RankedReady(time.Now()) {
		workerID, err := o.registry.Assign(task.ID)
		if err != nil {
			if !errors.Is(err, registry.ErrNoEligibleWorker) && !errors.Is(err, registry.ErrTaskNotAssignable) {
				o.logger.Warn("Assignment failed",
					zap.String("task_id", task.ID),
					zap.Error(err))
			}
			continue
		}
		assigned++

		o.publish(ctx, events.Event{
			Subject:    events.SubjectTaskAssigned,
			TaskID:     task.ID,
			WorkflowID: task.WorkflowID,
			WorkerID:   workerID,
		})

		o.wg.Add(1)
		go o.execute(ctx, task.ID, workerID)
	}

	if assigned > 0 {
		o.logger.Info("Assignment pass finished", zap.Int("assigned", assigned))
	}
	return assigned
}

// CancelTask cancels a pending or in-progress task. Cancellation never
// happens automatically; deadlines are advisory only.
func (o *Orchestrator) CancelTask(ctx context.Context, taskID string) error {
	// The snapshot comes from the cancel transition itself, so an
	// assignment racing in just before the cancel is still released.
	task, err := o.store.Cancel(taskID)
	if err != nil {
		return err
	}
	if task.AssignedWorker != "" {
		o.registry.Release(taskID, task.AssignedWorker)
	}

	o.publish(ctx, events.Event{
		Subject:    events.SubjectTaskCancelled,
		TaskID:     taskID,
		WorkflowID: task.WorkflowID,
	})
	o.archive(ctx, taskID)
	return nil
}

// execute runs one assigned task through its worker and records the
// outcome. A worker error becomes the task's failed transition; the
// worker's own outbound-call retries live inside its implementation.
func (o *Orchestrator) execute(ctx context.Context, taskID, workerID string) {
	defer o.wg.Done()

	worker, ok := o.registry.Worker(workerID)
	if !ok {
		// Worker unregistered between assignment and execution; its
		// tasks were already reassigned or reverted.
		return
	}
	task, ok := o.store.Task(taskID)
	if !ok {
		return
	}

	result, err := worker.ExecuteTask(ctx, task)
	if err != nil {
		if ferr := o.registry.Fail(taskID, err.Error()); ferr != nil {
			o.logger.Debug("Failure not recorded",
				zap.String("task_id", taskID),
				zap.Error(ferr))
			return
		}
		o.logger.Warn("Task execution failed",
			zap.String("task_id", taskID),
			zap.String("worker_id", workerID),
			zap.Error(err))

		o.publish(ctx, events.Event{
			Subject:    events.SubjectTaskFailed,
			TaskID:     taskID,
			WorkflowID: task.WorkflowID,
			WorkerID:   workerID,
			Detail:     err.Error(),
		})
		o.archive(ctx, taskID)
		return
	}

	var payload []byte
	if result != nil {
		payload = result.Result
	}
	if cerr := o.registry.Complete(taskID, payload); cerr != nil {
		o.logger.Debug("Completion not recorded",
			zap.String("task_id", taskID),
			zap.Error(cerr))
		return
	}

	o.publish(ctx, events.Event{
		Subject:    events.SubjectTaskCompleted,
		TaskID:     taskID,
		WorkflowID: task.WorkflowID,
		WorkerID:   workerID,
	})
	o.archive(ctx, taskID)
}

// publish emits a lifecycle event best-effort.
func (o *Orchestrator) publish(ctx context.Context, event events.Event) {
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Warn("Failed to publish event",
			zap.String("subject", event.Subject),
			zap.Error(err))
		return
	}
	o.eventsPublished.Add(1)
}

// archive stores a terminal task in the history archive when one is
// configured.
func (o *Orchestrator) archive(ctx context.Context, taskID string) {
	if o.history == nil {
		return
	}
	task, ok := o.store.Task(taskID)
	if !ok || !task.Status.Terminal() {
		return
	}

	finished := time.Now()
	if task.EndedAt != nil {
		finished = *task.EndedAt
	}
	record := &storage.TaskRecord{
		ID:         uuid.New().String(),
		TaskID:     task.ID,
		WorkflowID: task.WorkflowID,
		Name:       task.Name,
		Class:      task.Class,
		Status:     task.Status,
		WorkerID:   task.AssignedWorker,
		Result:     task.Result,
		Error:      task.ErrorMessage,
		CreatedAt:  task.CreatedAt,
		FinishedAt: finished,
		Duration:   finished.Sub(task.CreatedAt),
	}
	if err := o.history.Archive(ctx, record); err != nil {
		o.logger.Warn("Failed to archive task",
			zap.String("task_id", taskID),
			zap.Error(err))
	}
}
