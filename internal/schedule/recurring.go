package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nexhub-labs/coordinator/internal/model"
)

// Coordinator is the slice of the orchestrator surface the recurring
// scheduler needs to instantiate workflows.
type Coordinator interface {
	CreateWorkflow(name string, context map[string]interface{}) (string, error)
	AddTask(ctx context.Context, workflowID, name string, class model.TaskClass, priority model.TaskPriority, dependencies []string, taskContext map[string]interface{}) (string, error)
}

// TaskTemplate describes one task of a workflow template. DependsOn holds
// indices into the template's task list; they resolve to real task ids at
// instantiation time.
type TaskTemplate struct {
	Name      string                 `json:"name"`
	Class     model.TaskClass        `json:"class"`
	Priority  model.TaskPriority     `json:"priority"`
	DependsOn []int                  `json:"depends_on,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// WorkflowTemplate is the blueprint a recurring schedule instantiates.
type WorkflowTemplate struct {
	Name    string                 `json:"name"`
	Context map[string]interface{} `json:"context,omitempty"`
	Tasks   []TaskTemplate         `json:"tasks"`
}

// RecurringSchedule pairs a cron expression with a workflow template.
type RecurringSchedule struct {
	ID         string           `json:"id"`
	Expression string           `json:"expression"`
	Template   WorkflowTemplate `json:"template"`
	CreatedAt  time.Time        `json:"created_at"`
	LastRun    time.Time        `json:"last_run,omitempty"`
	RunCount   int              `json:"run_count"`
}

// RecurringScheduler instantiates workflow templates on cron expressions.
type RecurringScheduler struct {
	logger      *zap.Logger
	coordinator Coordinator
	cron        *cron.Cron
	mu          sync.Mutex
	schedules   map[string]*RecurringSchedule
	entryIDs    map[string]cron.EntryID
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewRecurringScheduler creates a recurring scheduler over the coordinator.
func NewRecurringScheduler(coordinator Coordinator, logger *zap.Logger) *RecurringScheduler {
	cl := &cronLogger{logger: logger.Named("cron")}
	return &RecurringScheduler{
		logger:      logger.Named("recurring-scheduler"),
		coordinator: coordinator,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cl)),
		),
		schedules: make(map[string]*RecurringSchedule),
		entryIDs:  make(map[string]cron.EntryID),
	}
}

// Start starts the cron runner.
func (s *RecurringScheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting recurring scheduler")
	s.cron.Start()
	return nil
}

// Stop stops the cron runner and waits for a running job to finish.
func (s *RecurringScheduler) Stop() {
	s.logger.Info("Stopping recurring scheduler")
	<-s.cron.Stop().Done()
}

// Add registers a schedule and returns its id. Expressions use the
// six-field form with a leading seconds field.
func (s *RecurringScheduler) Add(expression string, template WorkflowTemplate) (string, error) {
	if len(template.Tasks) == 0 {
		return "", fmt.Errorf("template %q has no tasks", template.Name)
	}
	for i, tt := range template.Tasks {
		for _, dep := range tt.DependsOn {
			if dep < 0 || dep >= i {
				return "", fmt.Errorf("task %d: dependency index %d must reference an earlier task", i, dep)
			}
		}
	}

	schedule := &RecurringSchedule{
		ID:         uuid.New().String(),
		Expression: expression,
		Template:   template,
		CreatedAt:  time.Now(),
	}

	entryID, err := s.cron.AddFunc(expression, func() {
		s.run(schedule.ID)
	})
	if err != nil {
		return "", fmt.Errorf("invalid cron expression: %w", err)
	}

	s.mu.Lock()
	s.schedules[schedule.ID] = schedule
	s.entryIDs[schedule.ID] = entryID
	s.mu.Unlock()

	s.logger.Info("Recurring schedule added",
		zap.String("schedule_id", schedule.ID),
		zap.String("expression", expression),
		zap.String("template", template.Name))

	return schedule.ID, nil
}

// Remove deletes a schedule. Unknown ids are a no-op.
func (s *RecurringScheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entryIDs[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entryIDs, id)
		delete(s.schedules, id)
		s.logger.Info("Recurring schedule removed", zap.String("schedule_id", id))
	}
}

// List returns a snapshot of all schedules.
func (s *RecurringScheduler) List() []*RecurringSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedules := make([]*RecurringSchedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		copied := *schedule
		schedules = append(schedules, &copied)
	}
	return schedules
}

// run instantiates the template as a fresh workflow.
func (s *RecurringScheduler) run(scheduleID string) {
	s.mu.Lock()
	schedule, ok := s.schedules[scheduleID]
	if !ok {
		s.mu.Unlock()
		return
	}
	template := schedule.Template
	s.mu.Unlock()

	ctx := context.Background()
	workflowID, err := s.coordinator.CreateWorkflow(template.Name, template.Context)
	if err != nil {
		s.logger.Error("Failed to create workflow from template",
			zap.String("schedule_id", scheduleID),
			zap.Error(err))
		return
	}

	taskIDs := make([]string, 0, len(template.Tasks))
	for i, tt := range template.Tasks {
		deps := make([]string, 0, len(tt.DependsOn))
		for _, idx := range tt.DependsOn {
			deps = append(deps, taskIDs[idx])
		}

		taskID, err := s.coordinator.AddTask(ctx, workflowID, tt.Name, tt.Class, tt.Priority, deps, tt.Context)
		if err != nil {
			s.logger.Error("Failed to add templated task",
				zap.String("schedule_id", scheduleID),
				zap.Int("task_index", i),
				zap.Error(err))
			return
		}
		taskIDs = append(taskIDs, taskID)
	}

	s.mu.Lock()
	if schedule, ok := s.schedules[scheduleID]; ok {
		schedule.LastRun = time.Now()
		schedule.RunCount++
	}
	s.mu.Unlock()

	s.logger.Info("Workflow instantiated from schedule",
		zap.String("schedule_id", scheduleID),
		zap.String("workflow_id", workflowID),
		zap.Int("tasks", len(taskIDs)))
}
