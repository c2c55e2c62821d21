package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nexhub-labs/coordinator/internal/model"
)

// TransformAgent executes in-process data transformation tasks. It calls
// no external dependency, so it needs no resilience envelope.
type TransformAgent struct {
	logger     *zap.Logger
	capability model.WorkerCapability
}

// NewTransformAgent creates a transform agent.
func NewTransformAgent(logger *zap.Logger) *TransformAgent {
	return &TransformAgent{
		logger: logger.Named("transform-agent"),
		capability: model.WorkerCapability{
			SupportedClasses:   []model.TaskClass{model.TaskClassPlanned, model.TaskClassComplex},
			MaxConcurrentTasks: 2,
			Specializations:    []string{"transform"},
			PerformanceScore:   0.8,
		},
	}
}

// Capability implements model.Worker.
func (a *TransformAgent) Capability() model.WorkerCapability {
	return a.capability
}

// ExecuteTask implements model.Worker. The task context supplies
// "operation" (uppercase, lowercase or reverse) and "input" (a string or
// a list of strings).
func (a *TransformAgent) ExecuteTask(ctx context.Context, task *model.Task) (*model.TaskResult, error) {
	operation, _ := task.Context["operation"].(string)

	inputs, err := inputStrings(task.Context["input"])
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", task.ID, err)
	}

	outputs := make([]string, len(inputs))
	for i, in := range inputs {
		switch operation {
		case "uppercase":
			outputs[i] = strings.ToUpper(in)
		case "lowercase":
			outputs[i] = strings.ToLower(in)
		case "reverse":
			outputs[i] = reverse(in)
		default:
			return nil, fmt.Errorf("task %s: unknown operation %q", task.ID, operation)
		}
	}

	payload, err := json.Marshal(outputs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	a.logger.Info("Transform task executed",
		zap.String("task_id", task.ID),
		zap.String("operation", operation),
		zap.Int("items", len(inputs)))

	return &model.TaskResult{
		TaskID:      task.ID,
		Result:      payload,
		CompletedAt: time.Now(),
	}, nil
}

func inputStrings(v interface{}) ([]string, error) {
	switch in := v.(type) {
	case string:
		return []string{in}, nil
	case []string:
		return in, nil
	case []interface{}:
		out := make([]string, 0, len(in))
		for _, item := range in {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("input items must be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("missing or invalid input")
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
