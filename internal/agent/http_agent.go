package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nexhub-labs/coordinator/internal/model"
	"github.com/nexhub-labs/coordinator/internal/resilience"
)

const opHTTPRequest = "http_request"

// HTTPAgent executes tasks that call an external HTTP API. Every outbound
// request goes through a resilient executor, so transient upstream
// failures are retried with backoff and, when configured, served by a
// fallback body instead of failing the task.
type HTTPAgent struct {
	logger     *zap.Logger
	capability model.WorkerCapability
	executor   *resilience.Executor
	client     *http.Client
}

// HTTPAgentConfig configures an HTTPAgent.
type HTTPAgentConfig struct {
	Resilience     resilience.Config
	RequestTimeout time.Duration

	// FallbackBody, when non-nil, is returned as the task result after
	// retries against the upstream are exhausted.
	FallbackBody []byte
}

// NewHTTPAgent creates an HTTP agent for the named upstream dependency.
func NewHTTPAgent(dependency string, cfg HTTPAgentConfig, logger *zap.Logger) *HTTPAgent {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	a := &HTTPAgent{
		logger: logger.Named("http-agent"),
		capability: model.WorkerCapability{
			SupportedClasses:   []model.TaskClass{model.TaskClassRealTime, model.TaskClassPlanned},
			MaxConcurrentTasks: 4,
			Specializations:    []string{"http", dependency},
			PerformanceScore:   1.0,
		},
		client: &http.Client{Timeout: timeout},
	}

	opts := []resilience.Option{}
	if cfg.FallbackBody != nil {
		body := cfg.FallbackBody
		opts = append(opts, resilience.WithFallback(func(ctx context.Context, lastErr error) (interface{}, error) {
			return body, nil
		}))
	}
	a.executor = resilience.NewExecutor(dependency, cfg.Resilience, logger, opts...)
	a.executor.RegisterOperation(opHTTPRequest, a.doRequest)

	return a
}

// Capability implements model.Worker.
func (a *HTTPAgent) Capability() model.WorkerCapability {
	return a.capability
}

// Metrics exposes the upstream dependency's health counters.
func (a *HTTPAgent) Metrics() resilience.Metrics {
	return a.executor.GetMetrics()
}

// ExecuteTask implements model.Worker. The task context supplies the
// request: "url" (required), "method" (default GET) and "body".
func (a *HTTPAgent) ExecuteTask(ctx context.Context, task *model.Task) (*model.TaskResult, error) {
	url, _ := task.Context["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("task %s: missing url in context", task.ID)
	}
	method, _ := task.Context["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	body, _ := task.Context["body"].(string)

	a.logger.Info("Executing HTTP task",
		zap.String("task_id", task.ID),
		zap.String("method", method),
		zap.String("url", url))

	result, err := a.executor.Execute(ctx, opHTTPRequest, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("call to %s failed: %w", url, err)
	}

	payload, _ := result.Value.([]byte)
	if result.Outcome == resilience.OutcomeFallback {
		a.logger.Warn("HTTP task served by fallback",
			zap.String("task_id", task.ID),
			zap.String("url", url))
	}

	return &model.TaskResult{
		TaskID:      task.ID,
		Result:      payload,
		CompletedAt: time.Now(),
	}, nil
}

// doRequest is the single outbound operation wrapped by the executor.
func (a *HTTPAgent) doRequest(ctx context.Context, args ...interface{}) (interface{}, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("http_request expects method and url")
	}
	method, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("http_request method must be a string, got %T", args[0])
	}
	url, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("http_request url must be a string, got %T", args[1])
	}

	var body io.Reader
	if len(args) > 2 {
		if s, ok := args[2].(string); ok && s != "" {
			body = strings.NewReader(s)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &resilience.RateLimitError{}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return data, nil
}
