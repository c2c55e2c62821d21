package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DependencyStatus is the connection state of an external dependency.
type DependencyStatus string

const (
	StatusDisconnected DependencyStatus = "disconnected"
	StatusConnecting   DependencyStatus = "connecting"
	StatusConnected    DependencyStatus = "connected"
	StatusError        DependencyStatus = "error"
	StatusRateLimited  DependencyStatus = "rate_limited"
)

// Operation is a single outbound call to the dependency. The context
// carries the per-attempt deadline; implementations must honor it.
type Operation func(ctx context.Context, args ...interface{}) (interface{}, error)

// Fallback is the degraded path invoked exactly once after retries are
// exhausted. Its own success or failure becomes the outer call's result.
type Fallback func(ctx context.Context, lastErr error) (interface{}, error)

// Connector establishes the dependency connection. A nil connector means
// connecting always succeeds.
type Connector func(ctx context.Context) error

// Outcome tags how a call produced its value, so callers can distinguish
// "succeeded via fallback" from a direct success without error branching.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeFallback Outcome = "fallback"
)

// Result is the value of a resilient call together with its outcome tag.
type Result struct {
	Value   interface{}
	Outcome Outcome
}

// Metrics is a point-in-time snapshot of a dependency's health counters.
// Reading it never mutates executor state, and it feeds no retry decision.
type Metrics struct {
	TotalRequests       int64            `json:"total_requests"`
	Successes           int64            `json:"successes"`
	Errors              int64            `json:"errors"`
	FallbackCalls       int64            `json:"fallback_calls"`
	ConsecutiveFailures int64            `json:"consecutive_failures"`
	SuccessRate         float64          `json:"success_rate"`
	LastError           string           `json:"last_error,omitempty"`
	Status              DependencyStatus `json:"status"`
}

// Config parameterizes the retry envelope around one dependency.
type Config struct {
	MaxRetries        int
	BaseRetryDelay    time.Duration
	PerAttemptTimeout time.Duration
}

// Executor wraps every outbound call to a single external dependency with
// bounded retries, exponential backoff and an optional fallback path.
// Metrics are per dependency and independent of any other shared state.
type Executor struct {
	logger   *zap.Logger
	name     string
	cfg      Config
	connect  Connector
	fallback Fallback

	mu      sync.Mutex
	ops     map[string]Operation
	status  DependencyStatus
	metrics Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithConnector sets the connection procedure for the dependency.
func WithConnector(c Connector) Option {
	return func(e *Executor) { e.connect = c }
}

// WithFallback enables the fallback path for the dependency.
func WithFallback(f Fallback) Option {
	return func(e *Executor) { e.fallback = f }
}

// NewExecutor creates an executor for the named dependency.
func NewExecutor(name string, cfg Config, logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		logger: logger.Named("resilience").With(zap.String("dependency", name)),
		name:   name,
		cfg:    cfg,
		ops:    make(map[string]Operation),
		status: StatusDisconnected,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.metrics.Status = StatusDisconnected
	return e
}

// Name returns the dependency name.
func (e *Executor) Name() string { return e.name }

// RegisterOperation registers a named operation on the dependency.
func (e *Executor) RegisterOperation(name string, op Operation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops[name] = op
}

// Execute runs the named operation under the retry envelope: up to
// MaxRetries+1 attempts with exponential backoff between them, then the
// fallback exactly once. Errors from individual attempts never escape
// mid-retry; only the exhausted-retries-and-no-fallback case surfaces.
func (e *Executor) Execute(ctx context.Context, operation string, args ...interface{}) (Result, error) {
	e.mu.Lock()
	op, ok := e.ops[operation]
	e.metrics.TotalRequests++
	e.mu.Unlock()

	if !ok {
		e.recordFailure(ErrMethodNotFound)
		return Result{}, ErrMethodNotFound
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := e.ensureConnected(ctx); err != nil {
			// A failed connection attempt short-circuits the rest of
			// this attempt.
			lastErr = err
			e.recordFailure(err)
		} else {
			value, err := e.invoke(ctx, op, args...)
			if err == nil {
				e.recordSuccess()
				return Result{Value: value, Outcome: OutcomeOK}, nil
			}
			lastErr = err
			e.recordFailure(err)
		}

		if attempt == e.cfg.MaxRetries {
			break
		}

		delay := e.cfg.BaseRetryDelay << uint(attempt)
		e.logger.Debug("Retrying operation",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		if err := sleep(ctx, delay); err != nil {
			return Result{}, err
		}
	}

	if e.fallback == nil {
		return Result{}, lastErr
	}

	value, err := e.fallback(ctx, lastErr)
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	e.metrics.FallbackCalls++
	e.mu.Unlock()

	e.logger.Warn("Operation served by fallback",
		zap.String("operation", operation),
		zap.Error(lastErr))

	return Result{Value: value, Outcome: OutcomeFallback}, nil
}

// invoke runs one attempt under the per-attempt deadline. A timeout is
// treated identically to an application error.
func (e *Executor) invoke(ctx context.Context, op Operation, args ...interface{}) (interface{}, error) {
	attemptCtx := ctx
	if e.cfg.PerAttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.PerAttemptTimeout)
		defer cancel()
	}

	value, err := op(attemptCtx, args...)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrAttemptTimeout
	}
	return value, err
}

// ensureConnected establishes the connection when the dependency is not in
// the connected state.
func (e *Executor) ensureConnected(ctx context.Context) error {
	e.mu.Lock()
	if e.status == StatusConnected {
		e.mu.Unlock()
		return nil
	}
	e.status = StatusConnecting
	e.metrics.Status = StatusConnecting
	connect := e.connect
	e.mu.Unlock()

	if connect != nil {
		if err := connect(ctx); err != nil {
			e.setStatus(StatusError)
			return ErrConnectionFailed
		}
	}
	e.setStatus(StatusConnected)
	return nil
}

func (e *Executor) setStatus(status DependencyStatus) {
	e.mu.Lock()
	e.status = status
	e.metrics.Status = status
	e.mu.Unlock()
}

func (e *Executor) recordSuccess() {
	e.mu.Lock()
	e.metrics.Successes++
	e.metrics.ConsecutiveFailures = 0
	e.status = StatusConnected
	e.metrics.Status = StatusConnected
	e.mu.Unlock()
}

func (e *Executor) recordFailure(err error) {
	e.mu.Lock()
	e.metrics.Errors++
	e.metrics.ConsecutiveFailures++
	e.metrics.LastError = err.Error()

	var rateLimited *RateLimitError
	if errors.As(err, &rateLimited) {
		e.status = StatusRateLimited
	} else if e.status == StatusConnected || e.status == StatusConnecting {
		e.status = StatusError
	}
	e.metrics.Status = e.status
	e.mu.Unlock()
}

// GetMetrics returns a snapshot of the dependency's counters.
func (e *Executor) GetMetrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.metrics
	if m.TotalRequests > 0 {
		m.SuccessRate = float64(m.Successes) / float64(m.TotalRequests)
	}
	return m
}

// ResetMetrics clears all counters without touching connection state.
func (e *Executor) ResetMetrics() {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := e.metrics.Status
	e.metrics = Metrics{Status: status}
}

// Status returns the dependency's current connection state.
func (e *Executor) Status() DependencyStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// sleep waits for the backoff delay or until the surrounding context is
// cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
