package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() Config {
	return Config{
		MaxRetries:        2,
		BaseRetryDelay:    10 * time.Millisecond,
		PerAttemptTimeout: time.Second,
	}
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	e := NewExecutor("billing", testConfig(), zaptest.NewLogger(t))

	var calls int32
	e.RegisterOperation("charge", func(ctx context.Context, args ...interface{}) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	})

	result, err := e.Execute(context.Background(), "charge")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Value)
	assert.Equal(t, OutcomeOK, result.Outcome)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	metrics := e.GetMetrics()
	assert.EqualValues(t, 1, metrics.TotalRequests)
	assert.EqualValues(t, 1, metrics.Successes)
	assert.Zero(t, metrics.Errors)
	assert.Equal(t, 1.0, metrics.SuccessRate)
	assert.Equal(t, StatusConnected, metrics.Status)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	e := NewExecutor("billing", testConfig(), zaptest.NewLogger(t))

	var calls int32
	e.RegisterOperation("charge", func(ctx context.Context, args ...interface{}) (interface{}, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("flaky")
		}
		return "ok", nil
	})

	result, err := e.Execute(context.Background(), "charge")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, result.Outcome)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	metrics := e.GetMetrics()
	assert.EqualValues(t, 2, metrics.Errors)
	assert.Zero(t, metrics.ConsecutiveFailures)
}

func TestExecuteFallbackAfterExhaustion(t *testing.T) {
	var fallbackCalls int32
	e := NewExecutor("billing", testConfig(), zaptest.NewLogger(t),
		WithFallback(func(ctx context.Context, lastErr error) (interface{}, error) {
			atomic.AddInt32(&fallbackCalls, 1)
			assert.EqualError(t, lastErr, "down")
			return "cached", nil
		}))

	var calls int32
	e.RegisterOperation("charge", func(ctx context.Context, args ...interface{}) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("down")
	})

	start := time.Now()
	result, err := e.Execute(context.Background(), "charge")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "cached", result.Value)
	assert.Equal(t, OutcomeFallback, result.Outcome)

	// maxRetries=2 means attempts 0, 1 and 2, with backoff sleeps only
	// after attempts 0 and 1: base*1 + base*2.
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&fallbackCalls))
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)

	metrics := e.GetMetrics()
	assert.EqualValues(t, 3, metrics.Errors)
	assert.EqualValues(t, 1, metrics.FallbackCalls)
	assert.Equal(t, "down", metrics.LastError)
}

func TestExecuteNoFallbackSurfacesLastError(t *testing.T) {
	e := NewExecutor("billing", testConfig(), zaptest.NewLogger(t))

	e.RegisterOperation("charge", func(ctx context.Context, args ...interface{}) (interface{}, error) {
		return nil, errors.New("down")
	})

	_, err := e.Execute(context.Background(), "charge")
	assert.EqualError(t, err, "down")
	assert.Equal(t, StatusError, e.Status())
}

func TestExecuteFallbackFailureBecomesResult(t *testing.T) {
	e := NewExecutor("billing", testConfig(), zaptest.NewLogger(t),
		WithFallback(func(ctx context.Context, lastErr error) (interface{}, error) {
			return nil, errors.New("fallback also down")
		}))

	e.RegisterOperation("charge", func(ctx context.Context, args ...interface{}) (interface{}, error) {
		return nil, errors.New("down")
	})

	_, err := e.Execute(context.Background(), "charge")
	assert.EqualError(t, err, "fallback also down")
}

func TestExecuteMethodNotFound(t *testing.T) {
	e := NewExecutor("billing", testConfig(), zaptest.NewLogger(t))

	_, err := e.Execute(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMethodNotFound)

	metrics := e.GetMetrics()
	assert.EqualValues(t, 1, metrics.TotalRequests)
	assert.EqualValues(t, 1, metrics.Errors)
}

func TestExecutePerAttemptTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.PerAttemptTimeout = 20 * time.Millisecond
	e := NewExecutor("billing", cfg, zaptest.NewLogger(t))

	var calls int32
	e.RegisterOperation("slow", func(ctx context.Context, args ...interface{}) (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return "late", nil
		}
	})

	_, err := e.Execute(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrAttemptTimeout)

	// A timeout is an ordinary failure: every attempt ran.
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestExecuteBackoffCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.BaseRetryDelay = 10 * time.Second
	e := NewExecutor("billing", cfg, zaptest.NewLogger(t))

	e.RegisterOperation("charge", func(ctx context.Context, args ...interface{}) (interface{}, error) {
		return nil, errors.New("down")
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := e.Execute(ctx, "charge")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConnectionFailureShortCircuitsAttempt(t *testing.T) {
	var operationCalls int32
	var connectCalls int32
	e := NewExecutor("billing", testConfig(), zaptest.NewLogger(t),
		WithConnector(func(ctx context.Context) error {
			atomic.AddInt32(&connectCalls, 1)
			return errors.New("refused")
		}))

	e.RegisterOperation("charge", func(ctx context.Context, args ...interface{}) (interface{}, error) {
		atomic.AddInt32(&operationCalls, 1)
		return "ok", nil
	})

	_, err := e.Execute(context.Background(), "charge")
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Zero(t, atomic.LoadInt32(&operationCalls))
	assert.EqualValues(t, 3, atomic.LoadInt32(&connectCalls))
	assert.Equal(t, StatusError, e.Status())
}

func TestRateLimitStatus(t *testing.T) {
	e := NewExecutor("billing", testConfig(), zaptest.NewLogger(t))

	e.RegisterOperation("charge", func(ctx context.Context, args ...interface{}) (interface{}, error) {
		return nil, &RateLimitError{RetryAfter: time.Minute}
	})

	_, err := e.Execute(context.Background(), "charge")
	require.Error(t, err)
	assert.Equal(t, StatusRateLimited, e.Status())

	// The next successful call recovers the connection state.
	e.RegisterOperation("ping", func(ctx context.Context, args ...interface{}) (interface{}, error) {
		return "pong", nil
	})
	_, err = e.Execute(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, e.Status())
}

func TestGetMetricsDoesNotMutate(t *testing.T) {
	e := NewExecutor("billing", testConfig(), zaptest.NewLogger(t))
	e.RegisterOperation("charge", func(ctx context.Context, args ...interface{}) (interface{}, error) {
		return "ok", nil
	})

	_, err := e.Execute(context.Background(), "charge")
	require.NoError(t, err)

	first := e.GetMetrics()
	second := e.GetMetrics()
	assert.Equal(t, first, second)
}

func TestResetMetrics(t *testing.T) {
	e := NewExecutor("billing", testConfig(), zaptest.NewLogger(t))
	e.RegisterOperation("charge", func(ctx context.Context, args ...interface{}) (interface{}, error) {
		return "ok", nil
	})

	_, err := e.Execute(context.Background(), "charge")
	require.NoError(t, err)

	e.ResetMetrics()
	metrics := e.GetMetrics()
	assert.Zero(t, metrics.TotalRequests)
	assert.Zero(t, metrics.Successes)
	assert.Equal(t, StatusConnected, metrics.Status)
}
