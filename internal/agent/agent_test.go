package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nexhub-labs/coordinator/internal/model"
	"github.com/nexhub-labs/coordinator/internal/resilience"
)

func transformTask(operation string, input interface{}) *model.Task {
	return &model.Task{
		ID:    "task-1",
		Class: model.TaskClassPlanned,
		Context: map[string]interface{}{
			"operation": operation,
			"input":     input,
		},
	}
}

func decodeStrings(t *testing.T, payload []byte) []string {
	t.Helper()
	var out []string
	require.NoError(t, json.Unmarshal(payload, &out))
	return out
}

func TestTransformAgentOperations(t *testing.T) {
	a := NewTransformAgent(zaptest.NewLogger(t))
	ctx := context.Background()

	tests := []struct {
		name      string
		operation string
		input     interface{}
		want      []string
	}{
		{"uppercase string", "uppercase", "hello", []string{"HELLO"}},
		{"lowercase string", "lowercase", "HeLLo", []string{"hello"}},
		{"reverse string", "reverse", "abc", []string{"cba"}},
		{"reverse multibyte", "reverse", "héllo", []string{"olléh"}},
		{"list input", "uppercase", []interface{}{"a", "b"}, []string{"A", "B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := a.ExecuteTask(ctx, transformTask(tt.operation, tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, decodeStrings(t, result.Result))
		})
	}
}

func TestTransformAgentRejectsBadInput(t *testing.T) {
	a := NewTransformAgent(zaptest.NewLogger(t))
	ctx := context.Background()

	t.Run("unknown operation", func(t *testing.T) {
		_, err := a.ExecuteTask(ctx, transformTask("rot13", "abc"))
		assert.Error(t, err)
	})

	t.Run("missing input", func(t *testing.T) {
		task := &model.Task{ID: "t", Context: map[string]interface{}{"operation": "uppercase"}}
		_, err := a.ExecuteTask(ctx, task)
		assert.Error(t, err)
	})

	t.Run("non-string list item", func(t *testing.T) {
		_, err := a.ExecuteTask(ctx, transformTask("uppercase", []interface{}{"a", 42}))
		assert.Error(t, err)
	})
}

func TestTransformAgentCapability(t *testing.T) {
	a := NewTransformAgent(zaptest.NewLogger(t))
	capability := a.Capability()
	assert.True(t, capability.Supports(model.TaskClassPlanned))
	assert.True(t, capability.Supports(model.TaskClassComplex))
	assert.False(t, capability.Supports(model.TaskClassRealTime))
}

func httpTask(url, method, body string) *model.Task {
	taskContext := map[string]interface{}{"url": url}
	if method != "" {
		taskContext["method"] = method
	}
	if body != "" {
		taskContext["body"] = body
	}
	return &model.Task{ID: "task-http", Class: model.TaskClassRealTime, Context: taskContext}
}

func fastResilience() resilience.Config {
	return resilience.Config{
		MaxRetries:        2,
		BaseRetryDelay:    5 * time.Millisecond,
		PerAttemptTimeout: time.Second,
	}
}

func TestHTTPAgentSuccessfulRequest(t *testing.T) {
	var gotMethod, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	a := NewHTTPAgent("upstream", HTTPAgentConfig{Resilience: fastResilience()}, zaptest.NewLogger(t))

	result, err := a.ExecuteTask(context.Background(), httpTask(srv.URL, "POST", `{"in":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"status":"ok"}`, string(result.Result))
	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, `{"in":1}`, gotBody)

	metrics := a.Metrics()
	assert.Equal(t, int64(1), metrics.Successes)
	assert.Equal(t, resilience.StatusConnected, metrics.Status)
}

func TestHTTPAgentRetriesTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	a := NewHTTPAgent("upstream", HTTPAgentConfig{Resilience: fastResilience()}, zaptest.NewLogger(t))

	result, err := a.ExecuteTask(context.Background(), httpTask(srv.URL, "", ""))
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(result.Result))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPAgentFallbackAfterExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewHTTPAgent("upstream", HTTPAgentConfig{
		Resilience:   fastResilience(),
		FallbackBody: []byte(`{"cached":true}`),
	}, zaptest.NewLogger(t))

	result, err := a.ExecuteTask(context.Background(), httpTask(srv.URL, "", ""))
	require.NoError(t, err)
	assert.Equal(t, `{"cached":true}`, string(result.Result))

	metrics := a.Metrics()
	assert.Equal(t, int64(1), metrics.FallbackCalls)
	assert.Equal(t, int64(3), metrics.Errors)
}

func TestHTTPAgentFailsWithoutFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewHTTPAgent("upstream", HTTPAgentConfig{Resilience: fastResilience()}, zaptest.NewLogger(t))

	_, err := a.ExecuteTask(context.Background(), httpTask(srv.URL, "", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestHTTPAgentRateLimitMarksDependency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewHTTPAgent("upstream", HTTPAgentConfig{Resilience: fastResilience()}, zaptest.NewLogger(t))

	_, err := a.ExecuteTask(context.Background(), httpTask(srv.URL, "", ""))
	require.Error(t, err)
	assert.Equal(t, resilience.StatusRateLimited, a.Metrics().Status)
}

func TestHTTPAgentRejectsNonStringRequestArgs(t *testing.T) {
	a := NewHTTPAgent("upstream", HTTPAgentConfig{Resilience: fastResilience()}, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := a.doRequest(ctx)
	assert.Error(t, err)
	_, err = a.doRequest(ctx, 42, "http://example.com")
	assert.Error(t, err)
	_, err = a.doRequest(ctx, "GET", 42)
	assert.Error(t, err)
}

func TestHTTPAgentRequiresURL(t *testing.T) {
	a := NewHTTPAgent("upstream", HTTPAgentConfig{Resilience: fastResilience()}, zaptest.NewLogger(t))

	task := &model.Task{ID: "t", Context: map[string]interface{}{}}
	_, err := a.ExecuteTask(context.Background(), task)
	assert.Error(t, err)
}
