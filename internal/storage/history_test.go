package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nexhub-labs/coordinator/internal/model"
)

func newTestHistory(t *testing.T) *SQLiteHistory {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.db")
	h, err := NewSQLiteHistory(zaptest.NewLogger(t), path)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func sampleRecord(status model.TaskStatus, finishedAt time.Time) *TaskRecord {
	created := finishedAt.Add(-time.Minute)
	return &TaskRecord{
		ID:         uuid.New().String(),
		TaskID:     uuid.New().String(),
		WorkflowID: "wf-1",
		Name:       "sample",
		Class:      model.TaskClassPlanned,
		Status:     status,
		WorkerID:   "worker-1",
		Result:     []byte(`{"ok":true}`),
		CreatedAt:  created,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(created),
	}
}

func TestArchiveAndGet(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	record := sampleRecord(model.TaskStatusCompleted, time.Now())
	require.NoError(t, h.Archive(ctx, record))

	got, err := h.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.TaskID, got.TaskID)
	assert.Equal(t, record.WorkflowID, got.WorkflowID)
	assert.Equal(t, model.TaskClassPlanned, got.Class)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	assert.Equal(t, record.Result, got.Result)
	assert.Equal(t, record.Duration, got.Duration)

	_, err = h.Get(ctx, "missing")
	assert.Error(t, err)
}

func TestArchiveFailedTaskKeepsError(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	record := sampleRecord(model.TaskStatusFailed, time.Now())
	record.Result = nil
	record.Error = "connection refused"
	require.NoError(t, h.Archive(ctx, record))

	got, err := h.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "connection refused", got.Error)
	assert.Empty(t, got.Result)
}

func TestListFilters(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	now := time.Now()

	completed := sampleRecord(model.TaskStatusCompleted, now)
	failed := sampleRecord(model.TaskStatusFailed, now.Add(time.Second))
	failed.WorkflowID = "wf-2"
	other := sampleRecord(model.TaskStatusCompleted, now.Add(2*time.Second))
	other.Class = model.TaskClassRealTime

	for _, record := range []*TaskRecord{completed, failed, other} {
		require.NoError(t, h.Archive(ctx, record))
	}

	t.Run("no filters returns all, newest first", func(t *testing.T) {
		records, err := h.List(ctx, nil, 0, 10)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, other.ID, records[0].ID)
	})

	t.Run("by status", func(t *testing.T) {
		records, err := h.List(ctx, map[string]interface{}{"status": "failed"}, 0, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, failed.ID, records[0].ID)
	})

	t.Run("by workflow", func(t *testing.T) {
		records, err := h.List(ctx, map[string]interface{}{"workflow_id": "wf-2"}, 0, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
	})

	t.Run("by class and status", func(t *testing.T) {
		records, err := h.List(ctx, map[string]interface{}{
			"class":  "real-time",
			"status": "completed",
		}, 0, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, other.ID, records[0].ID)
	})

	t.Run("pagination", func(t *testing.T) {
		records, err := h.List(ctx, nil, 1, 1)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, failed.ID, records[0].ID)
	})

	t.Run("unknown filter keys are ignored", func(t *testing.T) {
		records, err := h.List(ctx, map[string]interface{}{"bogus": "x"}, 0, 10)
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})
}

func TestCount(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		status := model.TaskStatusCompleted
		if i%2 == 1 {
			status = model.TaskStatusFailed
		}
		require.NoError(t, h.Archive(ctx, sampleRecord(status, time.Now().Add(time.Duration(i)*time.Second))))
	}

	total, err := h.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, total)

	failed, err := h.Count(ctx, map[string]interface{}{"status": "failed"})
	require.NoError(t, err)
	assert.Equal(t, 2, failed)
}

func TestDeleteBefore(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()
	now := time.Now()

	old := sampleRecord(model.TaskStatusCompleted, now.Add(-48*time.Hour))
	recent := sampleRecord(model.TaskStatusCompleted, now)
	require.NoError(t, h.Archive(ctx, old))
	require.NoError(t, h.Archive(ctx, recent))

	require.NoError(t, h.DeleteBefore(ctx, now.Add(-24*time.Hour)))

	total, err := h.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	_, err = h.Get(ctx, old.ID)
	assert.Error(t, err)
	_, err = h.Get(ctx, recent.ID)
	assert.NoError(t, err)
}

func TestDuplicateArchiveIDRejected(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	record := sampleRecord(model.TaskStatusCompleted, time.Now())
	require.NoError(t, h.Archive(ctx, record))

	err := h.Archive(ctx, record)
	require.Error(t, err)
	assert.Contains(t, fmt.Sprint(err), "failed to archive task")
}
