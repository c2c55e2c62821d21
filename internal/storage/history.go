package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/nexhub-labs/coordinator/internal/model"
)

// TaskRecord is an archived terminal task. The archive is an audit log;
// the live task store is never rebuilt from it.
type TaskRecord struct {
	ID         string           `json:"id"`
	TaskID     string           `json:"task_id"`
	WorkflowID string           `json:"workflow_id"`
	Name       string           `json:"name"`
	Class      model.TaskClass  `json:"class"`
	Status     model.TaskStatus `json:"status"`
	WorkerID   string           `json:"worker_id,omitempty"`
	Result     []byte           `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Duration   time.Duration    `json:"duration"`
}

// HistoryStore archives terminal tasks.
type HistoryStore interface {
	// Archive stores one terminal task record
	Archive(ctx context.Context, record *TaskRecord) error

	// Get retrieves a record by its archive id
	Get(ctx context.Context, id string) (*TaskRecord, error)

	// List retrieves records with optional filters and pagination
	List(ctx context.Context, filters map[string]interface{}, offset, limit int) ([]*TaskRecord, error)

	// Count returns the number of records matching the filters
	Count(ctx context.Context, filters map[string]interface{}) (int, error)

	// DeleteBefore deletes records that finished before the given time
	DeleteBefore(ctx context.Context, before time.Time) error

	// Close releases the underlying database
	Close() error
}

// SQLiteHistory implements HistoryStore using SQLite.
type SQLiteHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteHistory opens (or creates) the archive database at path.
func NewSQLiteHistory(logger *zap.Logger, path string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	h := &SQLiteHistory{
		logger: logger.Named("history"),
		db:     db,
	}
	if err := h.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *SQLiteHistory) initialize() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS task_archive (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			name TEXT NOT NULL,
			class TEXT NOT NULL,
			status TEXT NOT NULL,
			worker_id TEXT,
			result BLOB,
			error TEXT,
			created_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			duration INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_task_archive_task_id ON task_archive(task_id);
		CREATE INDEX IF NOT EXISTS idx_task_archive_workflow_id ON task_archive(workflow_id);
		CREATE INDEX IF NOT EXISTS idx_task_archive_status ON task_archive(status);
		CREATE INDEX IF NOT EXISTS idx_task_archive_finished_at ON task_archive(finished_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Archive implements HistoryStore.Archive
func (h *SQLiteHistory) Archive(ctx context.Context, record *TaskRecord) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO task_archive (
			id, task_id, workflow_id, name, class, status,
			worker_id, result, error, created_at, finished_at, duration
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.TaskID, record.WorkflowID, record.Name,
		string(record.Class), string(record.Status), record.WorkerID,
		record.Result, record.Error, record.CreatedAt, record.FinishedAt,
		int64(record.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to archive task: %w", err)
	}

	h.logger.Debug("Task archived",
		zap.String("task_id", record.TaskID),
		zap.String("status", string(record.Status)))

	return nil
}

// Get implements HistoryStore.Get
func (h *SQLiteHistory) Get(ctx context.Context, id string) (*TaskRecord, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT id, task_id, workflow_id, name, class, status,
		       worker_id, result, error, created_at, finished_at, duration
		FROM task_archive WHERE id = ?`, id)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record %s not found", id)
	}
	return record, err
}

// List implements HistoryStore.List. Supported filters: task_id,
// workflow_id, status, class.
func (h *SQLiteHistory) List(ctx context.Context, filters map[string]interface{}, offset, limit int) ([]*TaskRecord, error) {
	where, args := buildWhere(filters)
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, offset)

	rows, err := h.db.QueryContext(ctx, `
		SELECT id, task_id, workflow_id, name, class, status,
		       worker_id, result, error, created_at, finished_at, duration
		FROM task_archive`+where+`
		ORDER BY finished_at DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*TaskRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Count implements HistoryStore.Count
func (h *SQLiteHistory) Count(ctx context.Context, filters map[string]interface{}) (int, error) {
	where, args := buildWhere(filters)

	var count int
	err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_archive`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// DeleteBefore implements HistoryStore.DeleteBefore
func (h *SQLiteHistory) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := h.db.ExecContext(ctx, `DELETE FROM task_archive WHERE finished_at < ?`, before)
	if err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}

	if deleted, err := result.RowsAffected(); err == nil && deleted > 0 {
		h.logger.Info("Old task records deleted",
			zap.Int64("count", deleted),
			zap.Time("before", before))
	}
	return nil
}

// Close implements HistoryStore.Close
func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}

func buildWhere(filters map[string]interface{}) (string, []interface{}) {
	if len(filters) == 0 {
		return "", nil
	}

	where := ""
	var args []interface{}
	for _, column := range []string{"task_id", "workflow_id", "status", "class"} {
		if value, ok := filters[column]; ok {
			if where == "" {
				where = " WHERE "
			} else {
				where += " AND "
			}
			where += column + " = ?"
			args = append(args, value)
		}
	}
	return where, args
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*TaskRecord, error) {
	var record TaskRecord
	var class, status string
	var workerID, errMsg sql.NullString
	var duration int64

	err := s.Scan(&record.ID, &record.TaskID, &record.WorkflowID, &record.Name,
		&class, &status, &workerID, &record.Result, &errMsg,
		&record.CreatedAt, &record.FinishedAt, &duration)
	if err != nil {
		return nil, err
	}

	record.Class = model.TaskClass(class)
	record.Status = model.TaskStatus(status)
	record.WorkerID = workerID.String
	record.Error = errMsg.String
	record.Duration = time.Duration(duration)
	return &record, nil
}
