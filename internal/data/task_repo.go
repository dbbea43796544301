package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
)

// ErrTaskNotFound is returned when a task is not found.
var ErrTaskNotFound = errors.New("task not found")

// TaskRepo provides database operations for the distributed task queue.
type TaskRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewTaskRepo creates a new TaskRepo instance with the given database connection and configuration.
func NewTaskRepo(db *sql.DB, cfg RepoConfig) *TaskRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &TaskRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const taskColumns = `
  id,
  job_id,
  kind,
  status,
  payload,
  result,
  worker_id,
  retry_count,
  max_retries,
  last_error,
  created_at,
  started_at,
  completed_at
`

// Create enqueues a new pending task.
func (r *TaskRepo) Create(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error) {
	if req == nil {
		return nil, errors.New("create task request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	maxRetries := defaultMaxRetries
	if req.MaxRetries > 0 {
		maxRetries = req.MaxRetries
	}

	row := r.DB.QueryRowContext(ctx, `
	  INSERT INTO tasks (job_id, kind, status, payload, max_retries, created_at)
	  VALUES ($1, $2, 'pending', $3, $4, $5)
	  RETURNING `+taskColumns,
		req.JobID, req.Kind, []byte(payload), maxRetries, r.timeProvider.Now().UTC())

	task, err := scanTaskFromRow(row)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// GetByID retrieves a task by its ID.
func (r *TaskRepo) GetByID(ctx context.Context, id string) (*model.Task, error) {
	row := r.DB.QueryRowContext(ctx, `
	  SELECT `+taskColumns+`
	  FROM tasks
	  WHERE id = $1
	`, id)

	task, err := scanTaskFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListPending returns up to limit pending tasks, oldest first.
func (r *TaskRepo) ListPending(ctx context.Context, limit int) ([]*model.Task, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.DB.QueryContext(ctx, `
	  SELECT `+taskColumns+`
	  FROM tasks
	  WHERE status = 'pending'
	  ORDER BY created_at ASC
	  LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()

	return scanTaskList(rows)
}

// Claim performs the pending→processing compare-and-swap. The write succeeds
// only if the row is still pending, which is the sole concurrency-control
// primitive between pollers. Returns nil when the task was already claimed.
func (r *TaskRepo) Claim(ctx context.Context, taskID, workerID string) (*model.Task, error) {
	if workerID == "" {
		return nil, errors.New("worker id is required")
	}

	row := r.DB.QueryRowContext(ctx, `
	  UPDATE tasks
	  SET status = 'processing',
	      worker_id = $2,
	      started_at = $3
	  WHERE id = $1 AND status = 'pending'
	  RETURNING `+taskColumns,
		taskID, workerID, r.timeProvider.Now().UTC())

	task, err := scanTaskFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// Complete moves a processing task to completed, stores its result, and
// stamps completed_at. Returns false when the task was not processing.
func (r *TaskRepo) Complete(ctx context.Context, taskID string, result json.RawMessage) (bool, error) {
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}

	res, err := r.DB.ExecContext(ctx, `
	  UPDATE tasks
	  SET status = 'completed',
	      result = $2,
	      completed_at = $3,
	      last_error = NULL
	  WHERE id = $1 AND status = 'processing'
	`, taskID, []byte(result), r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Fail moves a processing task to failed, stores the error, and stamps
// completed_at. Returns false when the task was not processing.
func (r *TaskRepo) Fail(ctx context.Context, taskID, errMsg string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
	  UPDATE tasks
	  SET status = 'failed',
	      last_error = $2,
	      completed_at = $3
	  WHERE id = $1 AND status = 'processing'
	`, taskID, errMsg, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("fail task: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ResetStuck sweeps tasks stuck in processing past the cutoff. A stuck task
// below its retry bound goes back to pending with worker_id and started_at
// cleared and its retry counter incremented; one at the bound is failed
// permanently. Both paths are single conditional updates, so two concurrent
// sweeps cannot double-reset a task.
func (r *TaskRepo) ResetStuck(ctx context.Context, olderThan time.Duration) (*core.ResetStuckResult, error) {
	cutoff := r.timeProvider.Now().Add(-olderThan).UTC()
	currentTime := r.timeProvider.Now().UTC()

	resetRes, err := r.DB.ExecContext(ctx, `
	  UPDATE tasks
	  SET status = 'pending',
	      worker_id = NULL,
	      started_at = NULL,
	      retry_count = retry_count + 1,
	      last_error = $2
	  WHERE status = 'processing'
	    AND started_at < $1
	    AND retry_count < max_retries
	`, cutoff, "timeout: no progress")
	if err != nil {
		return nil, fmt.Errorf("reset stuck tasks: %w", err)
	}
	reset, err := resetRes.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reset rows affected: %w", err)
	}

	failRes, err := r.DB.ExecContext(ctx, `
	  UPDATE tasks
	  SET status = 'failed',
	      last_error = $2,
	      completed_at = $3
	  WHERE status = 'processing'
	    AND started_at < $1
	    AND retry_count >= max_retries
	`, cutoff, "timeout: no progress", currentTime)
	if err != nil {
		return nil, fmt.Errorf("fail stuck tasks: %w", err)
	}
	failed, err := failRes.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("fail rows affected: %w", err)
	}

	return &core.ResetStuckResult{Reset: reset, Failed: failed}, nil
}

// Stats returns per-status task counts.
func (r *TaskRepo) Stats(ctx context.Context) (*model.TaskStats, error) {
	var s model.TaskStats
	err := r.DB.QueryRowContext(ctx, `
	  SELECT
	    count(*) FILTER (WHERE status = 'pending')    AS pending,
	    count(*) FILTER (WHERE status = 'processing') AS processing,
	    count(*) FILTER (WHERE status = 'completed')  AS completed,
	    count(*) FILTER (WHERE status = 'failed')     AS failed
	  FROM tasks
	`).Scan(
		&s.Pending,
		&s.Processing,
		&s.Completed,
		&s.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	return &s, nil
}

type taskRowData struct {
	payload, result     []byte
	workerID, lastError sql.NullString
	startedAt           sql.NullTime
	completedAt         sql.NullTime
}

func (d *taskRowData) scanInto(scanner rowScanner, task *model.Task) error {
	return scanner.Scan(
		&task.ID,
		&task.JobID,
		&task.Kind,
		&task.Status,
		&d.payload,
		&d.result,
		&d.workerID,
		&task.RetryCount,
		&task.MaxRetries,
		&d.lastError,
		&task.CreatedAt,
		&d.startedAt,
		&d.completedAt,
	)
}

func (d *taskRowData) apply(task *model.Task) {
	task.Payload = cloneJSON(d.payload)
	if len(d.result) > 0 {
		task.Result = append(json.RawMessage(nil), d.result...)
	}
	task.WorkerID = cloneNullableString(d.workerID)
	task.LastError = cloneNullableString(d.lastError)
	task.StartedAt = cloneNullableTime(d.startedAt)
	task.CompletedAt = cloneNullableTime(d.completedAt)
}

func scanTaskFromRow(scanner rowScanner) (*model.Task, error) {
	task := &model.Task{}
	var data taskRowData
	if err := data.scanInto(scanner, task); err != nil {
		return nil, err
	}
	data.apply(task)
	return task, nil
}

func scanTaskList(rows *sql.Rows) ([]*model.Task, error) {
	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTaskFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task rows: %w", err)
	}
	return tasks, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}
