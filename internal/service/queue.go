package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/data"
	"github.com/draftmill/draftmill/internal/domain/model"
	apperrors "github.com/draftmill/draftmill/internal/errors"
	"github.com/draftmill/draftmill/internal/observability/metrics"
	"github.com/draftmill/draftmill/internal/observability/statsd"
)

// TaskQueueServiceOptions groups dependencies for TaskQueueService.
type TaskQueueServiceOptions struct {
	Tasks   core.TaskRepository  // Required: task repository
	Events  core.EventRepository // Required: pipeline event log
	Config  config.QueueConfig   // Required: queue configuration
	Logger  *slog.Logger         // Optional: structured logger
	Metrics statsd.Sink          // Optional: metrics sink (StatsD-compatible)
}

// TaskQueueService is the distributed front end to the pipeline: independent
// pollers list, claim, complete, and fail discrete tasks. Exclusivity rests
// entirely on the storage layer's conditional claim write.
type TaskQueueService struct {
	tasks   core.TaskRepository
	events  core.EventRepository
	config  config.QueueConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewTaskQueueService constructs a new TaskQueueService.
func NewTaskQueueService(opts TaskQueueServiceOptions) (*TaskQueueService, error) {
	if opts.Tasks == nil {
		return nil, errors.New("TaskRepository is required")
	}
	if opts.Events == nil {
		return nil, errors.New("EventRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "task_queue_service")
	}

	return &TaskQueueService{
		tasks:   opts.Tasks,
		events:  opts.Events,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Enqueue creates a new pending task.
func (s *TaskQueueService) Enqueue(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error) {
	task, err := s.tasks.Create(ctx, req)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return task, nil
}

// ListPending returns up to limit pending tasks, oldest first.
func (s *TaskQueueService) ListPending(ctx context.Context, limit int) ([]*model.Task, error) {
	if limit <= 0 || limit > s.config.MaxListLimit {
		limit = s.config.MaxListLimit
	}
	tasks, err := s.tasks.ListPending(ctx, limit)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return tasks, nil
}

// Claim attempts the pending→processing compare-and-swap for one task.
// Returns nil when another poller won the race; callers simply move on.
func (s *TaskQueueService) Claim(ctx context.Context, taskID, workerID string) (*model.Task, error) {
	if workerID == "" {
		return nil, apperrors.Validation("worker id is required")
	}

	task, err := s.tasks.Claim(ctx, taskID, workerID)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	if task == nil {
		metrics.EmitTaskLifecycle(s.metrics, metrics.TaskMetric{
			Transition: "claimed",
			Result:     metrics.ResultNoop,
		})
		return nil, nil
	}

	metrics.EmitTaskLifecycle(s.metrics, metrics.TaskMetric{
		Kind:       string(task.Kind),
		Transition: "claimed",
		Result:     metrics.ResultSuccess,
	})
	return task, nil
}

// Complete finishes a processing task and, when the kind chains, enqueues
// exactly one follow-on task for the same job carrying the result field
// forward. A result missing the kind's required field is rejected before
// any write.
func (s *TaskQueueService) Complete(
	ctx context.Context,
	taskID string,
	result json.RawMessage,
) (*model.Task, error) {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	value, err := s.requiredResultValue(task.Kind, result)
	if err != nil {
		return nil, err
	}

	ok, err := s.tasks.Complete(ctx, taskID, result)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	if !ok {
		return nil, apperrors.Conflictf("task %s is not processing", taskID)
	}

	metrics.EmitTaskLifecycle(s.metrics, metrics.TaskMetric{
		Kind:       string(task.Kind),
		Transition: "completed",
		Result:     metrics.ResultSuccess,
	})

	next, chains := task.Kind.Next()
	if !chains {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "pipeline chain complete for job",
				"job_id", task.JobID,
				"final_kind", task.Kind,
			)
		}
		return nil, nil
	}

	chained, err := s.enqueueChained(ctx, task, next, value)
	if err != nil {
		return nil, err
	}
	return chained, nil
}

// Fail moves a processing task to failed and stores the error.
func (s *TaskQueueService) Fail(ctx context.Context, taskID, errMsg string) error {
	if errMsg == "" {
		return apperrors.Validation("error message is required")
	}

	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}

	ok, err := s.tasks.Fail(ctx, taskID, errMsg)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if !ok {
		return apperrors.Conflictf("task %s is not processing", taskID)
	}

	if stage, hasStage := task.Kind.Stage(); hasStage {
		s.appendEvent(ctx, core.AppendEventParams{
			JobID:     task.JobID,
			EventType: model.EventFailed,
			Data: model.FailedData{
				Stage: stage,
				Error: errMsg,
			},
		})
	}

	metrics.EmitTaskLifecycle(s.metrics, metrics.TaskMetric{
		Kind:       string(task.Kind),
		Transition: "failed",
		Result:     metrics.ResultError,
	})

	if s.logger != nil {
		s.logger.WarnContext(ctx, "task failed",
			"task_id", taskID,
			"job_id", task.JobID,
			"kind", task.Kind,
			"error", errMsg,
		)
	}
	return nil
}

// appendEvent writes an audit event; append failures are logged rather than
// failing the task write that already committed.
func (s *TaskQueueService) appendEvent(ctx context.Context, params core.AppendEventParams) {
	if err := s.events.Append(ctx, params); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "append pipeline event failed",
			"job_id", params.JobID,
			"event_type", params.EventType,
			"error", err,
		)
	}
}

// ResetStuck sweeps tasks stuck in processing past the configured timeout.
// Tasks below the retry bound return to pending for another poller; tasks
// at the bound are failed permanently.
func (s *TaskQueueService) ResetStuck(ctx context.Context) (*core.ResetStuckResult, error) {
	result, err := s.tasks.ResetStuck(ctx, s.config.StuckTimeout)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	if result.Reset > 0 || result.Failed > 0 {
		metrics.EmitTaskLifecycle(s.metrics, metrics.TaskMetric{
			Transition: "reset",
			Result:     metrics.ResultSuccess,
		})
		if s.logger != nil {
			s.logger.InfoContext(ctx, "stuck tasks swept",
				"reset", result.Reset,
				"failed", result.Failed,
				"stuck_timeout", s.config.StuckTimeout,
			)
		}
	}
	return result, nil
}

// GetByID retrieves a task.
func (s *TaskQueueService) GetByID(ctx context.Context, id string) (*model.Task, error) {
	return s.getTask(ctx, id)
}

func (s *TaskQueueService) getTask(ctx context.Context, id string) (*model.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrTaskNotFound) {
			return nil, apperrors.NotFoundf("task %s not found", id)
		}
		return nil, apperrors.MapDBError(err)
	}
	return task, nil
}

// Stats returns per-status task counts.
func (s *TaskQueueService) Stats(ctx context.Context) (*model.TaskStats, error) {
	stats, err := s.tasks.Stats(ctx)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return stats, nil
}

// requiredResultValue selects the kind's required field from the result via
// its JMESPath expression. Absence is an error, never a silent skip.
func (s *TaskQueueService) requiredResultValue(kind model.TaskKind, result json.RawMessage) (any, error) {
	expr, ok := kind.ResultField()
	if !ok {
		return nil, apperrors.Validationf("unknown task kind: %s", kind)
	}

	var decoded any
	if len(result) > 0 {
		if err := json.Unmarshal(result, &decoded); err != nil {
			return nil, apperrors.Validationf("result is not valid JSON: %v", err)
		}
	}

	value, err := jmespath.Search(expr, decoded)
	if err != nil {
		return nil, apperrors.Validationf("evaluate result field %q: %v", expr, err)
	}
	if value == nil {
		return nil, apperrors.ValidationField(expr, fmt.Sprintf("result for %s task is missing required field %q", kind, expr))
	}
	return value, nil
}

// enqueueChained creates the follow-on task, carrying the completed result
// field forward in the new task's payload.
func (s *TaskQueueService) enqueueChained(
	ctx context.Context,
	task *model.Task,
	next model.TaskKind,
	value any,
) (*model.Task, error) {
	field, _ := task.Kind.ResultField()
	payload, err := json.Marshal(map[string]any{field: value})
	if err != nil {
		return nil, apperrors.Internalf("marshal chained payload: %v", err)
	}

	chained, err := s.tasks.Create(ctx, &model.CreateTaskRequest{
		JobID:      task.JobID,
		Kind:       next,
		Payload:    payload,
		MaxRetries: task.MaxRetries,
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "chained next task",
			"job_id", task.JobID,
			"completed_kind", task.Kind,
			"next_kind", next,
			"task_id", chained.ID,
		)
	}
	return chained, nil
}
