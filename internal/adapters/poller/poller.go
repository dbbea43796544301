// Package poller provides the adapter that pulls queue tasks and executes
// them against the worker service.
package poller

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/data"
	"github.com/draftmill/draftmill/internal/domain/model"
	apperrors "github.com/draftmill/draftmill/internal/errors"
	obserrors "github.com/draftmill/draftmill/internal/observability/errors"
	"github.com/draftmill/draftmill/internal/observability/metrics"
	"github.com/draftmill/draftmill/internal/observability/statsd"
	"github.com/draftmill/draftmill/internal/service"
	"github.com/draftmill/draftmill/internal/worker"
)

// Runner polls the task queue with a pool of workers. Each worker lists
// pending tasks, races the claim, runs claimed work against the worker
// service, and reports the outcome back to the queue.
type Runner struct {
	queue   *service.TaskQueueService
	client  *worker.HTTPClient
	config  config.PollerConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// RunnerOptions configures the poller adapter.
type RunnerOptions struct {
	DB      *sql.DB
	Config  config.PollerConfig
	Queue   config.QueueConfig
	Client  *worker.HTTPClient
	Logger  *slog.Logger
	Metrics statsd.Sink

	// Optional dependency injection for testing/decoupling
	Tasks  core.TaskRepository
	Events core.EventRepository
}

// NewRunner wires the task queue service and constructs a poller.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	tasks := opts.Tasks
	if tasks == nil {
		tasks = data.NewTaskRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
	}
	events := opts.Events
	if events == nil {
		events = data.NewEventRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
	}

	queueSvc, err := service.NewTaskQueueService(service.TaskQueueServiceOptions{
		Tasks:   tasks,
		Events:  events,
		Config:  opts.Queue,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return &Runner{
		queue:   queueSvc,
		client:  opts.Client,
		config:  opts.Config,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && (opts.Tasks == nil || opts.Events == nil) {
		return errors.New("database connection is required")
	}
	if opts.Client == nil {
		return errors.New("worker client is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// Run starts the worker pool and polls until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting task poller",
		"concurrency", r.config.Concurrency,
		"poll_interval", r.config.PollInterval,
		"batch_size", r.config.BatchSize,
	)

	// First worker error cancels the group context and stops the pool.
	group, gctx := errgroup.WithContext(ctx)
	for range r.config.Concurrency {
		workerID := "poller-" + uuid.NewString()
		group.Go(func() error { return r.workerLoop(gctx, workerID) })
	}

	if err := group.Wait(); err != nil {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (r *Runner) workerLoop(ctx context.Context, workerID string) error {
	for ctx.Err() == nil {
		claimed, err := r.pollOnce(ctx, workerID)
		if err != nil {
			return err
		}
		if claimed == 0 {
			if !r.wait(ctx) {
				return nil
			}
		}
	}
	return nil
}

// pollOnce lists one batch of pending tasks and races the claim on each.
// Returns how many tasks this worker actually won and processed.
func (r *Runner) pollOnce(ctx context.Context, workerID string) (int, error) {
	pending, err := r.queue.ListPending(ctx, r.config.BatchSize)
	if err != nil {
		if isContextErr(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("list pending tasks: %w", err)
	}

	claimed := 0
	for _, candidate := range pending {
		if ctx.Err() != nil {
			return claimed, nil
		}

		task, err := r.queue.Claim(ctx, candidate.ID, workerID)
		if err != nil {
			if isContextErr(err) {
				return claimed, nil
			}
			return claimed, fmt.Errorf("claim task %s: %w", candidate.ID, err)
		}
		if task == nil {
			// Another poller won the race; move on.
			continue
		}

		claimed++
		r.processTask(ctx, task, workerID)
	}
	return claimed, nil
}

// processTask runs one claimed task end to end. Execution errors fail the
// task through the queue rather than aborting the loop; the queue's retry
// accounting decides what happens next.
func (r *Runner) processTask(ctx context.Context, task *model.Task, workerID string) {
	start := time.Now()

	r.logger.InfoContext(ctx, "processing task",
		"task_id", task.ID,
		"job_id", task.JobID,
		"kind", task.Kind,
		"worker_id", workerID,
	)

	result, runErr := r.client.RunTask(ctx, task)
	if runErr != nil {
		r.failTask(ctx, task, runErr)
		r.emitTaskMetric(task, "executed", metrics.ResultError, time.Since(start), runErr)
		return
	}

	chained, err := r.queue.Complete(ctx, task.ID, result)
	if err != nil {
		// Validation errors mean the worker returned a malformed document;
		// record that as the task's failure so it surfaces in the queue.
		if apperrors.IsValidation(err) {
			r.failTask(ctx, task, err)
		} else {
			r.logger.ErrorContext(ctx, "complete task error",
				"task_id", task.ID,
				"kind", task.Kind,
				"error", err,
			)
		}
		r.emitTaskMetric(task, "executed", metrics.ResultError, time.Since(start), err)
		return
	}

	r.emitTaskMetric(task, "executed", metrics.ResultSuccess, time.Since(start), nil)

	if chained != nil {
		r.logger.InfoContext(ctx, "task completed, chained next",
			"task_id", task.ID,
			"kind", task.Kind,
			"next_task_id", chained.ID,
			"next_kind", chained.Kind,
		)
	} else {
		r.logger.InfoContext(ctx, "task completed",
			"task_id", task.ID,
			"kind", task.Kind,
		)
	}
}

func (r *Runner) failTask(ctx context.Context, task *model.Task, cause error) {
	if failErr := r.queue.Fail(ctx, task.ID, cause.Error()); failErr != nil {
		r.logger.ErrorContext(ctx, "fail task error",
			"task_id", task.ID,
			"kind", task.Kind,
			"error", failErr,
			"original_error", cause,
		)
		return
	}
	r.logger.WarnContext(ctx, "task failed",
		"task_id", task.ID,
		"kind", task.Kind,
		"error", cause,
	)
}

// wait sleeps out the poll interval. Returns false when the context ended
// first.
func (r *Runner) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(r.config.PollInterval):
		return true
	}
}

func (r *Runner) emitTaskMetric(
	task *model.Task,
	transition, result string,
	elapsed time.Duration,
	err error,
) {
	if r.metrics == nil {
		return
	}
	tags := map[string]string{
		"kind":       string(task.Kind),
		"transition": transition,
		"result":     result,
	}
	if err != nil && result == metrics.ResultError {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	r.metrics.Count("poller.task", 1, tags)
	if elapsed > 0 {
		r.metrics.Timing("poller.task_duration", elapsed, metrics.CloneTags(tags))
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
