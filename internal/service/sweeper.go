package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
	obserrors "github.com/draftmill/draftmill/internal/observability/errors"
	"github.com/draftmill/draftmill/internal/observability/metrics"
	"github.com/draftmill/draftmill/internal/observability/statsd"
)

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Jobs    core.JobRepository   // Required: job repository
	Tasks   core.TaskRepository  // Required: task repository
	Config  config.SweeperConfig // Required: sweeper configuration
	Logger  *slog.Logger         // Optional: structured logger
	Metrics statsd.Sink          // Optional: metrics sink (StatsD-compatible)
}

// SweeperService provides pipeline housekeeping.
//
// This service manages:
// - Resetting or failing tasks stuck in processing past the timeout.
// - Deleting old terminal jobs (ready, published, failed) to prevent database bloat.
// - Deleting old terminal tasks (completed, failed) to prevent database bloat.
type SweeperService struct {
	jobs    core.JobRepository
	tasks   core.TaskRepository
	config  config.SweeperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("TaskRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sweeper_service")
		logger.Debug("SweeperService initialized",
			"interval", opts.Config.Interval,
			"stuck_timeout", opts.Config.StuckTimeout,
			"ready_max_age", opts.Config.ReadyMaxAge,
			"published_max_age", opts.Config.PublishedMaxAge,
			"failed_max_age", opts.Config.FailedMaxAge,
			"task_max_age", opts.Config.TaskMaxAge,
		)
	}

	return &SweeperService{
		jobs:    opts.Jobs,
		tasks:   opts.Tasks,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the sweeper loop and runs until the context is cancelled.
// It performs cleanup operations at the configured interval.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting sweeper service", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run cleanup immediately after jitter
	if err := s.runCleanup(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	// Use modulo on uint64 before converting to avoid overflow
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		// Graceful shutdown during jitter
	}
}

// runLoop runs the cleanup loop until context is cancelled.
func (s *SweeperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "sweeper service stopping", "reason", ctx.Err())
			}
			// Return nil on graceful shutdown to avoid treating it as a failure
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.runCleanup(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
				if isContextCancellation(err) {
					continue
				}
				// Continue running despite errors
			}
		}
	}
}

// runCleanup performs all cleanup operations.
func (s *SweeperService) runCleanup(ctx context.Context) error {
	start := time.Now()
	var (
		errs               []error
		allContextCanceled = true
		metricsData        = cleanupMetrics{}
	)

	steps := []cleanupStep{
		{
			fn:        s.sweepStuckTasks,
			label:     "sweep stuck tasks",
			count:     &metricsData.StuckTasksCount,
			metricErr: &metricsData.StuckTasksErr,
		},
		{
			fn:        s.deleteOldTerminalJobs,
			label:     "delete old terminal jobs",
			count:     &metricsData.JobsCount,
			metricErr: &metricsData.JobsErr,
		},
		{
			fn:        s.deleteOldTerminalTasks,
			label:     "delete old terminal tasks",
			count:     &metricsData.TasksCount,
			metricErr: &metricsData.TasksErr,
		},
	}

	for _, step := range steps {
		outcome := s.executeCleanupStep(ctx, step.fn, step.label)
		*step.count = outcome.count
		*step.metricErr = outcome.metricErr
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allContextCanceled = allContextCanceled && outcome.canceled
		}
	}

	metricsData.Elapsed = time.Since(start)
	s.emitCleanupMetrics(metricsData)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}

	return nil
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	fn        cleanupFunc
	label     string
	count     *int64
	metricErr *error
}

type cleanupStepOutcome struct {
	count        int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

func (s *SweeperService) executeCleanupStep(
	ctx context.Context,
	fn cleanupFunc,
	label string,
) cleanupStepOutcome {
	count, err := fn(ctx)
	outcome := cleanupStepOutcome{
		count:     count,
		metricErr: suppressContextCancellation(err),
		canceled:  isContextCancellation(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", label, err)
	}
	return outcome
}

// sweepStuckTasks returns stuck processing tasks to pending, or fails them
// permanently once their retry bound is reached.
func (s *SweeperService) sweepStuckTasks(ctx context.Context) (int64, error) {
	result, err := s.tasks.ResetStuck(ctx, s.config.StuckTimeout)
	if err != nil {
		return 0, err
	}

	total := result.Reset + result.Failed
	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "swept stuck tasks",
			"reset", result.Reset,
			"failed", result.Failed,
			"stuck_timeout", s.config.StuckTimeout,
		)
	}

	return total, nil
}

// deleteOldTerminalJobs deletes terminal jobs older than each stage's
// configured max age. Loops until no more rows are affected to handle large
// datasets in batches.
func (s *SweeperService) deleteOldTerminalJobs(ctx context.Context) (int64, error) {
	var totalCount int64
	targets := []struct {
		stage  model.Stage
		maxAge time.Duration
	}{
		{model.StageReady, s.config.ReadyMaxAge},
		{model.StagePublished, s.config.PublishedMaxAge},
		{model.StageFailed, s.config.FailedMaxAge},
	}

	for _, target := range targets {
		var stageCount int64
		for {
			count, err := s.jobs.DeleteTerminalBefore(ctx, core.DeleteTerminalParams{
				Stage:     target.stage,
				OlderThan: target.maxAge,
				BatchSize: s.config.BatchSize,
			})
			if err != nil {
				return totalCount, err
			}
			if count == 0 {
				break
			}
			stageCount += count
			totalCount += count

			if ctx.Err() != nil {
				return totalCount, ctx.Err()
			}
		}

		if stageCount > 0 && s.logger != nil {
			s.logger.InfoContext(ctx, "deleted old terminal jobs",
				"stage", target.stage,
				"count", stageCount,
				"max_age", target.maxAge,
			)
		}
	}

	return totalCount, nil
}

// deleteOldTerminalTasks deletes completed and failed tasks older than the
// configured max age. Loops until no more rows are affected to handle large
// datasets in batches.
func (s *SweeperService) deleteOldTerminalTasks(ctx context.Context) (int64, error) {
	var totalCount int64
	statuses := []model.TaskStatus{
		model.TaskStatusCompleted,
		model.TaskStatusFailed,
	}

	for _, status := range statuses {
		var statusCount int64
		for {
			count, err := s.tasks.DeleteTerminalBefore(ctx, core.DeleteTerminalTasksParams{
				Status:    status,
				OlderThan: s.config.TaskMaxAge,
				BatchSize: s.config.BatchSize,
			})
			if err != nil {
				return totalCount, err
			}
			if count == 0 {
				break
			}
			statusCount += count
			totalCount += count

			if ctx.Err() != nil {
				return totalCount, ctx.Err()
			}
		}

		if statusCount > 0 && s.logger != nil {
			s.logger.InfoContext(ctx, "deleted old terminal tasks",
				"status", status,
				"count", statusCount,
				"max_age", s.config.TaskMaxAge,
			)
		}
	}

	return totalCount, nil
}

type cleanupMetrics struct {
	StuckTasksCount int64
	StuckTasksErr   error
	JobsCount       int64
	JobsErr         error
	TasksCount      int64
	TasksErr        error
	Elapsed         time.Duration
}

func (s *SweeperService) emitCleanupMetrics(m cleanupMetrics) {
	if s.metrics == nil {
		return
	}

	totalCount := m.StuckTasksCount + m.JobsCount + m.TasksCount
	firstErr := firstError(m.StuckTasksErr, m.JobsErr, m.TasksErr)

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if totalCount == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}

	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("sweeper.cleanup", 1, tags)

	if m.Elapsed > 0 {
		s.metrics.Timing("sweeper.cleanup_duration", m.Elapsed, metrics.CloneTags(tags))
	}

	s.emitCleanupOperationMetric("sweep_stuck_tasks", m.StuckTasksCount, m.StuckTasksErr)
	s.emitCleanupOperationMetric("delete_terminal_jobs", m.JobsCount, m.JobsErr)
	s.emitCleanupOperationMetric("delete_terminal_tasks", m.TasksCount, m.TasksErr)

	if firstErr == nil {
		s.metrics.Gauge("sweeper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *SweeperService) emitCleanupOperationMetric(operation string, count int64, err error) {
	if s.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if count == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"operation": operation,
		"result":    result,
	}

	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("sweeper.cleanup_operation", 1, tags)

	if err == nil && count > 0 {
		s.metrics.Count("sweeper.rows_processed", count, metrics.CloneTags(tags))
	}
}

func (s *SweeperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
