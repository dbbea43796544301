package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
	"github.com/draftmill/draftmill/internal/observability/metrics"
	"github.com/draftmill/draftmill/internal/observability/statsd"
	"github.com/draftmill/draftmill/internal/worker"
)

// EngineServiceOptions groups dependencies for EngineService.
type EngineServiceOptions struct {
	Jobs     core.JobRepository    // Required: job repository
	Events   core.EventRepository  // Required: pipeline event log
	Registry *worker.Registry      // Required: stage worker registry
	Config   config.EngineConfig   // Required: engine configuration
	Logger   *slog.Logger          // Optional: structured logger
	Metrics  statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// EngineService is the orchestration engine: it selects the next job,
// invokes the worker for its stage, applies the result atomically, and runs
// the bounded retry and stuck-recovery paths.
type EngineService struct {
	jobs     core.JobRepository
	events   core.EventRepository
	registry *worker.Registry
	config   config.EngineConfig
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewEngineService constructs a new EngineService.
func NewEngineService(opts EngineServiceOptions) (*EngineService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Events == nil {
		return nil, errors.New("EventRepository is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("worker Registry is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "engine_service")
	}

	return &EngineService{
		jobs:     opts.Jobs,
		events:   opts.Events,
		registry: opts.Registry,
		config:   opts.Config,
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// Tick processes at most one job through its next stage. Returns
// model.ErrNoJobsAvailable when nothing is eligible. A missing worker for a
// reachable stage is a configuration defect and is returned as a fatal error
// rather than retried.
func (s *EngineService) Tick(ctx context.Context) error {
	job, err := s.jobs.GetNext(ctx)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return model.ErrNoJobsAvailable
		}
		return fmt.Errorf("get next job: %w", err)
	}

	workStage, ok := job.CurrentStage.WorkStage()
	if !ok {
		// Terminal job slipped through selection; nothing to do.
		return nil
	}

	if _, registered := s.registry.Lookup(workStage); !registered {
		return fmt.Errorf("%w for stage %s", worker.ErrNotRegistered, workStage)
	}

	return s.transition(ctx, job, workStage)
}

// transition runs the work stage's worker and applies the outcome: advance
// on success, the retry/failure path otherwise.
func (s *EngineService) transition(ctx context.Context, job *model.Job, workStage model.Stage) error {
	nextStage, ok := workStage.Next()
	if !ok {
		return fmt.Errorf("no successor for stage %s", workStage)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "processing job",
			"job_id", job.ID,
			"from", job.CurrentStage,
			"to", nextStage,
		)
	}

	start := time.Now()
	result, workErr := s.registry.Invoke(ctx, job, s.config.WorkerTimeout)
	elapsed := time.Since(start)

	if workErr != nil {
		s.emitStageMetric(workStage, "retried", metrics.ResultError, elapsed, workErr)
		return s.handleFailure(ctx, job, workErr)
	}

	outputKey, _ := workStage.OutputKey()
	advanced, err := s.jobs.Advance(ctx, core.AdvanceJobParams{
		JobID:         job.ID,
		ExpectedStage: job.CurrentStage,
		NextStage:     nextStage,
		OutputKey:     outputKey,
		Output:        result.Output,
	})
	if err != nil {
		return fmt.Errorf("advance job %s: %w", job.ID, err)
	}
	if !advanced {
		// Another writer moved the job first; its attempt owns the outcome.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "job moved during processing, discarding result",
				"job_id", job.ID,
				"expected_stage", job.CurrentStage,
			)
		}
		return nil
	}

	s.appendEvent(ctx, core.AppendEventParams{
		JobID:     job.ID,
		EventType: model.EventStageChanged,
		Data: model.StageChangedData{
			From:   job.CurrentStage,
			To:     nextStage,
			Cost:   result.Cost,
			Tokens: result.Tokens,
		},
	})

	s.emitStageMetric(workStage, "advanced", metrics.ResultSuccess, elapsed, nil)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job advanced",
			"job_id", job.ID,
			"stage", nextStage,
		)
	}
	return nil
}

// handleFailure applies the bounded retry path: below the bound the job
// stays at its stage with the counter incremented; at the bound it moves to
// failed. Both outcomes write an event before returning.
func (s *EngineService) handleFailure(ctx context.Context, job *model.Job, workErr error) error {
	outcome, err := s.jobs.RecordFailure(ctx, core.RecordJobFailureParams{
		JobID:         job.ID,
		ExpectedStage: job.CurrentStage,
		Error:         workErr.Error(),
	})
	if err != nil {
		return fmt.Errorf("record failure for job %s: %w", job.ID, err)
	}
	if outcome == nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "job moved before failure could be recorded",
				"job_id", job.ID,
				"expected_stage", job.CurrentStage,
			)
		}
		return nil
	}

	if outcome.Stage == model.StageFailed {
		s.appendEvent(ctx, core.AppendEventParams{
			JobID:     job.ID,
			EventType: model.EventFailed,
			Data: model.FailedData{
				Stage: job.CurrentStage,
				Error: workErr.Error(),
			},
		})
		s.emitStageMetric(job.CurrentStage, "failed", metrics.ResultError, 0, workErr)

		if s.logger != nil {
			s.logger.ErrorContext(ctx, "job failed permanently",
				"job_id", job.ID,
				"stage", job.CurrentStage,
				"error", workErr,
			)
		}
		return nil
	}

	s.appendEvent(ctx, core.AppendEventParams{
		JobID:     job.ID,
		EventType: model.EventRetried,
		Data: model.RetriedData{
			Stage:   job.CurrentStage,
			Attempt: outcome.RetryCount,
			Error:   workErr.Error(),
		},
	})

	if s.logger != nil {
		s.logger.WarnContext(ctx, "job retry recorded",
			"job_id", job.ID,
			"stage", job.CurrentStage,
			"attempt", outcome.RetryCount,
			"max_retries", job.MaxRetries,
			"error", workErr,
		)
	}
	return nil
}

// RecoverStuck feeds jobs with no progress past the timeout through the
// same retry/failure path as an ordinary worker error, with a synthetic
// timeout error. Returns the number of jobs recovered.
func (s *EngineService) RecoverStuck(ctx context.Context) (int, error) {
	stuck, err := s.jobs.GetStuck(ctx, s.config.StuckTimeout)
	if err != nil {
		return 0, fmt.Errorf("get stuck jobs: %w", err)
	}

	for _, job := range stuck {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "recovering stuck job",
				"job_id", job.ID,
				"stage", job.CurrentStage,
				"updated_at", job.UpdatedAt,
			)
		}
		if recoverErr := s.handleFailure(ctx, job, errors.New("timeout: no progress")); recoverErr != nil {
			return 0, recoverErr
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}

	return len(stuck), nil
}

// appendEvent writes an audit event; append failures are logged rather than
// failing the transition that already committed.
func (s *EngineService) appendEvent(ctx context.Context, params core.AppendEventParams) {
	if err := s.events.Append(ctx, params); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "append pipeline event failed",
			"job_id", params.JobID,
			"event_type", params.EventType,
			"error", err,
		)
	}
}

func (s *EngineService) emitStageMetric(
	stage model.Stage,
	outcome, result string,
	elapsed time.Duration,
	err error,
) {
	metrics.EmitStageLifecycle(s.metrics, metrics.StageMetric{
		Stage:    string(stage),
		Outcome:  outcome,
		Result:   result,
		Duration: elapsed,
		Err:      err,
	})
}
