package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/data"
	"github.com/draftmill/draftmill/internal/domain/model"
	apperrors "github.com/draftmill/draftmill/internal/errors"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Jobs   core.JobRepository   // Required: job repository
	Topics core.TopicRepository // Required: topic repository
	Events core.EventRepository // Required: pipeline event log
	Logger *slog.Logger         // Optional: structured logger
}

// JobService provides job creation, inspection, and operator re-drive.
type JobService struct {
	jobs   core.JobRepository
	topics core.TopicRepository
	events core.EventRepository
	logger *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Topics == nil {
		return nil, errors.New("TopicRepository is required")
	}
	if opts.Events == nil {
		return nil, errors.New("EventRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		jobs:   opts.Jobs,
		topics: opts.Topics,
		events: opts.Events,
		logger: logger,
	}, nil
}

// Create creates a new job at the pending stage. When the request names a
// topic, the topic must exist and be approved; its title seeds the job.
func (s *JobService) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("request body is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	if req.TopicID != nil {
		topic, err := s.topics.GetByID(ctx, *req.TopicID)
		if err != nil {
			if errors.Is(err, data.ErrTopicNotFound) {
				return nil, apperrors.NotFoundf("topic %s not found", *req.TopicID)
			}
			return nil, apperrors.MapDBError(err)
		}
		if !topic.Approved {
			return nil, apperrors.Conflictf("topic %s is not approved", *req.TopicID)
		}
		if req.Title == "" {
			req.Title = topic.Title
		}
	}

	job, err := s.jobs.Create(ctx, req)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job created",
			"job_id", job.ID,
			"title", job.Title,
		)
	}
	return job, nil
}

// GetByID retrieves a job.
func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// List returns jobs matching the filter.
func (s *JobService) List(ctx context.Context, filter *model.JobFilter) ([]*model.Job, error) {
	jobs, err := s.jobs.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return jobs, nil
}

// Events returns a job's audit trail, oldest first.
func (s *JobService) Events(ctx context.Context, jobID string, limit int) ([]*model.PipelineEvent, error) {
	events, err := s.events.ListByJob(ctx, jobID, limit)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return events, nil
}

// Reset re-drives a job from the given stage, clearing retries and error.
// This is the out-of-band path for failed jobs; automatic processing never
// leaves a terminal stage.
func (s *JobService) Reset(ctx context.Context, jobID string, stage model.Stage) error {
	if !stage.Valid() || stage.Terminal() {
		return apperrors.Validationf("cannot reset a job to stage %q", stage)
	}

	ok, err := s.jobs.Reset(ctx, jobID, stage)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if !ok {
		return apperrors.NotFoundf("job %s not found", jobID)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job reset",
			"job_id", jobID,
			"stage", stage,
		)
	}
	return nil
}

// Publish moves a ready job to published.
func (s *JobService) Publish(ctx context.Context, jobID string) error {
	ok, err := s.jobs.MarkPublished(ctx, jobID)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if !ok {
		return apperrors.Conflictf("job %s is not ready to publish", jobID)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "job published", "job_id", jobID)
	}
	return nil
}

// Stats returns per-stage job counts.
func (s *JobService) Stats(ctx context.Context) (*model.PipelineStats, error) {
	stats, err := s.jobs.Stats(ctx)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return stats, nil
}

// Describe renders a one-line operator summary of a job.
func Describe(job *model.Job) string {
	lastError := ""
	if job.LastError != nil {
		lastError = *job.LastError
	}
	return fmt.Sprintf("%s stage=%s retries=%d/%d error=%q",
		job.ID, job.CurrentStage, job.RetryCount, job.MaxRetries, lastError)
}
