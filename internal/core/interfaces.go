package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/draftmill/draftmill/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// JobRepository defines the interface for job data operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// GetNext returns the non-terminal job in the earliest pipeline stage,
	// ties broken by lowest retry count then oldest creation time. Returns
	// model.ErrNoJobsAvailable when nothing is eligible.
	GetNext(ctx context.Context) (*model.Job, error)
	// Advance moves a job forward in one atomic write: stage, merged stage
	// output, retry reset, error clear, updated_at. Conditional on the job
	// still being at the expected stage; returns false when it is not.
	Advance(ctx context.Context, params AdvanceJobParams) (bool, error)
	// RecordFailure increments the retry counter or, once the bound is hit,
	// moves the job to failed. Returns nil when the job was no longer at
	// the expected stage.
	RecordFailure(ctx context.Context, params RecordJobFailureParams) (*FailureOutcome, error)
	// GetStuck returns jobs parked in a working stage whose updated_at is
	// older than the cutoff.
	GetStuck(ctx context.Context, olderThan time.Duration) ([]*model.Job, error)
	// Reset re-drives a job: sets the stage, clears retries and error.
	Reset(ctx context.Context, id string, stage model.Stage) (bool, error)
	// MarkPublished moves a ready job to published and stamps published_at.
	MarkPublished(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filter *model.JobFilter) ([]*model.Job, error)
	Stats(ctx context.Context) (*model.PipelineStats, error)
	// DeleteTerminalBefore removes a batch of terminal jobs older than the
	// cutoff and returns the number of rows deleted.
	DeleteTerminalBefore(ctx context.Context, params DeleteTerminalParams) (int64, error)
}

// AdvanceJobParams groups parameters for JobRepository.Advance.
type AdvanceJobParams struct {
	JobID         string
	ExpectedStage model.Stage
	NextStage     model.Stage
	OutputKey     string
	Output        json.RawMessage
}

// RecordJobFailureParams groups parameters for JobRepository.RecordFailure.
type RecordJobFailureParams struct {
	JobID         string
	ExpectedStage model.Stage
	Error         string
}

// FailureOutcome reports where a job landed after a recorded failure.
type FailureOutcome struct {
	Stage      model.Stage
	RetryCount int
}

// DeleteTerminalParams groups parameters for batched terminal-row deletes.
type DeleteTerminalParams struct {
	Stage     model.Stage
	OlderThan time.Duration
	BatchSize int
}

// TaskRepository defines the interface for the distributed task queue.
type TaskRepository interface {
	Create(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error)
	GetByID(ctx context.Context, id string) (*model.Task, error)
	// ListPending returns up to limit pending tasks, oldest first.
	ListPending(ctx context.Context, limit int) ([]*model.Task, error)
	// Claim performs the pending→processing compare-and-swap. Returns the
	// claimed task, or nil when the task was no longer pending.
	Claim(ctx context.Context, taskID, workerID string) (*model.Task, error)
	// Complete moves a processing task to completed and stores its result.
	// Returns false when the task was not processing.
	Complete(ctx context.Context, taskID string, result json.RawMessage) (bool, error)
	// Fail moves a processing task to failed and stores the error.
	Fail(ctx context.Context, taskID, errMsg string) (bool, error)
	// ResetStuck sweeps tasks stuck in processing past the cutoff. Each is
	// either reset to pending with its retry counter incremented or, once
	// the retry bound is hit, failed permanently. Conditional updates only.
	ResetStuck(ctx context.Context, olderThan time.Duration) (*ResetStuckResult, error)
	Stats(ctx context.Context) (*model.TaskStats, error)
	// DeleteTerminalBefore removes a batch of completed/failed tasks older
	// than the cutoff and returns the number of rows deleted.
	DeleteTerminalBefore(ctx context.Context, params DeleteTerminalTasksParams) (int64, error)
}

// ResetStuckResult reports the outcome of a stuck-task sweep.
type ResetStuckResult struct {
	Reset  int64
	Failed int64
}

// DeleteTerminalTasksParams groups parameters for batched task deletes.
type DeleteTerminalTasksParams struct {
	Status    model.TaskStatus
	OlderThan time.Duration
	BatchSize int
}

// EventRepository defines the interface for the append-only pipeline event log.
type EventRepository interface {
	Append(ctx context.Context, params AppendEventParams) error
	ListByJob(ctx context.Context, jobID string, limit int) ([]*model.PipelineEvent, error)
}

// AppendEventParams groups parameters for EventRepository.Append.
type AppendEventParams struct {
	JobID     string
	EventType model.EventType
	Data      any
}

// TopicRepository defines the interface for topic data operations.
type TopicRepository interface {
	Create(ctx context.Context, req *model.CreateTopicRequest) (*model.Topic, error)
	GetByID(ctx context.Context, id string) (*model.Topic, error)
	List(ctx context.Context, limit, offset int) ([]*model.Topic, error)
	Approve(ctx context.Context, id string) (bool, error)
}

// ErrCacheMiss is returned by CacheRepository.Get when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// CacheRepository defines the interface for cache operations.
type CacheRepository interface {
	// Get returns the cached value, or ErrCacheMiss when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) error
}
