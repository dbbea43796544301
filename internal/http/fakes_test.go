package httpx

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
	"github.com/draftmill/draftmill/internal/service"
)

// Scripted repository mocks: embed the interface and override only what the
// handler under test touches. Unstubbed calls panic, which is exactly the
// signal we want in a test.

type mockJobRepo struct {
	core.JobRepository

	createFn        func(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	getByIDFn       func(ctx context.Context, id string) (*model.Job, error)
	listFn          func(ctx context.Context, filter *model.JobFilter) ([]*model.Job, error)
	resetFn         func(ctx context.Context, id string, stage model.Stage) (bool, error)
	markPublishedFn func(ctx context.Context, id string) (bool, error)
	statsFn         func(ctx context.Context) (*model.PipelineStats, error)
}

func (m *mockJobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	return m.createFn(ctx, req)
}

func (m *mockJobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	return m.getByIDFn(ctx, id)
}

func (m *mockJobRepo) List(ctx context.Context, filter *model.JobFilter) ([]*model.Job, error) {
	return m.listFn(ctx, filter)
}

func (m *mockJobRepo) Reset(ctx context.Context, id string, stage model.Stage) (bool, error) {
	return m.resetFn(ctx, id, stage)
}

func (m *mockJobRepo) MarkPublished(ctx context.Context, id string) (bool, error) {
	return m.markPublishedFn(ctx, id)
}

func (m *mockJobRepo) Stats(ctx context.Context) (*model.PipelineStats, error) {
	return m.statsFn(ctx)
}

type mockTopicRepo struct {
	core.TopicRepository

	createFn  func(ctx context.Context, req *model.CreateTopicRequest) (*model.Topic, error)
	getByIDFn func(ctx context.Context, id string) (*model.Topic, error)
	listFn    func(ctx context.Context, limit, offset int) ([]*model.Topic, error)
	approveFn func(ctx context.Context, id string) (bool, error)
}

func (m *mockTopicRepo) Create(ctx context.Context, req *model.CreateTopicRequest) (*model.Topic, error) {
	return m.createFn(ctx, req)
}

func (m *mockTopicRepo) GetByID(ctx context.Context, id string) (*model.Topic, error) {
	return m.getByIDFn(ctx, id)
}

func (m *mockTopicRepo) List(ctx context.Context, limit, offset int) ([]*model.Topic, error) {
	return m.listFn(ctx, limit, offset)
}

func (m *mockTopicRepo) Approve(ctx context.Context, id string) (bool, error) {
	return m.approveFn(ctx, id)
}

type mockTaskRepo struct {
	core.TaskRepository

	createFn      func(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error)
	getByIDFn     func(ctx context.Context, id string) (*model.Task, error)
	listPendingFn func(ctx context.Context, limit int) ([]*model.Task, error)
	claimFn       func(ctx context.Context, taskID, workerID string) (*model.Task, error)
	completeFn    func(ctx context.Context, taskID string, result json.RawMessage) (bool, error)
	failFn        func(ctx context.Context, taskID, errMsg string) (bool, error)
	resetStuckFn  func(ctx context.Context, olderThan time.Duration) (*core.ResetStuckResult, error)
	statsFn       func(ctx context.Context) (*model.TaskStats, error)
}

func (m *mockTaskRepo) Create(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error) {
	return m.createFn(ctx, req)
}

func (m *mockTaskRepo) GetByID(ctx context.Context, id string) (*model.Task, error) {
	return m.getByIDFn(ctx, id)
}

func (m *mockTaskRepo) ListPending(ctx context.Context, limit int) ([]*model.Task, error) {
	return m.listPendingFn(ctx, limit)
}

func (m *mockTaskRepo) Claim(ctx context.Context, taskID, workerID string) (*model.Task, error) {
	return m.claimFn(ctx, taskID, workerID)
}

func (m *mockTaskRepo) Complete(ctx context.Context, taskID string, result json.RawMessage) (bool, error) {
	return m.completeFn(ctx, taskID, result)
}

func (m *mockTaskRepo) Fail(ctx context.Context, taskID, errMsg string) (bool, error) {
	return m.failFn(ctx, taskID, errMsg)
}

func (m *mockTaskRepo) ResetStuck(ctx context.Context, olderThan time.Duration) (*core.ResetStuckResult, error) {
	return m.resetStuckFn(ctx, olderThan)
}

func (m *mockTaskRepo) Stats(ctx context.Context) (*model.TaskStats, error) {
	return m.statsFn(ctx)
}

type mockEventRepo struct {
	core.EventRepository

	listByJobFn func(ctx context.Context, jobID string, limit int) ([]*model.PipelineEvent, error)
}

func (m *mockEventRepo) Append(_ context.Context, _ core.AppendEventParams) error {
	return nil
}

func (m *mockEventRepo) ListByJob(ctx context.Context, jobID string, limit int) ([]*model.PipelineEvent, error) {
	return m.listByJobFn(ctx, jobID, limit)
}

func newJobHandlers(t *testing.T, jobs *mockJobRepo, topics *mockTopicRepo, events *mockEventRepo) *JobHandlers {
	t.Helper()
	if topics == nil {
		topics = &mockTopicRepo{}
	}
	if events == nil {
		events = &mockEventRepo{}
	}
	svc, err := service.NewJobService(service.JobServiceOptions{
		Jobs:   jobs,
		Topics: topics,
		Events: events,
	})
	require.NoError(t, err)
	return &JobHandlers{Svc: svc}
}

func newTaskHandlers(t *testing.T, tasks *mockTaskRepo) *TaskHandlers {
	t.Helper()
	svc, err := service.NewTaskQueueService(service.TaskQueueServiceOptions{
		Tasks:  tasks,
		Events: &mockEventRepo{},
		Config: config.QueueConfig{MaxListLimit: 100, StuckTimeout: time.Hour},
	})
	require.NoError(t, err)
	return &TaskHandlers{Svc: svc}
}

func newTopicHandlers(t *testing.T, topics *mockTopicRepo) *TopicHandlers {
	t.Helper()
	svc, err := service.NewTopicService(service.TopicServiceOptions{Topics: topics})
	require.NoError(t, err)
	return &TopicHandlers{Svc: svc}
}
