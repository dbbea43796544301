package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
	"github.com/draftmill/draftmill/internal/worker"
)

func echoWorker(key string) core.StageWorker {
	return core.StageWorkerFunc(func(_ context.Context, _ *model.Job) (*core.StageResult, error) {
		output, _ := json.Marshal(map[string]string{"content": key})
		return &core.StageResult{Output: output, Cost: 0.01, Tokens: 100}, nil
	})
}

func fullRegistry() *worker.Registry {
	workers := make(map[model.Stage]core.StageWorker)
	for _, stage := range model.WorkingStages() {
		key, _ := stage.OutputKey()
		workers[stage] = echoWorker(key)
	}
	return worker.MustNewRegistry(workers)
}

func newTestEngine(t *testing.T, jobs *fakeJobRepo, events *fakeEventRepo, registry *worker.Registry) *EngineService {
	t.Helper()

	svc, err := NewEngineService(EngineServiceOptions{
		Jobs:     jobs,
		Events:   events,
		Registry: registry,
		Config: config.EngineConfig{
			TickInterval:  time.Second,
			WorkerTimeout: time.Minute,
			StuckTimeout:  time.Hour,
		},
	})
	require.NoError(t, err)
	return svc
}

func TestNewEngineService(t *testing.T) {
	t.Run("returns error when jobs repo is nil", func(t *testing.T) {
		_, err := NewEngineService(EngineServiceOptions{
			Events:   &fakeEventRepo{},
			Registry: fullRegistry(),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JobRepository is required")
	})

	t.Run("returns error when registry is nil", func(t *testing.T) {
		_, err := NewEngineService(EngineServiceOptions{
			Jobs:   newFakeJobRepo(),
			Events: &fakeEventRepo{},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Registry is required")
	})
}

func TestEngineService_Tick(t *testing.T) {
	t.Run("returns ErrNoJobsAvailable when queue is empty", func(t *testing.T) {
		svc := newTestEngine(t, newFakeJobRepo(), &fakeEventRepo{}, fullRegistry())

		err := svc.Tick(context.Background())
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})

	t.Run("pending job lands at writing with research output and one event", func(t *testing.T) {
		jobs := newFakeJobRepo()
		events := &fakeEventRepo{}
		svc := newTestEngine(t, jobs, events, fullRegistry())

		created, err := jobs.Create(context.Background(), &model.CreateJobRequest{Title: "Test Article"})
		require.NoError(t, err)

		require.NoError(t, svc.Tick(context.Background()))

		job := jobs.get(created.ID)
		assert.Equal(t, model.StageWriting, job.CurrentStage)
		assert.True(t, job.StageOutputs.Has("research"))
		assert.Equal(t, 0, job.RetryCount)
		assert.Nil(t, job.LastError)

		changed := events.byType(model.EventStageChanged)
		require.Len(t, changed, 1)
		data, ok := changed[0].Data.(model.StageChangedData)
		require.True(t, ok)
		assert.Equal(t, model.StagePending, data.From)
		assert.Equal(t, model.StageWriting, data.To)
	})

	t.Run("job runs the full pipeline to ready", func(t *testing.T) {
		jobs := newFakeJobRepo()
		events := &fakeEventRepo{}
		svc := newTestEngine(t, jobs, events, fullRegistry())

		created, err := jobs.Create(context.Background(), &model.CreateJobRequest{Title: "Full Run"})
		require.NoError(t, err)

		ctx := context.Background()
		for i := 0; i < len(model.WorkingStages()); i++ {
			require.NoError(t, svc.Tick(ctx))
		}

		job := jobs.get(created.ID)
		assert.Equal(t, model.StageReady, job.CurrentStage)
		for _, stage := range model.WorkingStages() {
			key, _ := stage.OutputKey()
			assert.True(t, job.StageOutputs.Has(key), "missing output %q", key)
		}

		// Ready is terminal: the engine never picks the job up again.
		require.ErrorIs(t, svc.Tick(ctx), model.ErrNoJobsAvailable)
		assert.Len(t, events.byType(model.EventStageChanged), len(model.WorkingStages()))
	})

	t.Run("missing worker for a reachable stage is a fatal error", func(t *testing.T) {
		jobs := newFakeJobRepo()
		partial := worker.MustNewRegistry(map[model.Stage]core.StageWorker{
			model.StageWriting: echoWorker("draft"),
		})
		svc := newTestEngine(t, jobs, &fakeEventRepo{}, partial)

		_, err := jobs.Create(context.Background(), &model.CreateJobRequest{Title: "No Worker"})
		require.NoError(t, err)

		err = svc.Tick(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no worker registered for stage researching")
	})

	t.Run("lost advance race discards the result without error", func(t *testing.T) {
		jobs := newFakeJobRepo()
		jobs.advanceConflict = true
		events := &fakeEventRepo{}
		svc := newTestEngine(t, jobs, events, fullRegistry())

		created, err := jobs.Create(context.Background(), &model.CreateJobRequest{Title: "Raced"})
		require.NoError(t, err)

		require.NoError(t, svc.Tick(context.Background()))

		job := jobs.get(created.ID)
		assert.Equal(t, model.StagePending, job.CurrentStage)
		assert.Empty(t, events.appended)
	})
}

func TestEngineService_BoundedRetries(t *testing.T) {
	failing := worker.MustNewRegistry(map[model.Stage]core.StageWorker{
		model.StageResearching: core.StageWorkerFunc(func(context.Context, *model.Job) (*core.StageResult, error) {
			return nil, errors.New("research provider unavailable")
		}),
	})

	t.Run("job gets exactly max retries plus one attempts", func(t *testing.T) {
		jobs := newFakeJobRepo()
		events := &fakeEventRepo{}
		svc := newTestEngine(t, jobs, events, failing)

		created, err := jobs.Create(context.Background(), &model.CreateJobRequest{Title: "Doomed", MaxRetries: 2})
		require.NoError(t, err)

		ctx := context.Background()

		// Attempts 1 and 2: stage unchanged, counter incremented.
		for attempt := 1; attempt <= 2; attempt++ {
			require.NoError(t, svc.Tick(ctx))
			job := jobs.get(created.ID)
			assert.Equal(t, model.StagePending, job.CurrentStage)
			assert.Equal(t, attempt, job.RetryCount)
			require.NotNil(t, job.LastError)
			assert.Equal(t, "research provider unavailable", *job.LastError)
		}

		// Attempt 3 exhausts the bound.
		require.NoError(t, svc.Tick(ctx))
		job := jobs.get(created.ID)
		assert.Equal(t, model.StageFailed, job.CurrentStage)

		// Terminal stability: no further attempts.
		require.ErrorIs(t, svc.Tick(ctx), model.ErrNoJobsAvailable)

		retried := events.byType(model.EventRetried)
		require.Len(t, retried, 2)
		first, ok := retried[0].Data.(model.RetriedData)
		require.True(t, ok)
		assert.Equal(t, 1, first.Attempt)
		assert.Equal(t, model.StagePending, first.Stage)

		failed := events.byType(model.EventFailed)
		require.Len(t, failed, 1)
		failedData, ok := failed[0].Data.(model.FailedData)
		require.True(t, ok)
		assert.Equal(t, "research provider unavailable", failedData.Error)
	})

	t.Run("retry counter resets on advance", func(t *testing.T) {
		jobs := newFakeJobRepo()
		events := &fakeEventRepo{}
		svc := newTestEngine(t, jobs, events, fullRegistry())

		created, err := jobs.Create(context.Background(), &model.CreateJobRequest{Title: "Recovers", MaxRetries: 3})
		require.NoError(t, err)

		// Seed a prior failed attempt.
		outcome, err := jobs.RecordFailure(context.Background(), core.RecordJobFailureParams{
			JobID:         created.ID,
			ExpectedStage: model.StagePending,
			Error:         "transient",
		})
		require.NoError(t, err)
		require.Equal(t, 1, outcome.RetryCount)

		require.NoError(t, svc.Tick(context.Background()))

		job := jobs.get(created.ID)
		assert.Equal(t, model.StageWriting, job.CurrentStage)
		assert.Equal(t, 0, job.RetryCount)
		assert.Nil(t, job.LastError)
	})
}

func TestEngineService_RecoverStuck(t *testing.T) {
	t.Run("stuck job flows through the ordinary failure path", func(t *testing.T) {
		jobs := newFakeJobRepo()
		events := &fakeEventRepo{}
		svc := newTestEngine(t, jobs, events, fullRegistry())

		created, err := jobs.Create(context.Background(), &model.CreateJobRequest{Title: "Stuck", MaxRetries: 3})
		require.NoError(t, err)

		// Park the job mid-pipeline with stale progress.
		jobs.mu.Lock()
		job := jobs.jobs[created.ID]
		job.CurrentStage = model.StageWriting
		job.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
		jobs.mu.Unlock()

		recovered, err := svc.RecoverStuck(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, recovered)

		got := jobs.get(created.ID)
		assert.Equal(t, model.StageWriting, got.CurrentStage)
		assert.Equal(t, 1, got.RetryCount)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "timeout: no progress", *got.LastError)

		retried := events.byType(model.EventRetried)
		require.Len(t, retried, 1)
		data, ok := retried[0].Data.(model.RetriedData)
		require.True(t, ok)
		assert.Equal(t, "timeout: no progress", data.Error)
	})

	t.Run("fresh jobs are left alone", func(t *testing.T) {
		jobs := newFakeJobRepo()
		svc := newTestEngine(t, jobs, &fakeEventRepo{}, fullRegistry())

		created, err := jobs.Create(context.Background(), &model.CreateJobRequest{Title: "Fresh"})
		require.NoError(t, err)

		jobs.mu.Lock()
		jobs.jobs[created.ID].CurrentStage = model.StageWriting
		jobs.mu.Unlock()

		recovered, err := svc.RecoverStuck(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, recovered)
		assert.Equal(t, 0, jobs.get(created.ID).RetryCount)
	})

	t.Run("stuck job at the retry bound is failed", func(t *testing.T) {
		jobs := newFakeJobRepo()
		events := &fakeEventRepo{}
		svc := newTestEngine(t, jobs, events, fullRegistry())

		created, err := jobs.Create(context.Background(), &model.CreateJobRequest{Title: "Exhausted", MaxRetries: 1})
		require.NoError(t, err)

		jobs.mu.Lock()
		job := jobs.jobs[created.ID]
		job.CurrentStage = model.StageEnriching
		job.RetryCount = 1
		job.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
		jobs.mu.Unlock()

		recovered, err := svc.RecoverStuck(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, recovered)

		assert.Equal(t, model.StageFailed, jobs.get(created.ID).CurrentStage)
		require.Len(t, events.byType(model.EventFailed), 1)
	})
}

func TestEngineService_EventAppendFailureDoesNotFailTick(t *testing.T) {
	jobs := newFakeJobRepo()
	events := &fakeEventRepo{appendErr: errors.New("event store down")}
	svc := newTestEngine(t, jobs, events, fullRegistry())

	created, err := jobs.Create(context.Background(), &model.CreateJobRequest{Title: "Audit Down"})
	require.NoError(t, err)

	require.NoError(t, svc.Tick(context.Background()))
	assert.Equal(t, model.StageWriting, jobs.get(created.ID).CurrentStage)
}
