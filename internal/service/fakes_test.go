package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
)

// In-memory fakes implementing the core repository ports. They reproduce the
// conditional-write semantics the SQL layer relies on (claim CAS, advance and
// failure guarded by expected stage) so concurrency properties can be tested
// without a database.

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
	seq  int

	getNextErr      error
	advanceErr      error
	advanceConflict bool // force Advance to report a lost race
	failureConflict bool // force RecordFailure to report a lost race
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*model.Job)}
}

func (f *fakeJobRepo) add(job *model.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
}

func (f *fakeJobRepo) get(id string) *model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneFakeJob(f.jobs[id])
}

func cloneFakeJob(job *model.Job) *model.Job {
	if job == nil {
		return nil
	}
	clone := *job
	if job.StageOutputs != nil {
		clone.StageOutputs = make(model.StageOutputs, len(job.StageOutputs))
		for k, v := range job.StageOutputs {
			clone.StageOutputs[k] = v
		}
	}
	return &clone
}

func (f *fakeJobRepo) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	now := time.Now().UTC()
	job := &model.Job{
		ID:           fmt.Sprintf("job-%d", f.seq),
		TopicID:      req.TopicID,
		Title:        req.Title,
		CurrentStage: model.StagePending,
		StageOutputs: model.StageOutputs{},
		MaxRetries:   maxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.jobs[job.ID] = job
	return cloneFakeJob(job), nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return cloneFakeJob(job), nil
}

func (f *fakeJobRepo) GetNext(_ context.Context) (*model.Job, error) {
	if f.getNextErr != nil {
		return nil, f.getNextErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var eligible []*model.Job
	for _, job := range f.jobs {
		if !job.CurrentStage.Terminal() {
			eligible = append(eligible, job)
		}
	}
	if len(eligible) == 0 {
		return nil, model.ErrNoJobsAvailable
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.CurrentStage.Index() != b.CurrentStage.Index() {
			return a.CurrentStage.Index() < b.CurrentStage.Index()
		}
		if a.RetryCount != b.RetryCount {
			return a.RetryCount < b.RetryCount
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return cloneFakeJob(eligible[0]), nil
}

func (f *fakeJobRepo) Advance(_ context.Context, params core.AdvanceJobParams) (bool, error) {
	if f.advanceErr != nil {
		return false, f.advanceErr
	}
	if f.advanceConflict {
		return false, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[params.JobID]
	if !ok || job.CurrentStage != params.ExpectedStage {
		return false, nil
	}

	job.CurrentStage = params.NextStage
	if job.StageOutputs == nil {
		job.StageOutputs = model.StageOutputs{}
	}
	output := params.Output
	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}
	job.StageOutputs[params.OutputKey] = output
	job.RetryCount = 0
	job.LastError = nil
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (f *fakeJobRepo) RecordFailure(_ context.Context, params core.RecordJobFailureParams) (*core.FailureOutcome, error) {
	if f.failureConflict {
		return nil, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[params.JobID]
	if !ok || job.CurrentStage != params.ExpectedStage {
		return nil, nil
	}

	errMsg := params.Error
	job.LastError = &errMsg
	job.UpdatedAt = time.Now().UTC()

	if job.RetryCount >= job.MaxRetries {
		job.CurrentStage = model.StageFailed
	} else {
		job.RetryCount++
	}
	return &core.FailureOutcome{Stage: job.CurrentStage, RetryCount: job.RetryCount}, nil
}

func (f *fakeJobRepo) GetStuck(_ context.Context, olderThan time.Duration) ([]*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var stuck []*model.Job
	for _, job := range f.jobs {
		if job.CurrentStage == model.StagePending || job.CurrentStage.Terminal() {
			continue
		}
		if job.UpdatedAt.Before(cutoff) {
			stuck = append(stuck, cloneFakeJob(job))
		}
	}
	return stuck, nil
}

func (f *fakeJobRepo) Reset(_ context.Context, id string, stage model.Stage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok {
		return false, nil
	}
	job.CurrentStage = stage
	job.RetryCount = 0
	job.LastError = nil
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (f *fakeJobRepo) MarkPublished(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[id]
	if !ok || job.CurrentStage != model.StageReady {
		return false, nil
	}
	now := time.Now().UTC()
	job.CurrentStage = model.StagePublished
	job.PublishedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (f *fakeJobRepo) List(_ context.Context, filter *model.JobFilter) ([]*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.Job
	for _, job := range f.jobs {
		if filter != nil && filter.Stage != nil && job.CurrentStage != *filter.Stage {
			continue
		}
		out = append(out, cloneFakeJob(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeJobRepo) Stats(_ context.Context) (*model.PipelineStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := &model.PipelineStats{Stages: make(map[model.Stage]int)}
	for _, job := range f.jobs {
		stats.Stages[job.CurrentStage]++
		stats.Total++
	}
	return stats, nil
}

func (f *fakeJobRepo) DeleteTerminalBefore(_ context.Context, params core.DeleteTerminalParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := time.Now().UTC().Add(-params.OlderThan)
	var deleted int64
	for id, job := range f.jobs {
		if job.CurrentStage == params.Stage && job.UpdatedAt.Before(cutoff) {
			delete(f.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*model.Task
	seq   int

	resetStuckResult core.ResetStuckResult
	resetStuckErr    error
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: make(map[string]*model.Task)}
}

func cloneFakeTask(task *model.Task) *model.Task {
	if task == nil {
		return nil
	}
	clone := *task
	return &clone
}

func (f *fakeTaskRepo) Create(_ context.Context, req *model.CreateTaskRequest) (*model.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	task := &model.Task{
		ID:         fmt.Sprintf("task-%d", f.seq),
		JobID:      req.JobID,
		Kind:       req.Kind,
		Status:     model.TaskStatusPending,
		Payload:    payload,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}
	f.tasks[task.ID] = task
	return cloneFakeTask(task), nil
}

func (f *fakeTaskRepo) GetByID(_ context.Context, id string) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	task, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	return cloneFakeTask(task), nil
}

func (f *fakeTaskRepo) ListPending(_ context.Context, limit int) ([]*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var pending []*model.Task
	for _, task := range f.tasks {
		if task.Status == model.TaskStatusPending {
			pending = append(pending, cloneFakeTask(task))
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (f *fakeTaskRepo) Claim(_ context.Context, taskID, workerID string) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	task, ok := f.tasks[taskID]
	if !ok || task.Status != model.TaskStatusPending {
		return nil, nil
	}
	now := time.Now().UTC()
	task.Status = model.TaskStatusProcessing
	task.WorkerID = &workerID
	task.StartedAt = &now
	return cloneFakeTask(task), nil
}

func (f *fakeTaskRepo) Complete(_ context.Context, taskID string, result json.RawMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	task, ok := f.tasks[taskID]
	if !ok || task.Status != model.TaskStatusProcessing {
		return false, nil
	}
	now := time.Now().UTC()
	task.Status = model.TaskStatusCompleted
	task.Result = result
	task.CompletedAt = &now
	task.LastError = nil
	return true, nil
}

func (f *fakeTaskRepo) Fail(_ context.Context, taskID, errMsg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	task, ok := f.tasks[taskID]
	if !ok || task.Status != model.TaskStatusProcessing {
		return false, nil
	}
	now := time.Now().UTC()
	task.Status = model.TaskStatusFailed
	task.LastError = &errMsg
	task.CompletedAt = &now
	return true, nil
}

func (f *fakeTaskRepo) ResetStuck(_ context.Context, olderThan time.Duration) (*core.ResetStuckResult, error) {
	if f.resetStuckErr != nil {
		return nil, f.resetStuckErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	result := f.resetStuckResult
	for _, task := range f.tasks {
		if task.Status != model.TaskStatusProcessing || task.StartedAt == nil || !task.StartedAt.Before(cutoff) {
			continue
		}
		errMsg := "timeout: no progress"
		task.LastError = &errMsg
		if task.RetryCount >= task.MaxRetries {
			task.Status = model.TaskStatusFailed
			result.Failed++
		} else {
			task.Status = model.TaskStatusPending
			task.RetryCount++
			task.WorkerID = nil
			task.StartedAt = nil
			result.Reset++
		}
	}
	return &result, nil
}

func (f *fakeTaskRepo) Stats(_ context.Context) (*model.TaskStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := &model.TaskStats{}
	for _, task := range f.tasks {
		switch task.Status {
		case model.TaskStatusPending:
			stats.Pending++
		case model.TaskStatusProcessing:
			stats.Processing++
		case model.TaskStatusCompleted:
			stats.Completed++
		case model.TaskStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (f *fakeTaskRepo) DeleteTerminalBefore(_ context.Context, params core.DeleteTerminalTasksParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := time.Now().UTC().Add(-params.OlderThan)
	var deleted int64
	for id, task := range f.tasks {
		if task.Status != params.Status {
			continue
		}
		if task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
			delete(f.tasks, id)
			deleted++
		}
	}
	return deleted, nil
}

type fakeEventRepo struct {
	mu        sync.Mutex
	appended  []core.AppendEventParams
	appendErr error
}

func (f *fakeEventRepo) Append(_ context.Context, params core.AppendEventParams) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, params)
	return nil
}

func (f *fakeEventRepo) ListByJob(_ context.Context, jobID string, _ int) ([]*model.PipelineEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.PipelineEvent
	for i, params := range f.appended {
		if params.JobID != jobID {
			continue
		}
		data, err := json.Marshal(params.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, &model.PipelineEvent{
			ID:        fmt.Sprintf("event-%d", i+1),
			JobID:     params.JobID,
			EventType: params.EventType,
			Data:      data,
		})
	}
	return out, nil
}

func (f *fakeEventRepo) byType(eventType model.EventType) []core.AppendEventParams {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []core.AppendEventParams
	for _, params := range f.appended {
		if params.EventType == eventType {
			out = append(out, params)
		}
	}
	return out
}

type fakeTopicRepo struct {
	mu     sync.Mutex
	topics map[string]*model.Topic
	seq    int
}

func newFakeTopicRepo() *fakeTopicRepo {
	return &fakeTopicRepo{topics: make(map[string]*model.Topic)}
}

func (f *fakeTopicRepo) add(topic *model.Topic) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics[topic.ID] = topic
}

func (f *fakeTopicRepo) Create(_ context.Context, req *model.CreateTopicRequest) (*model.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	topic := &model.Topic{
		ID:        fmt.Sprintf("topic-%d", f.seq),
		Title:     req.Title,
		Keyword:   req.Keyword,
		CreatedAt: time.Now().UTC(),
	}
	f.topics[topic.ID] = topic
	clone := *topic
	return &clone, nil
}

func (f *fakeTopicRepo) GetByID(_ context.Context, id string) (*model.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	topic, ok := f.topics[id]
	if !ok {
		return nil, fmt.Errorf("topic %s not found", id)
	}
	clone := *topic
	return &clone, nil
}

func (f *fakeTopicRepo) List(_ context.Context, _, _ int) ([]*model.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.Topic
	for _, topic := range f.topics {
		clone := *topic
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeTopicRepo) Approve(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	topic, ok := f.topics[id]
	if !ok {
		return false, nil
	}
	topic.Approved = true
	return true, nil
}

type fakeCache struct {
	mu     sync.Mutex
	values map[string]string
	gets   int
	sets   int
	getErr error
	setErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]string)}
}

func (f *fakeCache) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.gets++
	if f.getErr != nil {
		return "", f.getErr
	}
	value, ok := f.values[key]
	if !ok {
		return "", core.ErrCacheMiss
	}
	return value, nil
}

func (f *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	f.values[key] = value
	return nil
}

func (f *fakeCache) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func (f *fakeCache) Health(context.Context) error { return nil }
