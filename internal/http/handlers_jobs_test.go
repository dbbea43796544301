package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftmill/draftmill/internal/data"
	"github.com/draftmill/draftmill/internal/domain/model"
)

func TestCreateJob_Success(t *testing.T) {
	jobs := &mockJobRepo{
		createFn: func(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
			return &model.Job{
				ID:           "job-123",
				Title:        req.Title,
				CurrentStage: model.StagePending,
				MaxRetries:   3,
			}, nil
		},
	}
	h := newJobHandlers(t, jobs, nil, nil)

	b, _ := json.Marshal(model.CreateJobRequest{Title: "How to brew coffee"})
	r := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader(b))
	w := httptest.NewRecorder()

	h.CreateJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var got model.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "job-123", got.ID)
	assert.Equal(t, model.StagePending, got.CurrentStage)
}

func TestCreateJob_InvalidJSON(t *testing.T) {
	h := newJobHandlers(t, &mockJobRepo{}, nil, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString("{bad"))
	w := httptest.NewRecorder()

	h.CreateJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateJob_MissingTitle_Returns400(t *testing.T) {
	h := newJobHandlers(t, &mockJobRepo{}, nil, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()

	h.CreateJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "validation", body["error"])
}

func TestGetJob_NotFound_Returns404(t *testing.T) {
	jobs := &mockJobRepo{
		getByIDFn: func(_ context.Context, _ string) (*model.Job, error) {
			return nil, data.ErrJobNotFound
		},
	}
	h := newJobHandlers(t, jobs, nil, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil)
	r.SetPathValue("id", "missing")
	w := httptest.NewRecorder()

	h.GetJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListJobs_StageFilter(t *testing.T) {
	var gotFilter *model.JobFilter
	jobs := &mockJobRepo{
		listFn: func(_ context.Context, filter *model.JobFilter) ([]*model.Job, error) {
			gotFilter = filter
			return []*model.Job{{ID: "job-1", CurrentStage: model.StageWriting}}, nil
		},
	}
	h := newJobHandlers(t, jobs, nil, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/jobs?stage=writing&limit=5", nil)
	w := httptest.NewRecorder()

	h.ListJobs(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, gotFilter)
	require.NotNil(t, gotFilter.Stage)
	assert.Equal(t, model.StageWriting, *gotFilter.Stage)
	assert.Equal(t, 5, gotFilter.Limit)
}

func TestListJobs_InvalidStage_Returns400(t *testing.T) {
	h := newJobHandlers(t, &mockJobRepo{}, nil, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/jobs?stage=outlining", nil)
	w := httptest.NewRecorder()

	h.ListJobs(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResetJob_Success(t *testing.T) {
	var gotStage model.Stage
	jobs := &mockJobRepo{
		resetFn: func(_ context.Context, _ string, stage model.Stage) (bool, error) {
			gotStage = stage
			return true, nil
		},
	}
	h := newJobHandlers(t, jobs, nil, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/reset", bytes.NewBufferString(`{"stage":"revising"}`))
	r.SetPathValue("id", "job-1")
	w := httptest.NewRecorder()

	h.ResetJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.StageRevising, gotStage)
}

func TestResetJob_TerminalStage_Returns400(t *testing.T) {
	h := newJobHandlers(t, &mockJobRepo{}, nil, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/reset", bytes.NewBufferString(`{"stage":"failed"}`))
	r.SetPathValue("id", "job-1")
	w := httptest.NewRecorder()

	h.ResetJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPublishJob_NotReady_Returns409(t *testing.T) {
	jobs := &mockJobRepo{
		markPublishedFn: func(_ context.Context, _ string) (bool, error) {
			return false, nil
		},
	}
	h := newJobHandlers(t, jobs, nil, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/publish", nil)
	r.SetPathValue("id", "job-1")
	w := httptest.NewRecorder()

	h.PublishJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPublishJob_Success(t *testing.T) {
	jobs := &mockJobRepo{
		markPublishedFn: func(_ context.Context, _ string) (bool, error) {
			return true, nil
		},
	}
	h := newJobHandlers(t, jobs, nil, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/jobs/job-1/publish", nil)
	r.SetPathValue("id", "job-1")
	w := httptest.NewRecorder()

	h.PublishJob(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJobEvents_ReturnsTrail(t *testing.T) {
	events := &mockEventRepo{
		listByJobFn: func(_ context.Context, jobID string, _ int) ([]*model.PipelineEvent, error) {
			return []*model.PipelineEvent{
				{ID: "ev-1", JobID: jobID, EventType: model.EventStageChanged},
			}, nil
		},
	}
	h := newJobHandlers(t, &mockJobRepo{}, nil, events)

	r := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1/events", nil)
	r.SetPathValue("id", "job-1")
	w := httptest.NewRecorder()

	h.JobEvents(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []*model.PipelineEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "job-1", got[0].JobID)
}

func TestJobStats(t *testing.T) {
	jobs := &mockJobRepo{
		statsFn: func(_ context.Context) (*model.PipelineStats, error) {
			return &model.PipelineStats{
				Stages: map[model.Stage]int{model.StagePending: 2},
				Total:  2,
			}, nil
		},
	}
	h := newJobHandlers(t, jobs, nil, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/jobs/stats", nil)
	w := httptest.NewRecorder()

	h.JobStats(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.PipelineStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 2, got.Total)
}
