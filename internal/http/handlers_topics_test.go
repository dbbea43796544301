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

	"github.com/draftmill/draftmill/internal/domain/model"
)

func TestCreateTopic_Success(t *testing.T) {
	topics := &mockTopicRepo{
		createFn: func(_ context.Context, req *model.CreateTopicRequest) (*model.Topic, error) {
			return &model.Topic{ID: "topic-1", Title: req.Title, Keyword: req.Keyword}, nil
		},
	}
	h := newTopicHandlers(t, topics)

	body := `{"title":"Cold brew basics","keyword":"cold brew"}`
	r := httptest.NewRequest(http.MethodPost, "/api/topics", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.CreateTopic(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var got model.Topic
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "Cold brew basics", got.Title)
	assert.False(t, got.Approved)
}

func TestCreateTopic_MissingTitle_Returns400(t *testing.T) {
	h := newTopicHandlers(t, &mockTopicRepo{})

	r := httptest.NewRequest(http.MethodPost, "/api/topics", bytes.NewBufferString(`{"keyword":"x"}`))
	w := httptest.NewRecorder()

	h.CreateTopic(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListTopics_PassesPagination(t *testing.T) {
	var gotLimit, gotOffset int
	topics := &mockTopicRepo{
		listFn: func(_ context.Context, limit, offset int) ([]*model.Topic, error) {
			gotLimit, gotOffset = limit, offset
			return []*model.Topic{{ID: "topic-1", Title: "A"}}, nil
		},
	}
	h := newTopicHandlers(t, topics)

	r := httptest.NewRequest(http.MethodGet, "/api/topics?limit=10&offset=20", nil)
	w := httptest.NewRecorder()

	h.ListTopics(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 10, gotLimit)
	assert.Equal(t, 20, gotOffset)
}

func TestApproveTopic_NotFound_Returns404(t *testing.T) {
	topics := &mockTopicRepo{
		approveFn: func(_ context.Context, _ string) (bool, error) {
			return false, nil
		},
	}
	h := newTopicHandlers(t, topics)

	r := httptest.NewRequest(http.MethodPost, "/api/topics/missing/approve", nil)
	r.SetPathValue("id", "missing")
	w := httptest.NewRecorder()

	h.ApproveTopic(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApproveTopic_Success(t *testing.T) {
	var gotID string
	topics := &mockTopicRepo{
		approveFn: func(_ context.Context, id string) (bool, error) {
			gotID = id
			return true, nil
		},
	}
	h := newTopicHandlers(t, topics)

	r := httptest.NewRequest(http.MethodPost, "/api/topics/topic-1/approve", nil)
	r.SetPathValue("id", "topic-1")
	w := httptest.NewRecorder()

	h.ApproveTopic(w, r)

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "topic-1", gotID)
}
