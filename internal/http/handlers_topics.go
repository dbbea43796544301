package httpx

import (
	"errors"
	"net/http"

	"github.com/draftmill/draftmill/internal/domain/model"
	apperrors "github.com/draftmill/draftmill/internal/errors"
	"github.com/draftmill/draftmill/internal/service"
)

// TopicHandlers provides HTTP handlers for topic operations.
type TopicHandlers struct {
	Svc *service.TopicService
}

// CreateTopic handles HTTP requests to create a new unapproved topic.
func (h *TopicHandlers) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var req model.CreateTopicRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		WriteAppError(w, apperrors.Validation(err.Error()))
		return
	}

	topic, err := h.Svc.Create(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, topic)
}

// ListTopics handles HTTP requests to list topics, newest first.
func (h *TopicHandlers) ListTopics(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)

	topics, err := h.Svc.List(r.Context(), limit, offset)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, topics)
}

// ApproveTopic handles HTTP requests to approve a topic for job creation.
func (h *TopicHandlers) ApproveTopic(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("id")
	if topicID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("topic id is required")},
		)
		return
	}

	if err := h.Svc.Approve(r.Context(), topicID); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
