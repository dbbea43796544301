package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/draftmill/draftmill/internal/domain/model"
	apperrors "github.com/draftmill/draftmill/internal/errors"
	"github.com/draftmill/draftmill/internal/service"
)

// TaskHandlers provides HTTP handlers for the distributed task queue. External
// pollers drive the list/claim/complete/fail cycle through these endpoints.
type TaskHandlers struct {
	Svc *service.TaskQueueService
}

// CreateTask handles HTTP requests to enqueue a new pending task.
func (h *TaskHandlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req model.CreateTaskRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		WriteAppError(w, apperrors.Validation(err.Error()))
		return
	}

	task, err := h.Svc.Enqueue(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, task)
}

// ListPending handles HTTP requests to list claimable tasks, oldest first.
func (h *TaskHandlers) ListPending(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 0)

	tasks, err := h.Svc.ListPending(r.Context(), limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, tasks)
}

// GetTask handles HTTP requests to retrieve a single task.
func (h *TaskHandlers) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if taskID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("task id is required")},
		)
		return
	}

	task, err := h.Svc.GetByID(r.Context(), taskID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

// ClaimTask handles HTTP requests to claim a pending task for a worker.
// Responds 204 when another poller won the race.
func (h *TaskHandlers) ClaimTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if taskID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("task id is required")},
		)
		return
	}

	var body struct {
		WorkerID string `json:"worker_id"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	task, err := h.Svc.Claim(r.Context(), taskID, body.WorkerID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

// CompleteTask handles HTTP requests to finish a processing task with its
// result document. The chained follow-on task, if any, is returned.
func (h *TaskHandlers) CompleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if taskID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("task id is required")},
		)
		return
	}

	var body struct {
		Result json.RawMessage `json:"result"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	chained, err := h.Svc.Complete(r.Context(), taskID, body.Result)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if chained == nil {
		WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "next": chained})
}

// FailTask handles HTTP requests to mark a processing task as failed.
func (h *TaskHandlers) FailTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if taskID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("task id is required")},
		)
		return
	}

	var body struct {
		Error string `json:"error"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	if err := h.Svc.Fail(r.Context(), taskID, body.Error); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ResetStuckTasks handles HTTP requests to sweep tasks stuck in processing.
func (h *TaskHandlers) ResetStuckTasks(w http.ResponseWriter, r *http.Request) {
	result, err := h.Svc.ResetStuck(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// TaskStats handles HTTP requests to retrieve per-status task counts.
func (h *TaskHandlers) TaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}
