// Package httpx provides HTTP handlers and utilities for the draftmill pipeline API.
package httpx

import (
	"errors"
	"net/http"

	"github.com/draftmill/draftmill/internal/domain/model"
	"github.com/draftmill/draftmill/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultEventsCap = 200
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc *service.JobService
}

// CreateJob handles HTTP requests to create a new job.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.CreateJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Svc.Create(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// ListJobs handles HTTP requests to list jobs, optionally filtered by stage.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, _ := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	filter := &model.JobFilter{Limit: limit}

	if raw := r.URL.Query().Get("stage"); raw != "" {
		var stage model.Stage
		if err := stage.UnmarshalText([]byte(raw)); err != nil {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_stage", Err: err})
			return
		}
		filter.Stage = &stage
	}

	jobs, err := h.Svc.List(r.Context(), filter)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// GetJob handles HTTP requests to retrieve a single job.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	job, err := h.Svc.GetByID(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// JobEvents handles HTTP requests to list a job's audit trail, oldest first.
func (h *JobHandlers) JobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}
	limit := parseIntQuery(r, "limit", defaultEventsCap)

	events, err := h.Svc.Events(r.Context(), jobID, limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, events)
}

// ResetJob handles HTTP requests to re-drive a job from a given stage.
func (h *JobHandlers) ResetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	var body struct {
		Stage string `json:"stage"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	var stage model.Stage
	if err := stage.UnmarshalText([]byte(body.Stage)); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_stage", Err: err})
		return
	}

	if err := h.Svc.Reset(r.Context(), jobID, stage); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// PublishJob handles HTTP requests to move a ready job to published.
func (h *JobHandlers) PublishJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	if err := h.Svc.Publish(r.Context(), jobID); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// JobStats handles HTTP requests to retrieve per-stage job counts.
func (h *JobHandlers) JobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}
