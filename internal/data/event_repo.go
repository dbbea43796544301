package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
)

// EventRepo provides database operations for the append-only pipeline event log.
type EventRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewEventRepo creates a new EventRepo instance with the given database connection and configuration.
func NewEventRepo(db *sql.DB, cfg RepoConfig) *EventRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &EventRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

// Append writes one immutable event row. Events are never updated or deleted
// outside housekeeping; cascade delete follows the owning job.
func (r *EventRepo) Append(ctx context.Context, params core.AppendEventParams) error {
	if params.JobID == "" {
		return errors.New("job id is required")
	}
	if !params.EventType.Valid() {
		return fmt.Errorf("invalid event type: %s", params.EventType)
	}

	data := []byte(`{}`)
	if params.Data != nil {
		encoded, err := json.Marshal(params.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		data = encoded
	}

	_, err := r.DB.ExecContext(ctx, `
	  INSERT INTO pipeline_events (job_id, event_type, data, created_at)
	  VALUES ($1, $2, $3, $4)
	`, params.JobID, params.EventType, data, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListByJob returns a job's events, oldest first.
func (r *EventRepo) ListByJob(ctx context.Context, jobID string, limit int) ([]*model.PipelineEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.DB.QueryContext(ctx, `
	  SELECT id, job_id, event_type, data, created_at
	  FROM pipeline_events
	  WHERE job_id = $1
	  ORDER BY created_at ASC
	  LIMIT $2
	`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*model.PipelineEvent
	for rows.Next() {
		event := &model.PipelineEvent{}
		var data []byte
		if scanErr := rows.Scan(&event.ID, &event.JobID, &event.EventType, &data, &event.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("scan event: %w", scanErr)
		}
		event.Data = cloneJSON(data)
		events = append(events, event)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("event rows: %w", rowsErr)
	}
	return events, nil
}
