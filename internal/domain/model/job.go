package model

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// StageOutputs accumulates each working stage's payload keyed by its output
// name. Later stages may read earlier payloads but never mutate them; the
// storage layer only ever merges new keys in.
type StageOutputs map[string]json.RawMessage

// Get returns the payload stored under key, or nil when the stage has not run.
func (o StageOutputs) Get(key string) json.RawMessage {
	if o == nil {
		return nil
	}
	return o[key]
}

// Has reports whether a payload exists under key.
func (o StageOutputs) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// Job represents an article moving through the pipeline.
type Job struct {
	ID           string       `json:"id"                     db:"id"`
	TopicID      *string      `json:"topic_id,omitempty"     db:"topic_id"`
	Title        string       `json:"title"                  db:"title"`
	CurrentStage Stage        `json:"current_stage"          db:"current_stage"`
	StageOutputs StageOutputs `json:"stage_outputs"          db:"stage_outputs"`
	RetryCount   int          `json:"retry_count"            db:"retry_count"`
	MaxRetries   int          `json:"max_retries"            db:"max_retries"`
	LastError    *string      `json:"last_error,omitempty"   db:"last_error"`
	CreatedAt    time.Time    `json:"created_at"             db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"             db:"updated_at"`
	PublishedAt  *time.Time   `json:"published_at,omitempty" db:"published_at"`
}

// CreateJobRequest represents a request to create a new job. A job is created
// from a topic or from a bare title; with both, the title wins.
type CreateJobRequest struct {
	TopicID    *string `json:"topic_id,omitempty"`
	Title      string  `json:"title,omitempty"`
	MaxRetries int     `json:"max_retries,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if r.Title == "" && r.TopicID == nil {
		return errors.New("title or topic id is required")
	}
	if r.TopicID != nil {
		if _, err := uuid.Parse(*r.TopicID); err != nil {
			return errors.New("topic id must be a valid UUID")
		}
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	return nil
}

// JobFilter narrows List queries.
type JobFilter struct {
	Stage *Stage `json:"stage,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// PipelineStats counts jobs per stage.
type PipelineStats struct {
	Stages map[Stage]int `json:"stages"`
	Total  int           `json:"total"`
}

// StatusSnapshot is the read-only dashboard view: per-stage counts plus a
// working/idle flag per working stage. Never used for scheduling decisions.
type StatusSnapshot struct {
	Agents   map[Stage]string `json:"agents"`
	Jobs     map[Stage]int    `json:"jobs"`
	Total    int              `json:"total"`
	CachedAt time.Time        `json:"cached_at"`
}

// BuildStatusSnapshot derives the working/idle flags from per-stage counts.
func BuildStatusSnapshot(stats PipelineStats, now time.Time) StatusSnapshot {
	snap := StatusSnapshot{
		Agents:   make(map[Stage]string, len(stageNext)),
		Jobs:     make(map[Stage]int, len(stageOrder)),
		Total:    stats.Total,
		CachedAt: now,
	}
	for _, stage := range stageOrder {
		snap.Jobs[stage] = stats.Stages[stage]
	}
	for _, stage := range WorkingStages() {
		state := "idle"
		if stats.Stages[stage] > 0 {
			state = "working"
		}
		snap.Agents[stage] = state
	}
	return snap
}
