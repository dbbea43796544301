package model

import (
	"encoding/json"
	"time"
)

// EventType classifies pipeline audit events.
type EventType string

const (
	// EventStageChanged records a successful stage advance.
	EventStageChanged EventType = "stage_changed"
	// EventRetried records a bounded retry of the current stage.
	EventRetried EventType = "retried"
	// EventFailed records retry exhaustion or a permanent failure.
	EventFailed EventType = "failed"
)

// Valid returns true if the EventType is valid.
func (t EventType) Valid() bool {
	return t == EventStageChanged || t == EventRetried || t == EventFailed
}

// PipelineEvent is an immutable audit record of a job transition, retry, or
// failure. Written by the engine and queue, never read for control flow.
type PipelineEvent struct {
	ID        string          `json:"id"         db:"id"`
	JobID     string          `json:"job_id"     db:"job_id"`
	EventType EventType       `json:"event_type" db:"event_type"`
	Data      json.RawMessage `json:"data"       db:"data"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// StageChangedData is the payload of an EventStageChanged event. Cost and
// token usage come from the worker's result when it reports them.
type StageChangedData struct {
	From   Stage   `json:"from"`
	To     Stage   `json:"to"`
	Cost   float64 `json:"cost,omitempty"`
	Tokens int     `json:"tokens,omitempty"`
}

// RetriedData is the payload of an EventRetried event.
type RetriedData struct {
	Stage   Stage  `json:"stage"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error"`
}

// FailedData is the payload of an EventFailed event.
type FailedData struct {
	Stage Stage  `json:"stage"`
	Error string `json:"error"`
}
