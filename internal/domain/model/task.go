package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskKind represents the unit of pipeline work a queued task performs.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type TaskKind string

// TaskStatus represents the current status of a queued task.
type TaskStatus string

const (
	// TaskKindResearch gathers the research bundle for a job.
	TaskKindResearch TaskKind = "research"
	// TaskKindWrite produces the first draft.
	TaskKindWrite TaskKind = "write"
	// TaskKindEnrich adds citations, metrics, and testimonials.
	TaskKindEnrich TaskKind = "enrich"
	// TaskKindRevise performs the revision pass.
	TaskKindRevise TaskKind = "revise"
	// TaskKindFactCheck verifies claims against the research bundle.
	TaskKindFactCheck TaskKind = "fact_check"
	// TaskKindSeo optimizes keyword placement and metadata.
	TaskKindSeo TaskKind = "seo"
	// TaskKindHumanize rewrites mechanical phrasing.
	TaskKindHumanize TaskKind = "humanize"
	// TaskKindLink places internal links.
	TaskKindLink TaskKind = "link"
	// TaskKindMedia generates featured and inline media.
	TaskKindMedia TaskKind = "media"
	// TaskKindFormat renders the WordPress-ready payload. Last in the chain.
	TaskKindFormat TaskKind = "format"

	// TaskStatusPending indicates a task is waiting to be claimed.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusProcessing indicates a poller holds the task.
	TaskStatusProcessing TaskStatus = "processing"
	// TaskStatusCompleted indicates the task finished successfully. Terminal.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed. Terminal.
	TaskStatusFailed TaskStatus = "failed"
)

// ErrNoTasksAvailable is returned when no pending tasks exist.
var ErrNoTasksAvailable = errors.New("no tasks available")

// kindChain mirrors the engine's linear stage table expressed as task
// creation: completing a kind enqueues the next one. Format has no successor.
var kindChain = map[TaskKind]TaskKind{
	TaskKindResearch:  TaskKindWrite,
	TaskKindWrite:     TaskKindEnrich,
	TaskKindEnrich:    TaskKindRevise,
	TaskKindRevise:    TaskKindFactCheck,
	TaskKindFactCheck: TaskKindSeo,
	TaskKindSeo:       TaskKindHumanize,
	TaskKindHumanize:  TaskKindLink,
	TaskKindLink:      TaskKindMedia,
	TaskKindMedia:     TaskKindFormat,
}

// kindStages ties each task kind to the pipeline stage whose work it carries
// out, so queue-side events land in the same audit log the engine writes.
var kindStages = map[TaskKind]Stage{
	TaskKindResearch:  StageResearching,
	TaskKindWrite:     StageWriting,
	TaskKindEnrich:    StageEnriching,
	TaskKindRevise:    StageRevising,
	TaskKindFactCheck: StageFactChecking,
	TaskKindSeo:       StageSeoOptimizing,
	TaskKindHumanize:  StageHumanizing,
	TaskKindLink:      StageInternalLinking,
	TaskKindMedia:     StageMediaGenerating,
	TaskKindFormat:    StageFormatting,
}

// kindResultFields names the result field each kind must produce for its
// completion to be accepted and chained. Expressed as JMESPath so nested
// selections stay possible without changing the queue.
var kindResultFields = map[TaskKind]string{
	TaskKindResearch:  "research",
	TaskKindWrite:     "draft",
	TaskKindEnrich:    "enrichment",
	TaskKindRevise:    "revised",
	TaskKindFactCheck: "fact_check",
	TaskKindSeo:       "seo",
	TaskKindHumanize:  "humanized",
	TaskKindLink:      "links",
	TaskKindMedia:     "media",
	TaskKindFormat:    "wordpress",
}

// Valid returns true if the TaskKind is one of the known kinds.
func (k TaskKind) Valid() bool {
	_, ok := kindResultFields[k]
	return ok
}

// UnmarshalText implements encoding.TextUnmarshaler for TaskKind.
func (k *TaskKind) UnmarshalText(text []byte) error {
	v := TaskKind(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid TaskKind: %q", string(text))
	}
	*k = v
	return nil
}

// Next returns the kind chained after k, if any.
func (k TaskKind) Next() (TaskKind, bool) {
	next, ok := kindChain[k]
	return next, ok
}

// ResultField returns the JMESPath expression selecting the result field a
// completed task of this kind must carry.
func (k TaskKind) ResultField() (string, bool) {
	expr, ok := kindResultFields[k]
	return expr, ok
}

// Stage returns the pipeline stage whose work this kind performs.
func (k TaskKind) Stage() (Stage, bool) {
	stage, ok := kindStages[k]
	return stage, ok
}

// Valid returns true if the TaskStatus is valid.
func (s TaskStatus) Valid() bool {
	return s == TaskStatusPending || s == TaskStatusProcessing ||
		s == TaskStatusCompleted || s == TaskStatusFailed
}

// Terminal returns true for statuses the queue never moves a task out of.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task represents a discrete claimable unit of work tied to a job.
type Task struct {
	ID          string          `json:"id"                     db:"id"`
	JobID       string          `json:"job_id"                 db:"job_id"`
	Kind        TaskKind        `json:"kind"                   db:"kind"`
	Status      TaskStatus      `json:"status"                 db:"status"`
	Payload     json.RawMessage `json:"payload"                db:"payload"`
	Result      json.RawMessage `json:"result,omitempty"       db:"result"`
	WorkerID    *string         `json:"worker_id,omitempty"    db:"worker_id"`
	RetryCount  int             `json:"retry_count"            db:"retry_count"`
	MaxRetries  int             `json:"max_retries"            db:"max_retries"`
	LastError   *string         `json:"error,omitempty"        db:"last_error"`
	CreatedAt   time.Time       `json:"created_at"             db:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"   db:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// CreateTaskRequest represents a request to enqueue a task.
type CreateTaskRequest struct {
	JobID      string          `json:"job_id"`
	Kind       TaskKind        `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	MaxRetries int             `json:"max_retries,omitempty"`
}

// Validate validates the CreateTaskRequest fields.
func (r *CreateTaskRequest) Validate() error {
	if r.JobID == "" {
		return errors.New("job id is required")
	}
	if !r.Kind.Valid() {
		return errors.New("invalid task kind")
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	return nil
}

// TaskStats counts tasks per status.
type TaskStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
