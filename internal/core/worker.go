package core

import (
	"context"
	"encoding/json"

	"github.com/draftmill/draftmill/internal/domain/model"
)

// StageWorker is the pluggable capability performing one stage's work. It
// must be safely re-runnable for the same job and must not mutate shared
// state outside its return value.
type StageWorker interface {
	Run(ctx context.Context, job *model.Job) (*StageResult, error)
}

// StageWorkerFunc adapts a function to the StageWorker interface.
type StageWorkerFunc func(ctx context.Context, job *model.Job) (*StageResult, error)

// Run implements StageWorker.
func (f StageWorkerFunc) Run(ctx context.Context, job *model.Job) (*StageResult, error) {
	return f(ctx, job)
}

// StageResult is a worker's report: the stage payload to persist plus any
// cost and token usage to record on the audit event.
type StageResult struct {
	Output json.RawMessage `json:"output"`
	Cost   float64         `json:"cost,omitempty"`
	Tokens int             `json:"tokens,omitempty"`
}
