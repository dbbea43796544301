// Package worker holds the stage worker registry: the constructed-once map
// from pipeline stage to the pluggable capability that performs its work.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
)

// ErrNotRegistered is returned when a reachable stage has no worker. This is
// a deployment defect, not a retryable condition.
var ErrNotRegistered = errors.New("no worker registered")

// Registry maps working stages to their stage workers. It is built once at
// startup and passed into the engine; there are no ambient singletons and no
// registration after construction.
type Registry struct {
	workers map[model.Stage]core.StageWorker
}

// NewRegistry builds a registry from the given stage→worker map. Every entry
// must be a working stage with a non-nil worker.
func NewRegistry(workers map[model.Stage]core.StageWorker) (*Registry, error) {
	out := make(map[model.Stage]core.StageWorker, len(workers))
	for stage, w := range workers {
		if _, ok := stage.Next(); !ok {
			return nil, fmt.Errorf("stage %s is not a working stage", stage)
		}
		if w == nil {
			return nil, fmt.Errorf("nil worker for stage %s", stage)
		}
		out[stage] = w
	}
	return &Registry{workers: out}, nil
}

// MustNewRegistry builds a registry and panics on invalid input. For wiring
// code where a bad registry is a deployment defect.
func MustNewRegistry(workers map[model.Stage]core.StageWorker) *Registry {
	r, err := NewRegistry(workers)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the worker registered for a working stage.
func (r *Registry) Lookup(stage model.Stage) (core.StageWorker, bool) {
	w, ok := r.workers[stage]
	return w, ok
}

// Invoke runs the stage's worker against a read-only snapshot of the job,
// bounded by the given deadline. A hung external call expires as an ordinary
// error and flows through the retry path.
func (r *Registry) Invoke(
	ctx context.Context,
	job *model.Job,
	timeout time.Duration,
) (*core.StageResult, error) {
	stage, ok := job.CurrentStage.WorkStage()
	if !ok {
		return nil, fmt.Errorf("no work owed at stage %s", job.CurrentStage)
	}

	w, ok := r.workers[stage]
	if !ok {
		return nil, fmt.Errorf("%w for stage %s", ErrNotRegistered, stage)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	snapshot := cloneJob(job)
	result, err := w.Run(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("worker for stage %s returned no result", stage)
	}
	return result, nil
}

// cloneJob copies the job so workers cannot mutate engine state through the
// snapshot they receive.
func cloneJob(job *model.Job) *model.Job {
	clone := *job
	outputs := make(model.StageOutputs, len(job.StageOutputs))
	for k, v := range job.StageOutputs {
		outputs[k] = append([]byte(nil), v...)
	}
	clone.StageOutputs = outputs
	return &clone
}
