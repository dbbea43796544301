package metrics

import (
	"time"

	obserrors "github.com/draftmill/draftmill/internal/observability/errors"
	"github.com/draftmill/draftmill/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// StageMetric captures details about a pipeline stage attempt for metric emission.
type StageMetric struct {
	Stage    string
	Outcome  string // advanced, retried, failed
	Result   string
	Duration time.Duration
	Err      error
}

// EmitStageLifecycle emits standardised pipeline stage metrics.
func EmitStageLifecycle(sink statsd.Sink, in StageMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"stage":   in.Stage,
		"outcome": in.Outcome,
		"result":  in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("pipeline.stage", 1, tags)

	if in.Duration > 0 {
		sink.Timing("pipeline.stage_duration", in.Duration, CloneTags(tags))
	}
}

// TaskMetric captures details about a queue task lifecycle event.
type TaskMetric struct {
	Kind       string
	Transition string // claimed, completed, failed, reset
	Result     string
	Err        error
}

// EmitTaskLifecycle emits standardised task queue metrics.
func EmitTaskLifecycle(sink statsd.Sink, in TaskMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"kind":       in.Kind,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("task.transition", 1, tags)
}

// CloneTags creates a shallow copy of a tag map, filtering out empty keys.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
