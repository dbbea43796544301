// Package testutil provides testing utilities and helpers for the draftmill pipeline.
package testutil

import (
	"encoding/json"

	"github.com/draftmill/draftmill/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			Title:      "How to brew coffee",
			MaxRetries: 3,
		},
	}
}

// WithTitle sets the job title.
func (b *JobRequestBuilder) WithTitle(title string) *JobRequestBuilder {
	b.req.Title = title
	return b
}

// WithTopicID sets the topic the job is created from.
func (b *JobRequestBuilder) WithTopicID(topicID string) *JobRequestBuilder {
	b.req.TopicID = &topicID
	return b
}

// WithMaxRetries sets the maximum number of retries.
func (b *JobRequestBuilder) WithMaxRetries(maxRetries int) *JobRequestBuilder {
	b.req.MaxRetries = maxRetries
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// TaskRequestBuilder provides a fluent interface for building CreateTaskRequest objects for testing.
type TaskRequestBuilder struct {
	req *model.CreateTaskRequest
}

// NewTaskRequest creates a new TaskRequestBuilder with sensible defaults.
// The job ID is always caller-supplied; tasks never exist without a job.
func NewTaskRequest(jobID string) *TaskRequestBuilder {
	return &TaskRequestBuilder{
		req: &model.CreateTaskRequest{
			JobID:      jobID,
			Kind:       model.TaskKindResearch,
			Payload:    json.RawMessage(`{"title": "How to brew coffee"}`),
			MaxRetries: 3,
		},
	}
}

// WithKind sets the task kind.
func (b *TaskRequestBuilder) WithKind(kind model.TaskKind) *TaskRequestBuilder {
	b.req.Kind = kind
	return b
}

// WithPayload sets the task payload.
func (b *TaskRequestBuilder) WithPayload(payload json.RawMessage) *TaskRequestBuilder {
	b.req.Payload = payload
	return b
}

// WithPayloadString sets the task payload from a string.
func (b *TaskRequestBuilder) WithPayloadString(payload string) *TaskRequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// WithMaxRetries sets the maximum number of retries.
func (b *TaskRequestBuilder) WithMaxRetries(maxRetries int) *TaskRequestBuilder {
	b.req.MaxRetries = maxRetries
	return b
}

// Build returns the constructed CreateTaskRequest.
func (b *TaskRequestBuilder) Build() *model.CreateTaskRequest {
	return b.req
}

// Common test request presets

// TopicRequest creates a topic request with default values.
func TopicRequest() *model.CreateTopicRequest {
	return &model.CreateTopicRequest{
		Title:   "Cold brew at home",
		Keyword: "cold brew",
	}
}

// TopicRequestWithTitle creates a topic request with the given title.
func TopicRequestWithTitle(title string) *model.CreateTopicRequest {
	return &model.CreateTopicRequest{Title: title}
}

// RetryableJobRequest creates a job request with custom retry settings.
func RetryableJobRequest(maxRetries int) *model.CreateJobRequest {
	return NewJobRequest().
		WithMaxRetries(maxRetries).
		Build()
}

// ResultForKind returns a minimal result document satisfying the completion
// contract for the given kind.
func ResultForKind(kind model.TaskKind) json.RawMessage {
	field, ok := kind.ResultField()
	if !ok {
		return json.RawMessage(`{}`)
	}
	doc := map[string]any{field: map[string]any{"ok": true}}
	raw, err := json.Marshal(doc)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
