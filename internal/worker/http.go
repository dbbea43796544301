package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
)

// Stage work and task execution are delegated to an external worker service
// (the model-facing sidecar) over JSON/HTTP. The orchestrator never talks to
// model providers directly; it only moves state and enforces the lifecycle.

const maxErrorBodyBytes = 4 * 1024 // keep upstream error snippets bounded

// HTTPClientOptions configures the worker service client.
type HTTPClientOptions struct {
	BaseURL string       // Required: worker service base URL
	Client  *http.Client // Optional: defaults to http.DefaultClient
	Logger  *slog.Logger // Optional: structured logger
}

// HTTPClient calls the external worker service. One client serves both the
// engine's stage invocations and the poller's task execution.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPClient constructs a worker service client.
func NewHTTPClient(opts HTTPClientOptions) (*HTTPClient, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		return nil, errors.New("worker base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid worker base URL: %w", err)
	}

	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "worker_client")
	}

	return &HTTPClient{
		baseURL: base,
		client:  client,
		logger:  logger,
	}, nil
}

// stageRequest is the payload sent for a stage invocation.
type stageRequest struct {
	JobID        string             `json:"job_id"`
	Title        string             `json:"title"`
	Stage        model.Stage        `json:"stage"`
	StageOutputs model.StageOutputs `json:"stage_outputs"`
}

// stageResponse is the worker service's reply to a stage invocation.
type stageResponse struct {
	Output json.RawMessage `json:"output"`
	Cost   float64         `json:"cost"`
	Tokens int             `json:"tokens"`
}

// RunStage invokes the worker service for one stage of one job.
func (c *HTTPClient) RunStage(ctx context.Context, stage model.Stage, job *model.Job) (*core.StageResult, error) {
	var resp stageResponse
	err := c.post(ctx, "/v1/stages/"+string(stage), stageRequest{
		JobID:        job.ID,
		Title:        job.Title,
		Stage:        stage,
		StageOutputs: job.StageOutputs,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", stage, err)
	}
	return &core.StageResult{Output: resp.Output, Cost: resp.Cost, Tokens: resp.Tokens}, nil
}

// taskRequest is the payload sent for a task execution.
type taskRequest struct {
	TaskID  string          `json:"task_id"`
	JobID   string          `json:"job_id"`
	Kind    model.TaskKind  `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// RunTask executes a claimed queue task via the worker service. The returned
// document is stored verbatim as the task result; the queue validates the
// kind's required field before accepting it.
func (c *HTTPClient) RunTask(ctx context.Context, task *model.Task) (json.RawMessage, error) {
	var result json.RawMessage
	err := c.post(ctx, "/v1/tasks/"+string(task.Kind), taskRequest{
		TaskID:  task.ID,
		JobID:   task.JobID,
		Kind:    task.Kind,
		Payload: task.Payload,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("task kind %s: %w", task.Kind, err)
	}
	return result, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && c.logger != nil {
			c.logger.WarnContext(ctx, "close worker response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("worker returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// NewHTTPRegistry builds a registry backed by the worker service, with one
// HTTP-dispatching worker per working stage.
func NewHTTPRegistry(client *HTTPClient) *Registry {
	workers := make(map[model.Stage]core.StageWorker, len(model.WorkingStages()))
	for _, stage := range model.WorkingStages() {
		workers[stage] = core.StageWorkerFunc(func(ctx context.Context, job *model.Job) (*core.StageResult, error) {
			workStage, _ := job.CurrentStage.WorkStage()
			return client.RunStage(ctx, workStage, job)
		})
	}
	return MustNewRegistry(workers)
}
