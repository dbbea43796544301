// Package engine provides the adapter that runs the pipeline engine loop.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/data"
	"github.com/draftmill/draftmill/internal/domain/model"
	obserrors "github.com/draftmill/draftmill/internal/observability/errors"
	"github.com/draftmill/draftmill/internal/observability/metrics"
	"github.com/draftmill/draftmill/internal/observability/statsd"
	"github.com/draftmill/draftmill/internal/service"
	"github.com/draftmill/draftmill/internal/worker"
)

// Runner drives the engine: tick when work exists, idle at the configured
// interval when it does not, and run the stuck-recovery pass periodically.
type Runner struct {
	engine  *service.EngineService
	config  config.EngineConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB       *sql.DB
	Config   config.EngineConfig
	Registry *worker.Registry
	Logger   *slog.Logger
	Metrics  statsd.Sink

	// Optional dependency injection for testing/decoupling
	Jobs   core.JobRepository
	Events core.EventRepository
}

// NewRunner creates a new engine runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	jobs := opts.Jobs
	if jobs == nil {
		jobs = data.NewJobRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
	}
	events := opts.Events
	if events == nil {
		events = data.NewEventRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
	}

	engineSvc, err := service.NewEngineService(service.EngineServiceOptions{
		Jobs:     jobs,
		Events:   events,
		Registry: opts.Registry,
		Config:   opts.Config,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return &Runner{
		engine:  engineSvc,
		config:  opts.Config,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && (opts.Jobs == nil || opts.Events == nil) {
		return errors.New("database connection is required")
	}
	if opts.Registry == nil {
		return errors.New("worker registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// Run drives the engine loop until the context is cancelled. A tick that
// processed a job starts the next tick immediately; an idle tick waits out
// the tick interval. A missing worker for a reachable stage aborts the loop:
// that is a deployment defect, and retrying would spin on it forever.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting engine runner",
		"tick_interval", r.config.TickInterval,
		"recover_interval", r.config.RecoverInterval,
	)

	recoverTicker := time.NewTicker(r.config.RecoverInterval)
	defer recoverTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "engine runner stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-recoverTicker.C:
			r.runRecovery(ctx)
		default:
		}

		start := time.Now()
		err := r.engine.Tick(ctx)
		r.emitTickMetrics(time.Since(start), err)

		switch {
		case err == nil:
			// A job was processed; look for the next one right away.
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.idle(ctx) {
				continue
			}
		case errors.Is(err, worker.ErrNotRegistered):
			r.logger.ErrorContext(ctx, "engine misconfigured, stopping", "error", err)
			return err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// Shutdown races surface as context errors; the loop exits above.
		default:
			r.logger.ErrorContext(ctx, "engine tick failed", "error", err)
			if !r.idle(ctx) {
				continue
			}
		}
	}
}

// idle waits out the tick interval. Returns false when the context ended
// first, letting the loop notice cancellation promptly.
func (r *Runner) idle(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(r.config.TickInterval):
		return true
	}
}

func (r *Runner) runRecovery(ctx context.Context) {
	recovered, err := r.engine.RecoverStuck(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.ErrorContext(ctx, "stuck recovery failed", "error", err)
		}
		return
	}
	if recovered > 0 {
		r.logger.InfoContext(ctx, "recovered stuck jobs", "count", recovered)
	}
}

func (r *Runner) emitTickMetrics(elapsed time.Duration, err error) {
	if r.metrics == nil {
		return
	}

	result := metrics.ResultSuccess
	switch {
	case errors.Is(err, model.ErrNoJobsAvailable):
		result = metrics.ResultNoop
	case err != nil:
		result = metrics.ResultError
	}

	tags := map[string]string{
		"result": result,
	}

	if err != nil && result == metrics.ResultError {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	r.metrics.Count("engine.tick", 1, tags)

	if elapsed > 0 {
		r.metrics.Timing("engine.tick_duration", elapsed, metrics.CloneTags(tags))
	}

	if result == metrics.ResultSuccess {
		r.metrics.Gauge("engine.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}
