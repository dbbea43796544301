// Package sweeper provides the adapter for running the retention sweeper.
package sweeper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/data"
	"github.com/draftmill/draftmill/internal/observability/statsd"
	"github.com/draftmill/draftmill/internal/service"
)

// Runner provides a simple adapter to run the sweeper loop.
// It constructs the sweeper service and runs the cleanup loop.
type Runner struct {
	sweeper *service.SweeperService
	logger  *slog.Logger
	metrics statsd.Sink
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.SweeperConfig
	Logger *slog.Logger

	// Optional dependency injection for testing/decoupling
	Jobs    core.JobRepository
	Tasks   core.TaskRepository
	Metrics statsd.Sink
}

// NewRunner creates a new sweeper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	sweeperSvc, err := wireSweeperService(opts)
	if err != nil {
		return nil, fmt.Errorf("wire sweeper service: %w", err)
	}

	return &Runner{
		sweeper: sweeperSvc,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && (opts.Jobs == nil || opts.Tasks == nil) {
		return errors.New("database connection is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return nil
}

// wireSweeperService wires up all dependencies for the sweeper service.
func wireSweeperService(opts RunnerOptions) (*service.SweeperService, error) {
	jobs := opts.Jobs
	if jobs == nil {
		jobs = data.NewJobRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
	}
	tasks := opts.Tasks
	if tasks == nil {
		tasks = data.NewTaskRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
	}

	return service.NewSweeperService(service.SweeperServiceOptions{
		Jobs:    jobs,
		Tasks:   tasks,
		Config:  opts.Config,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
}

// Run starts the sweeper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting sweeper runner")
	return r.sweeper.Run(ctx)
}
