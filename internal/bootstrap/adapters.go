package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/draftmill/draftmill/config"
	"github.com/draftmill/draftmill/internal/adapters/engine"
	"github.com/draftmill/draftmill/internal/adapters/poller"
	"github.com/draftmill/draftmill/internal/adapters/sweeper"
	"github.com/draftmill/draftmill/internal/observability/statsd"
	"github.com/draftmill/draftmill/internal/worker"
)

// newWorkerClient builds the shared worker service client. The transport
// timeout bounds every call; the engine layers its own per-stage deadline
// on top of it.
func newWorkerClient(cfg config.WorkerConfig, logger *slog.Logger) (*worker.HTTPClient, error) {
	return worker.NewHTTPClient(worker.HTTPClientOptions{
		BaseURL: cfg.BaseURL,
		Client:  &http.Client{Timeout: cfg.RequestTimeout},
		Logger:  logger,
	})
}

// EngineRunnerConfig contains configuration for the pipeline engine.
type EngineRunnerConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Engine  config.EngineConfig
	Worker  config.WorkerConfig
	Metrics statsd.Sink
}

// RunEngine starts the pipeline engine service.
func RunEngine(ctx context.Context, cfg EngineRunnerConfig) error {
	client, err := newWorkerClient(cfg.Worker, cfg.Logger)
	if err != nil {
		return fmt.Errorf("create worker client: %w", err)
	}

	runner, err := engine.NewRunner(engine.RunnerOptions{
		DB:       cfg.DB,
		Config:   cfg.Engine,
		Registry: worker.NewHTTPRegistry(client),
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create engine runner: %w", err)
	}

	return runner.Run(ctx)
}

// PollerRunnerConfig contains configuration for the task poller.
type PollerRunnerConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Poller  config.PollerConfig
	Queue   config.QueueConfig
	Worker  config.WorkerConfig
	Metrics statsd.Sink
}

// RunPoller starts the task poller service.
func RunPoller(ctx context.Context, cfg PollerRunnerConfig) error {
	client, err := newWorkerClient(cfg.Worker, cfg.Logger)
	if err != nil {
		return fmt.Errorf("create worker client: %w", err)
	}

	runner, err := poller.NewRunner(poller.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Poller,
		Queue:   cfg.Queue,
		Client:  client,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create poller runner: %w", err)
	}

	return runner.Run(ctx)
}

// SweeperRunnerConfig contains configuration for the sweeper.
type SweeperRunnerConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.SweeperConfig
	Metrics statsd.Sink
}

// RunSweeper starts the sweeper service.
func RunSweeper(ctx context.Context, cfg SweeperRunnerConfig) error {
	runner, err := sweeper.NewRunner(sweeper.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create sweeper runner: %w", err)
	}

	return runner.Run(ctx)
}
