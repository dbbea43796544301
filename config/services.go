package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeEngine runs the pipeline engine loop.
	ServiceModeEngine ServiceMode = "engine"
	// ServiceModePoller runs the task queue poller.
	ServiceModePoller ServiceMode = "poller"
	// ServiceModeSweeper runs the housekeeping sweeper.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeEngine,
		ServiceModePoller,
		ServiceModeSweeper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP,
			ServiceModeEngine,
			ServiceModePoller,
			ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, engine, poller, sweeper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// EngineConfig contains pipeline engine configuration.
type EngineConfig struct {
	// TickInterval is the delay between engine cycles when no job was
	// available. A cycle that processed a job starts the next one immediately.
	TickInterval time.Duration `env:"ENGINE_TICK_INTERVAL" envDefault:"5s"`

	// WorkerTimeout bounds a single stage worker invocation.
	WorkerTimeout time.Duration `env:"ENGINE_WORKER_TIMEOUT" envDefault:"5m"`

	// StuckTimeout is how long a job may sit in a working stage without
	// progress before stuck recovery treats it as a failed attempt.
	StuckTimeout time.Duration `env:"ENGINE_STUCK_TIMEOUT" envDefault:"1h"`

	// RecoverInterval is how often the stuck-job recovery pass runs.
	RecoverInterval time.Duration `env:"ENGINE_RECOVER_INTERVAL" envDefault:"5m"`
}

// Sanitize applies guardrails to engine configuration values.
func (e *EngineConfig) Sanitize() {
	if e.TickInterval < 100*time.Millisecond {
		e.TickInterval = 100 * time.Millisecond
	}
	if e.WorkerTimeout < 5*time.Second {
		e.WorkerTimeout = 5 * time.Second
	}
	// StuckTimeout must exceed WorkerTimeout or healthy in-flight work would
	// be recovered out from under its worker.
	if e.StuckTimeout < 2*e.WorkerTimeout {
		e.StuckTimeout = 2 * e.WorkerTimeout
	}
	if e.RecoverInterval < 1*time.Minute {
		e.RecoverInterval = 1 * time.Minute
	}
}

// QueueConfig contains task queue configuration.
type QueueConfig struct {
	// MaxListLimit caps the number of pending tasks returned per listing.
	MaxListLimit int `env:"QUEUE_MAX_LIST_LIMIT" envDefault:"100"`

	// StuckTimeout is how long a claimed task may sit in processing before
	// the reset-stuck sweep returns it to pending or fails it.
	StuckTimeout time.Duration `env:"QUEUE_STUCK_TIMEOUT" envDefault:"1h"`
}

// Sanitize applies guardrails to queue configuration values.
func (q *QueueConfig) Sanitize() {
	if q.MaxListLimit < 1 {
		q.MaxListLimit = 1
	}
	if q.MaxListLimit > 1000 {
		q.MaxListLimit = 1000
	}
	if q.StuckTimeout < 1*time.Minute {
		q.StuckTimeout = 1 * time.Minute
	}
}

// PollerConfig contains task poller service configuration.
type PollerConfig struct {
	// Concurrency is the number of poller goroutines.
	Concurrency int `env:"POLLER_CONCURRENCY" envDefault:"2"`

	// PollInterval is the delay between polls when no task was claimed.
	PollInterval time.Duration `env:"POLLER_POLL_INTERVAL" envDefault:"2s"`

	// BatchSize is the number of pending tasks to list per poll.
	BatchSize int `env:"POLLER_BATCH_SIZE" envDefault:"10"`
}

// Sanitize applies guardrails to poller configuration values.
func (p *PollerConfig) Sanitize() {
	if p.Concurrency < 1 {
		p.Concurrency = 1
	}
	if p.PollInterval < 100*time.Millisecond {
		p.PollInterval = 100 * time.Millisecond
	}
	if p.BatchSize < 1 {
		p.BatchSize = 1
	}
}

// SweeperConfig contains housekeeping sweeper configuration.
type SweeperConfig struct {
	// Interval is the sweeper tick interval.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"5m"`

	// StuckTimeout is how long a task may sit in processing before the
	// sweeper resets or fails it.
	StuckTimeout time.Duration `env:"SWEEPER_STUCK_TIMEOUT" envDefault:"1h"`

	// ReadyMaxAge is the maximum age for ready jobs before deletion.
	// Ready articles awaiting publication are kept far longer than the
	// other terminal stages.
	ReadyMaxAge time.Duration `env:"SWEEPER_READY_MAX_AGE" envDefault:"720h"` // 30 days

	// PublishedMaxAge is the maximum age for published jobs before deletion.
	PublishedMaxAge time.Duration `env:"SWEEPER_PUBLISHED_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	FailedMaxAge time.Duration `env:"SWEEPER_FAILED_MAX_AGE" envDefault:"168h"` // 7 days

	// TaskMaxAge is the maximum age for completed/failed tasks before deletion.
	TaskMaxAge time.Duration `env:"SWEEPER_TASK_MAX_AGE" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"SWEEPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if s.Interval < 1*time.Minute {
		s.Interval = 1 * time.Minute
	}
	if s.StuckTimeout < 1*time.Minute {
		s.StuckTimeout = 1 * time.Minute
	}
	if s.ReadyMaxAge < 1*time.Hour {
		s.ReadyMaxAge = 1 * time.Hour
	}
	if s.PublishedMaxAge < 1*time.Hour {
		s.PublishedMaxAge = 1 * time.Hour
	}
	if s.FailedMaxAge < 1*time.Hour {
		s.FailedMaxAge = 1 * time.Hour
	}
	if s.TaskMaxAge < 1*time.Hour {
		s.TaskMaxAge = 1 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.BatchSize > 10000 {
		s.BatchSize = 10000
	}
}
