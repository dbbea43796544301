package config

import (
	"strings"
	"time"
)

// WorkerConfig contains worker service client configuration. Stage work and
// task execution are delegated to this external service over JSON/HTTP.
type WorkerConfig struct {
	// BaseURL is the worker service base URL.
	BaseURL string `env:"WORKER_BASE_URL" envDefault:"http://localhost:9090"`

	// RequestTimeout bounds a single worker service call at the transport
	// level. The engine applies its own per-invocation deadline on top.
	RequestTimeout time.Duration `env:"WORKER_REQUEST_TIMEOUT" envDefault:"5m"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	w.BaseURL = strings.TrimRight(strings.TrimSpace(w.BaseURL), "/")
	if w.RequestTimeout < 5*time.Second {
		w.RequestTimeout = 5 * time.Second
	}
}
