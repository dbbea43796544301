package config

import (
	"reflect"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:  "single service - http",
			input: "http",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP: true,
			},
			expectError: false,
		},
		{
			name:  "single service - engine",
			input: "engine",
			expected: map[ServiceMode]bool{
				ServiceModeEngine: true,
			},
			expectError: false,
		},
		{
			name:  "single service - poller",
			input: "poller",
			expected: map[ServiceMode]bool{
				ServiceModePoller: true,
			},
			expectError: false,
		},
		{
			name:  "multiple services - http and engine",
			input: "http,engine",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeEngine: true,
			},
			expectError: false,
		},
		{
			name:  "all services",
			input: "http,engine,poller,sweeper",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:    true,
				ServiceModeEngine:  true,
				ServiceModePoller:  true,
				ServiceModeSweeper: true,
			},
			expectError: false,
		},
		{
			name:  "services with spaces",
			input: " http , engine , sweeper ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:    true,
				ServiceModeEngine:  true,
				ServiceModeSweeper: true,
			},
			expectError: false,
		},
		{
			name:  "duplicate services",
			input: "http,http,engine",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeEngine: true,
			},
			expectError: false,
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
		{
			name:        "only commas",
			input:       ",,,",
			expectError: true,
		},
		{
			name:        "invalid service name",
			input:       "http,websocket",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.expectError {
				if err == nil {
					t.Fatalf("ParseServices(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseServices(%q) unexpected error: %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("ParseServices(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestAppConfigDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("env.Parse: %v", err)
	}
	cfg.Sanitize()

	if cfg.Services != "http" {
		t.Errorf("Services = %q, want %q", cfg.Services, "http")
	}
	if cfg.Postgres.Host != "localhost" || cfg.Postgres.Port != 5432 {
		t.Errorf("Postgres defaults = %s:%d, want localhost:5432", cfg.Postgres.Host, cfg.Postgres.Port)
	}
	if cfg.Postgres.Name != "draftmill" {
		t.Errorf("Postgres.Name = %q, want %q", cfg.Postgres.Name, "draftmill")
	}
	if cfg.Engine.TickInterval != 5*time.Second {
		t.Errorf("Engine.TickInterval = %v, want 5s", cfg.Engine.TickInterval)
	}
	if cfg.Engine.StuckTimeout != 1*time.Hour {
		t.Errorf("Engine.StuckTimeout = %v, want 1h", cfg.Engine.StuckTimeout)
	}
	if cfg.Queue.MaxListLimit != 100 {
		t.Errorf("Queue.MaxListLimit = %d, want 100", cfg.Queue.MaxListLimit)
	}
	if cfg.Sweeper.Interval != 5*time.Minute {
		t.Errorf("Sweeper.Interval = %v, want 5m", cfg.Sweeper.Interval)
	}
	if cfg.Sweeper.BatchSize != 1000 {
		t.Errorf("Sweeper.BatchSize = %d, want 1000", cfg.Sweeper.BatchSize)
	}
	if !cfg.IsHTTPServerEnabled() {
		t.Error("IsHTTPServerEnabled() = false, want true with default services")
	}
	if cfg.IsEngineEnabled() {
		t.Error("IsEngineEnabled() = true, want false with default services")
	}
}

func TestEngineConfigSanitize(t *testing.T) {
	cfg := EngineConfig{
		TickInterval:    time.Millisecond,
		WorkerTimeout:   time.Second,
		StuckTimeout:    time.Second,
		RecoverInterval: time.Second,
	}
	cfg.Sanitize()

	if cfg.TickInterval != 100*time.Millisecond {
		t.Errorf("TickInterval = %v, want 100ms floor", cfg.TickInterval)
	}
	if cfg.WorkerTimeout != 5*time.Second {
		t.Errorf("WorkerTimeout = %v, want 5s floor", cfg.WorkerTimeout)
	}
	if cfg.StuckTimeout != 2*cfg.WorkerTimeout {
		t.Errorf("StuckTimeout = %v, want at least twice WorkerTimeout", cfg.StuckTimeout)
	}
	if cfg.RecoverInterval != time.Minute {
		t.Errorf("RecoverInterval = %v, want 1m floor", cfg.RecoverInterval)
	}
}

func TestQueueConfigSanitize(t *testing.T) {
	cfg := QueueConfig{MaxListLimit: 99999, StuckTimeout: time.Second}
	cfg.Sanitize()

	if cfg.MaxListLimit != 1000 {
		t.Errorf("MaxListLimit = %d, want 1000 ceiling", cfg.MaxListLimit)
	}
	if cfg.StuckTimeout != time.Minute {
		t.Errorf("StuckTimeout = %v, want 1m floor", cfg.StuckTimeout)
	}
}

func TestSweeperConfigSanitize(t *testing.T) {
	cfg := SweeperConfig{
		Interval:        time.Second,
		StuckTimeout:    time.Second,
		ReadyMaxAge:     time.Minute,
		PublishedMaxAge: time.Minute,
		FailedMaxAge:    time.Minute,
		TaskMaxAge:      time.Minute,
		BatchSize:       -5,
	}
	cfg.Sanitize()

	if cfg.Interval != time.Minute {
		t.Errorf("Interval = %v, want 1m floor", cfg.Interval)
	}
	if cfg.ReadyMaxAge != time.Hour {
		t.Errorf("ReadyMaxAge = %v, want 1h floor", cfg.ReadyMaxAge)
	}
	if cfg.BatchSize != 1 {
		t.Errorf("BatchSize = %d, want 1 floor", cfg.BatchSize)
	}
}
