// Package config loads and validates service configuration from the
// environment. Every knob has a built-in default so a bare environment
// yields a runnable local setup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the umbrella configuration object returned by Load() and
// threaded through the application at startup.
type Config struct {
	// StorageRoot is the filesystem root under which per-tenant and
	// per-job artifact trees are created.
	StorageRoot string

	// AdminSecret authenticates administrator requests.
	AdminSecret string

	Upstream  UpstreamConfig
	Session   SessionConfig
	Pipeline  PipelineConfig
	Scheduler SchedulerConfig
	Retention RetentionConfig
}

// UpstreamConfig controls the client for the browser-automation backend.
type UpstreamConfig struct {
	// BaseURL of the upstream HTTP API.
	BaseURL string

	// Timeout is the uniform upper bound applied to every upstream call.
	// Browser-driven flows are slow; the default is deliberately long.
	Timeout time.Duration
}

// SessionConfig controls upstream session acquisition and recovery.
type SessionConfig struct {
	// AcquireMaxRetries is the total number of acquisition attempts when
	// the upstream rejects credentials with 401.
	AcquireMaxRetries int

	// AcquireRetryDelay is the wait between 401'd acquisition attempts.
	AcquireRetryDelay time.Duration

	// CancelPollQuantum is how often a waiting acquisition wakes to check
	// whether a newer job has superseded this one.
	CancelPollQuantum time.Duration
}

// PipelineConfig controls the harvest pipeline executor.
type PipelineConfig struct {
	// CheckpointEvery is how many probed items are processed between
	// flushes of the filtered spreadsheet to disk.
	CheckpointEvery int

	// TruckingCompany is the fixed trucking company submitted with every
	// appointment probe.
	TruckingCompany string

	// TruckPlate is the placeholder plate submitted with every probe.
	TruckPlate string
}

// SchedulerConfig controls per-tenant periodic harvesting.
type SchedulerConfig struct {
	// DefaultFrequency is used when a tenant has no frequency configured.
	DefaultFrequency time.Duration
}

// RetentionConfig controls pruning of old jobs and their artifacts.
type RetentionConfig struct {
	// JobRetentionDays is how long terminal jobs and their artifact trees
	// are kept before being pruned.
	JobRetentionDays int

	// Interval is how often the retention sweep runs.
	Interval time.Duration
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StorageRoot: "storage",
		Upstream: UpstreamConfig{
			BaseURL: "http://localhost:5010",
			Timeout: 2400 * time.Second,
		},
		Session: SessionConfig{
			AcquireMaxRetries: 3,
			AcquireRetryDelay: 10 * time.Minute,
			CancelPollQuantum: 60 * time.Second,
		},
		Pipeline: PipelineConfig{
			CheckpointEvery: 5,
			TruckingCompany: "K & R TRANSPORTATION LLC",
			TruckPlate:      "ABC123",
		},
		Scheduler: SchedulerConfig{
			DefaultFrequency: 60 * time.Minute,
		},
		Retention: RetentionConfig{
			JobRetentionDays: 30,
			Interval:         6 * time.Hour,
		},
	}
}

// Load builds the configuration from environment variables, falling back
// to the defaults for anything unset.
func Load() (*Config, error) {
	cfg := Default()

	cfg.StorageRoot = getEnvOrDefault("STORAGE_ROOT", cfg.StorageRoot)
	cfg.AdminSecret = os.Getenv("ADMIN_SECRET")
	cfg.Upstream.BaseURL = getEnvOrDefault("UPSTREAM_BASE_URL", cfg.Upstream.BaseURL)

	if v, err := envSeconds("UPSTREAM_TIMEOUT_SECONDS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.Upstream.Timeout = v
	}
	if v, err := envInt("SESSION_ACQUIRE_MAX_RETRIES"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.Session.AcquireMaxRetries = v
	}
	if v, err := envMinutes("SESSION_ACQUIRE_RETRY_MINUTES"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.Session.AcquireRetryDelay = v
	}
	if v, err := envInt("STAGE4_CHECKPOINT_EVERY"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.Pipeline.CheckpointEvery = v
	}
	if v, err := envMinutes("SCHEDULER_DEFAULT_FREQUENCY_MINUTES"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.Scheduler.DefaultFrequency = v
	}
	if v := os.Getenv("TRUCKING_COMPANY"); v != "" {
		cfg.Pipeline.TruckingCompany = v
	}
	if v := os.Getenv("TRUCK_PLATE"); v != "" {
		cfg.Pipeline.TruckPlate = v
	}
	if v, err := envInt("JOB_RETENTION_DAYS"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.Retention.JobRetentionDays = v
	}
	if v, err := envMinutes("CLEANUP_INTERVAL_MINUTES"); err != nil {
		return nil, err
	} else if v > 0 {
		cfg.Retention.Interval = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures deep inside the pipeline.
func (c *Config) Validate() error {
	if c.StorageRoot == "" {
		return fmt.Errorf("storage root must not be empty")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL must not be empty")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive, got %v", c.Upstream.Timeout)
	}
	if c.Session.AcquireMaxRetries < 1 {
		return fmt.Errorf("session acquire max retries must be >= 1, got %d", c.Session.AcquireMaxRetries)
	}
	if c.Session.CancelPollQuantum <= 0 {
		return fmt.Errorf("cancel poll quantum must be positive, got %v", c.Session.CancelPollQuantum)
	}
	if c.Pipeline.CheckpointEvery < 1 {
		return fmt.Errorf("checkpoint interval must be >= 1, got %d", c.Pipeline.CheckpointEvery)
	}
	if c.Scheduler.DefaultFrequency < time.Minute {
		return fmt.Errorf("scheduler default frequency must be >= 1m, got %v", c.Scheduler.DefaultFrequency)
	}
	if c.Retention.JobRetentionDays < 1 {
		return fmt.Errorf("job retention days must be >= 1, got %d", c.Retention.JobRetentionDays)
	}
	if c.Retention.Interval < time.Minute {
		return fmt.Errorf("cleanup interval must be >= 1m, got %v", c.Retention.Interval)
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envInt(key string) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envSeconds(key string) (time.Duration, error) {
	n, err := envInt(key)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func envMinutes(key string) (time.Duration, error) {
	n, err := envInt(key)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Minute, nil
}
