// Package config defines service configuration structures and loading hooks.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Vote cache backends.
const (
	VoteCacheMemory = "memory"
	VoteCacheValkey = "valkey"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DBDriver is sqlite or postgres; DBDSN is the file path or connection string.
	DBDriver string `koanf:"db_driver"`
	DBDSN    string `koanf:"db_dsn"`
	DBDebug  bool   `koanf:"db_debug"`

	// VoteCache selects the voted cache backend: memory or valkey.
	VoteCache     string `koanf:"vote_cache"`
	ValkeyAddr    string `koanf:"valkey_addr"`
	VoteCacheSize int    `koanf:"vote_cache_size"`

	// EvaluationQueueSize bounds the pending member evaluation queue.
	EvaluationQueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of evaluation workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize bounds the pending-evaluation coalescer.
	DedupeSize int `koanf:"dedupe_size"`

	// RequirementTimeout bounds each requirement check.
	RequirementTimeout time.Duration `koanf:"requirement_timeout"`
	// EvalConcurrency caps concurrent requirement checks per group.
	EvalConcurrency int `koanf:"eval_concurrency"`

	// GuildID is the default guild for requests that omit one.
	GuildID string `koanf:"guild_id"`
	// ProjectRole upgrades an entry-tier grant to the second tier.
	ProjectRole string `koanf:"project_role"`
	// DryRun is the mode used by requests that do not set one.
	DryRun bool `koanf:"dry_run"`

	// HorizonURL is the Horizon server used to check that linked accounts
	// are funded. Empty trusts every well-formed key.
	HorizonURL string `koanf:"horizon_url"`

	// RolesFile is an optional YAML file of role definitions seeded at startup.
	RolesFile string `koanf:"roles_file"`
	// ExpirySweepInterval is how often stale nomination threads are closed.
	ExpirySweepInterval time.Duration `koanf:"expiry_sweep_interval"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		DBDriver:            "sqlite",
		DBDSN:               "ascent.db",
		VoteCache:           VoteCacheMemory,
		VoteCacheSize:       100_000,
		EvaluationQueueSize: 10_000,
		WorkerCount:         runtime.NumCPU() * 2,
		DedupeSize:          50_000,
		RequirementTimeout:  5 * time.Second,
		EvalConcurrency:     8,
		ProjectRole:         "Project",
		HorizonURL:          "https://horizon.stellar.org",
		ExpirySweepInterval: 10 * time.Minute,
	}
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DBDSN == "":
		return fmt.Errorf("%w: db_dsn must not be empty", ErrInvalidConfig)
	case c.EvaluationQueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalidConfig, c.EvaluationQueueSize)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive, got %d", ErrInvalidConfig, c.WorkerCount)
	case c.RequirementTimeout <= 0:
		return fmt.Errorf("%w: requirement_timeout must be positive", ErrInvalidConfig)
	case c.ExpirySweepInterval <= 0:
		return fmt.Errorf("%w: expiry_sweep_interval must be positive", ErrInvalidConfig)
	}
	switch strings.ToLower(c.DBDriver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("%w: unsupported db_driver %q", ErrInvalidConfig, c.DBDriver)
	}
	switch c.VoteCache {
	case VoteCacheMemory:
	case VoteCacheValkey:
		if c.ValkeyAddr == "" {
			return fmt.Errorf("%w: valkey_addr is required when vote_cache is valkey", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown vote_cache %q", ErrInvalidConfig, c.VoteCache)
	}
	return nil
}
