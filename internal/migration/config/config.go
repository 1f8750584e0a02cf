package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v6"

	"mongomirror/internal/migration/domain/model"
)

// ThreadsAuto sizes the capture pool at one worker per collection.
const ThreadsAuto = "auto"

// Config holds all migration engine settings, loaded from the environment.
type Config struct {
	SourceURI string `env:"SOURCE_URI"`
	TargetURI string `env:"TARGET_URI"`

	// CollectionsFile is the JSON list of CollectionSpec entries.
	CollectionsFile string `env:"COLLECTIONS_FILE" envDefault:"collections.json"`

	// Performance settings
	BatchSize   int    `env:"BATCH_SIZE" envDefault:"1000"`
	Concurrency int    `env:"CONCURRENCY" envDefault:"4"`
	Threads     string `env:"THREADS" envDefault:"auto"`

	// CDC settings
	PollingInterval      time.Duration `env:"POLLING_INTERVAL" envDefault:"5s"`
	ForceRefresh         bool          `env:"CDC_FORCE_REFRESH" envDefault:"false"`
	StreamCommitInterval int           `env:"STREAM_COMMIT_INTERVAL" envDefault:"100"`
	MaxWorkerRestarts    int           `env:"MAX_WORKER_RESTARTS" envDefault:"5"`
	ShutdownGrace        time.Duration `env:"SHUTDOWN_GRACE" envDefault:"30s"`

	// Reliability settings
	RetryLimit      int           `env:"RETRY_LIMIT" envDefault:"5"`
	RetryBaseDelay  time.Duration `env:"RETRY_DELAY" envDefault:"2s"`
	RetryMultiplier float64       `env:"RETRY_MULTIPLIER" envDefault:"2.0"`
	RetryMaxDelay   time.Duration `env:"RETRY_MAX_DELAY" envDefault:"1m"`

	// Verification settings
	VerifySampleSize     int `env:"VERIFY_SAMPLE_SIZE" envDefault:"100"`
	DeletionSampleSize   int `env:"DELETION_SAMPLE_SIZE" envDefault:"100"`
	DeletionSampleForced int `env:"DELETION_SAMPLE_FORCED" envDefault:"1000"`

	// Directory settings
	CheckpointDir string `env:"CHECKPOINT_DIR" envDefault:"progress"`
	FailedDocDir  string `env:"LOG_DIR" envDefault:"logs"`

	// Optional external monitoring via Redis Streams; disabled when unset.
	RedisAddr           string `env:"REDIS_ADDR"`
	RedisProgressStream string `env:"REDIS_PROGRESS_STREAM" envDefault:"mongomirror:progress"`
}

// Load reads configuration from environment variables and applies defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.New("failed to load migration configuration from environment: " + err.Error())
	}

	if cfg.SourceURI == "" {
		return nil, errors.New("SOURCE_URI environment variable is not set")
	}
	if cfg.TargetURI == "" {
		return nil, errors.New("TARGET_URI environment variable is not set")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 5 * time.Second
	}
	if _, err := cfg.workerCount(1); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WorkerCount resolves the capture pool size for the given number of
// collections: one per collection in auto mode, otherwise min(N, collections).
func (c *Config) WorkerCount(collections int) int {
	n, err := c.workerCount(collections)
	if err != nil {
		return collections
	}
	return n
}

func (c *Config) workerCount(collections int) (int, error) {
	if c.Threads == "" || c.Threads == ThreadsAuto {
		return collections, nil
	}
	n, err := strconv.Atoi(c.Threads)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid THREADS value %q: expected %q or a positive integer", c.Threads, ThreadsAuto)
	}
	if n > collections {
		return collections, nil
	}
	return n, nil
}

// VerificationMode resolves how deep the verify mode compares: a force
// refresh requests the exhaustive walk, otherwise sampling.
func (c *Config) VerificationMode() model.VerificationMode {
	if c.ForceRefresh {
		return model.VerifyExhaustive
	}
	return model.VerifySampled
}

// LoadCollections reads and validates the ordered list of CollectionSpec
// entries from a JSON file.
func LoadCollections(path string) ([]model.CollectionSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read collections file %s: %w", path, err)
	}

	var specs []model.CollectionSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("failed to parse collections file %s: %w", path, err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("collections file %s lists no collections", path)
	}

	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("invalid collection config at index %d: %w", i, err)
		}
	}
	return specs, nil
}
