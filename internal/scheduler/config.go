package scheduler

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("scheduler: missing required dependency")

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval       time.Duration
	DispatchBatchSize int
	RecoveryBatchSize int
	ExpiryBatchSize   int
	JobTimeout        time.Duration
	RecoveryLockTTL   time.Duration
	EnabledJobs       []string
	Disabled          bool
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       15 * time.Second,
		DispatchBatchSize: 25,
		RecoveryBatchSize: 10,
		ExpiryBatchSize:   50,
		JobTimeout:        10 * time.Minute,
		RecoveryLockTTL:   5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.DispatchBatchSize <= 0 {
		c.DispatchBatchSize = defaults.DispatchBatchSize
	}
	if c.RecoveryBatchSize <= 0 {
		c.RecoveryBatchSize = defaults.RecoveryBatchSize
	}
	if c.ExpiryBatchSize <= 0 {
		c.ExpiryBatchSize = defaults.ExpiryBatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.RecoveryLockTTL <= 0 {
		c.RecoveryLockTTL = defaults.RecoveryLockTTL
	}
	return c
}

// ProvideConfig builds the scheduler config from the environment.
func ProvideConfig() Config {
	cfg := Config{
		RunInterval:       envDuration("SCHEDULER_RUN_INTERVAL"),
		DispatchBatchSize: envInt("SCHEDULER_DISPATCH_BATCH_SIZE"),
		RecoveryBatchSize: envInt("SCHEDULER_RECOVERY_BATCH_SIZE"),
		ExpiryBatchSize:   envInt("SCHEDULER_EXPIRY_BATCH_SIZE"),
		JobTimeout:        envDuration("SCHEDULER_JOB_TIMEOUT"),
		RecoveryLockTTL:   envDuration("SCHEDULER_RECOVERY_LOCK_TTL"),
		Disabled:          envBool("SCHEDULER_DISABLED"),
	}
	if raw := strings.TrimSpace(os.Getenv("SCHEDULER_ENABLED_JOBS")); raw != "" {
		for _, job := range strings.Split(raw, ",") {
			if job = strings.TrimSpace(job); job != "" {
				cfg.EnabledJobs = append(cfg.EnabledJobs, job)
			}
		}
	}
	return cfg
}

func envDuration(key string) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return false
	}
	return v
}
