// Package scheduler assigns open tasks and dispatches assigned ones to a
// bounded worker pool.
package scheduler

import "time"

// Config defines the scheduler configuration.
type Config struct {
	// PollInterval is how often open and assigned tasks are scanned.
	PollInterval time.Duration `yaml:"poll_interval"`
	// GlobalMax is the maximum number of concurrent workers across all executors.
	GlobalMax int `yaml:"global_max"`
	// ByExecutor defines per-executor concurrency limits.
	ByExecutor map[string]int `yaml:"by_executor"`
	// AutoAssign runs an auction or team selection for every open task.
	AutoAssign bool `yaml:"auto_assign"`
	// MaxAttempts bounds execution attempts after transient failures. The
	// task is failed once they are used up.
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: time.Second,
		GlobalMax:    10,
		ByExecutor: map[string]int{
			"localexec": 5,
			"llmexec":   4,
		},
		AutoAssign:  true,
		MaxAttempts: 5,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  time.Minute,
	}
}

// GetExecutorLimit returns the concurrency limit for an executor.
func (c *Config) GetExecutorLimit(name string) int {
	if limit, ok := c.ByExecutor[name]; ok {
		return limit
	}
	// Default limit if not specified
	return 1
}

// Backoff returns the wait before the next attempt after the given number
// of failed attempts: BaseBackoff doubled per attempt, capped at MaxBackoff.
func (c *Config) Backoff(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := c.BaseBackoff
	for i := 1; i < failures; i++ {
		d *= 2
		if c.MaxBackoff > 0 && d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}
