package batch

import (
	"fmt"
	"time"
)

// Default schedule, sized for tracker quotas that throttle bursts of writes.
const (
	DefaultMaxConcurrent = 3
	DefaultBatchSize     = 3
	DefaultStartDelay    = 3 * time.Second
	DefaultBatchPause    = 10 * time.Second
	DefaultMaxRetries    = 2
	DefaultBaseDelay     = 3 * time.Second
	DefaultMultiplier    = 1.0
)

// RetryPolicy controls retries of transient failures.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	Multiplier float64       `json:"multiplier"`
}

// Backoff returns the pause after the given failed attempt (1-based):
// BaseDelay * attempt * Multiplier.
func (r RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	m := r.Multiplier
	if m <= 0 {
		m = 1
	}
	return time.Duration(float64(r.BaseDelay) * float64(attempt) * m)
}

// Policy is the executor schedule.
type Policy struct {
	MaxConcurrent int           `json:"max_concurrent"`
	BatchSize     int           `json:"batch_size"`
	StartDelay    time.Duration `json:"start_delay"`
	BatchPause    time.Duration `json:"batch_pause"`
	Retry         RetryPolicy   `json:"retry"`
}

// DefaultPolicy returns the production schedule.
func DefaultPolicy() Policy {
	return Policy{
		MaxConcurrent: DefaultMaxConcurrent,
		BatchSize:     DefaultBatchSize,
		StartDelay:    DefaultStartDelay,
		BatchPause:    DefaultBatchPause,
		Retry: RetryPolicy{
			MaxRetries: DefaultMaxRetries,
			BaseDelay:  DefaultBaseDelay,
			Multiplier: DefaultMultiplier,
		},
	}
}

// ImmediatePolicy runs one operation at a time with no delays.
// Used by the scenario harness for deterministic traces.
func ImmediatePolicy() Policy {
	return Policy{
		MaxConcurrent: 1,
		BatchSize:     DefaultBatchSize,
		Retry:         RetryPolicy{MaxRetries: DefaultMaxRetries, Multiplier: 1},
	}
}

// Validate reports nonsensical schedules.
func (p Policy) Validate() error {
	if p.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1, got %d", p.MaxConcurrent)
	}
	if p.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1, got %d", p.BatchSize)
	}
	if p.StartDelay < 0 || p.BatchPause < 0 || p.Retry.BaseDelay < 0 {
		return fmt.Errorf("delays must not be negative")
	}
	if p.Retry.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", p.Retry.MaxRetries)
	}
	return nil
}
