package sqlite

import (
	"math/rand"
	"strings"
	"time"
)

// RetryConfig bounds the backoff applied to serialization-class sqlite
// failures at the unit-of-work seam. The zero value disables retries;
// stores default to DefaultRetryConfig and callers override it with
// WithRetryConfig.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	JitterPct  float64
}

// DefaultRetryConfig is the store default: 5 retries, 50ms base, 25%
// jitter. Worst case adds roughly two seconds to a contended commit.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		BaseDelay:  50 * time.Millisecond,
		JitterPct:  0.25,
	}
}

// Do runs fn, retrying only when the failure is a locked database.
// Anything else (constraint violations, context errors, corruption)
// surfaces immediately.
func (cfg RetryConfig) Do(fn func() error) error {
	return cfg.do(fn, time.Sleep)
}

func (cfg RetryConfig) do(fn func() error, sleepFn func(time.Duration)) error {
	err := fn()
	if err == nil {
		return nil
	}
	if !isDBLocked(err) {
		return err
	}

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		delay := cfg.BaseDelay * (1 << (attempt - 1))
		jitter := time.Duration(float64(delay) * rand.Float64() * cfg.JitterPct)
		sleepFn(delay + jitter)

		err = fn()
		if err == nil {
			return nil
		}
		if !isDBLocked(err) {
			return err
		}
	}
	return err
}

func isDBLocked(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}
