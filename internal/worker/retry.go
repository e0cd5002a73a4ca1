package worker

import (
	"time"

	"libris/internal/config"
)

// RetryPolicy is the exponential backoff schedule for relaying events.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// withDefaults fills unset fields. A MaxRetries from cfg wins over the
// policy's own.
func (r RetryPolicy) withDefaults(cfg config.EventsConfig) RetryPolicy {
	if cfg.MaxRetries > 0 {
		r.MaxRetries = cfg.MaxRetries
	}
	if r.MaxRetries <= 0 {
		r.MaxRetries = 5
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = 2 * time.Second
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = time.Minute
	}
	if r.BackoffFactor <= 1 {
		r.BackoffFactor = 2
	}
	return r
}

// Exhausted reports whether attempt failed pushes use up the budget.
func (r RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= r.MaxRetries
}

// NextDelay returns the wait before retry number attempt (1-based), capped
// at MaxDelay.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	base := r.InitialDelay
	if base <= 0 {
		base = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 1 {
		factor = 2
	}

	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= factor
		if r.MaxDelay > 0 && time.Duration(d) >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	if r.MaxDelay > 0 && time.Duration(d) > r.MaxDelay {
		return r.MaxDelay
	}
	return time.Duration(d)
}
