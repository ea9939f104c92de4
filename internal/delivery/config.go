package delivery

import "time"

// RedeliveryConfig controls the tracker's exponential backoff, the
// scheduler's redelivery loop, and the tracker's per-subscription pending
// queue bound. Defaults mirror the reference implementation
// (original_source/crates/cauce-server-sdk/src/config/redelivery.rs and
// .../config/limits.rs's max_pending_signals_per_subscription).
type RedeliveryConfig struct {
	Enabled           bool
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	MaxAttempts       int
	DeadLetterTopic   string // empty: derive from the original topic

	// MaxPendingPerSubscription bounds the number of in-flight (pending)
	// deliveries a single subscription may accumulate. Zero means
	// unbounded.
	MaxPendingPerSubscription int
	// RejectOnPendingLimit selects the back-pressure policy once a
	// subscription's pending queue is full: false (default) drops the
	// oldest pending delivery to make room; true rejects the new one,
	// leaving Track to report domain.ErrLimitExceeded.
	RejectOnPendingLimit bool
}

func DefaultRedeliveryConfig() RedeliveryConfig {
	return RedeliveryConfig{
		Enabled:           true,
		InitialDelay:      5 * time.Second,
		MaxDelay:          300 * time.Second,
		BackoffMultiplier: 2.0,
		MaxAttempts:       5,
	}
}

// Delay returns the backoff for the given 1-indexed attempt count, per
// spec: delay(attempt) = min(initial_delay * multiplier^(attempt-1), max_delay).
func (c RedeliveryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffMultiplier
	}
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// ShouldAttempt reports whether attempt is still within the retry budget.
func (c RedeliveryConfig) ShouldAttempt(attempt int) bool {
	return c.Enabled && attempt < c.MaxAttempts
}
