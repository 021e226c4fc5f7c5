package hunt

import (
	"context"
	"time"
)

// Default abuse-control knobs; overridable through config.
const (
	DefaultRateLimitWindow    = 15 * time.Minute
	DefaultRateLimitThreshold = 10
)

// RateLimitVerdict is the result of a pre-claim rate-limit check.
type RateLimitVerdict struct {
	Allowed   bool
	Remaining int
	// ResetAt is the moment the oldest qualifying failure leaves the window.
	// Only set when failures exist in the window.
	ResetAt *time.Time
}

// RateLimiter throttles users by counting failed attempts in a sliding
// window. It is a pure read over the failure log: the window is recomputed
// from the log tail on every call, so continuous sliding and admin clears
// both take effect immediately. The caller records the attempt itself after
// the outcome is known.
type RateLimiter struct {
	log       FailureLog
	window    time.Duration
	threshold int
}

// NewRateLimiter builds a limiter; zero-value knobs fall back to defaults.
func NewRateLimiter(log FailureLog, window time.Duration, threshold int) *RateLimiter {
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	if threshold <= 0 {
		threshold = DefaultRateLimitThreshold
	}
	return &RateLimiter{log: log, window: window, threshold: threshold}
}

// Check reports whether userID may attempt a claim at now.
func (l *RateLimiter) Check(ctx context.Context, userID string, now time.Time) (RateLimitVerdict, error) {
	count, oldest, err := l.log.FailuresSince(ctx, userID, now.Add(-l.window))
	if err != nil {
		return RateLimitVerdict{}, err
	}
	v := RateLimitVerdict{
		Allowed:   count < l.threshold,
		Remaining: l.threshold - count,
	}
	if v.Remaining < 0 {
		v.Remaining = 0
	}
	if count > 0 {
		reset := oldest.Add(l.window)
		v.ResetAt = &reset
	}
	return v, nil
}

// Window exposes the configured window duration.
func (l *RateLimiter) Window() time.Duration { return l.window }
