package mcpclient

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy is pure backoff configuration: no I/O, no clock drift. The
// delay before attempt n (1-indexed) is min(Initial * Multiplier^(n-1), Max).
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the delay after the first failed attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the computed delay.
	MaxBackoff time.Duration

	// Multiplier grows the delay between attempts, typically 2.
	Multiplier float64
}

// DefaultRetryPolicy returns 3 attempts, 100ms initial, 10s cap, factor 2.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
	}
}

// NoRetry returns a policy that makes exactly one attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, Multiplier: 1}
}

// Backoff returns the delay preceding attempt n (1-indexed, so Backoff(1) is
// the delay after the first failure). n < 1 yields zero.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 1 || p.InitialBackoff <= 0 {
		return 0
	}
	d := time.Duration(float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(n-1)))
	if d > p.MaxBackoff || d <= 0 {
		return p.MaxBackoff
	}
	return d
}

// Do runs fn until it succeeds, exhausts MaxAttempts, or fails with a
// non-retryable error, which is returned immediately without consuming the
// remaining attempts. Context cancellation aborts the wait between attempts.
func (p RetryPolicy) Do(ctx context.Context, logger *zap.Logger, name string, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry",
					zap.String("op", name), zap.Int("attempt", attempt))
			}
			return nil
		}
		if !IsRetryable(err) {
			logger.Debug("operation failed with permanent error",
				zap.String("op", name), zap.Error(err))
			return err
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		delay := p.Backoff(attempt)
		logger.Warn("operation failed, backing off",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	logger.Warn("operation failed after all attempts",
		zap.String("op", name), zap.Int("attempts", attempts), zap.Error(lastErr))
	return lastErr
}
