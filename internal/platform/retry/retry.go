// Package retry re-runs an operation on transient failures using exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// DefaultMaxAttempts bounds the total number of attempts.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = 100 * time.Millisecond

	maxShift = 62
)

// ErrExhausted wraps the last error once the attempt budget is spent.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Classifier decides whether an error is transient.
type Classifier func(error) bool

// Policy configures the retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// OnRetry is called before sleeping, with the 0-based attempt that failed.
	OnRetry func(attempt int, delay time.Duration, err error)
	// Sleep is replaceable for tests; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy returns three attempts starting at 100ms.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Exponential returns base * 2^attempt, saturating instead of overflowing.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}
	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(int64(base) * multiplier)
}

// SleepWithContext sleeps for d or until ctx is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn until it succeeds, fails with a non-transient error, the context
// ends, or the policy's attempts are used up.
func Do(ctx context.Context, policy Policy, transient Classifier, fn func(context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = SleepWithContext
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return fmt.Errorf("%w (last error: %v)", ctxErr, err)
			}
			return ctxErr
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if transient == nil || !transient(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		delay := Exponential(policy.BaseDelay, attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, delay, err)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("%w (last error: %v)", sleepErr, err)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
}
