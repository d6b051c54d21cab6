package retry

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func recordingPolicy(delays *[]time.Duration) Policy {
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return p
}

func TestExponential(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, Exponential(100*time.Millisecond, 0))
	require.Equal(t, 200*time.Millisecond, Exponential(100*time.Millisecond, 1))
	require.Equal(t, 400*time.Millisecond, Exponential(100*time.Millisecond, 2))
	require.Equal(t, 100*time.Millisecond, Exponential(100*time.Millisecond, -4))
	require.Equal(t, time.Duration(0), Exponential(0, 3))
	require.Equal(t, time.Duration(math.MaxInt64), Exponential(time.Hour, 80))
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	var delays []time.Duration
	calls := 0
	err := Do(context.Background(), recordingPolicy(&delays), isTransient, func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	var delays []time.Duration
	permanent := errors.New("validation")
	calls := 0
	err := Do(context.Background(), recordingPolicy(&delays), isTransient, func(context.Context) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.NotErrorIs(t, err, ErrExhausted)
	require.Equal(t, 1, calls)
	require.Empty(t, delays)
}

func TestDoExhaustsBudget(t *testing.T) {
	var delays []time.Duration
	var retried []int
	policy := recordingPolicy(&delays)
	policy.OnRetry = func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) }
	calls := 0
	err := Do(context.Background(), policy, isTransient, func(context.Context) error {
		calls++
		return errTransient
	})
	require.ErrorIs(t, err, ErrExhausted)
	require.ErrorIs(t, err, errTransient)
	require.Equal(t, DefaultMaxAttempts, calls)
	require.Equal(t, []int{0, 1}, retried)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, DefaultPolicy(), isTransient, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestSleepWithContext(t *testing.T) {
	require.NoError(t, SleepWithContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, SleepWithContext(ctx, time.Hour), context.Canceled)
}
