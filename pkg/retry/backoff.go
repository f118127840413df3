package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func ExponentialBackoff(initialInterval, maxInterval time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = 0
	return exp
}

func ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	return exp
}

// CalculateBackoffDuration returns initialInterval * multiplier^attempt,
// where attempt counts completed failed attempts starting at zero.
func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64) time.Duration {
	return time.Duration(float64(initialInterval) * math.Pow(multiplier, float64(attempt)))
}

// SleepFunc suspends for d or until ctx is done. Injectable so tests can
// record delays without waiting on the wall clock.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default context-aware SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DoWithBackoff runs fn up to attempts times, sleeping
// initialInterval * multiplier^i after failed attempt i. onRetry is invoked
// before each sleep with the upcoming delay. The last error is returned when
// every attempt fails; a context error aborts the loop immediately.
func DoWithBackoff(
	ctx context.Context,
	attempts int,
	initialInterval time.Duration,
	multiplier float64,
	sleep SleepFunc,
	fn func(ctx context.Context) error,
	onRetry func(attempt int, err error, delay time.Duration),
) error {
	if attempts < 1 {
		attempts = 1
	}
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var fatalErr FatalError
		if errors.As(lastErr, &fatalErr) {
			return lastErr
		}

		if attempt == attempts-1 {
			break
		}

		delay := CalculateBackoffDuration(attempt, initialInterval, multiplier)
		if onRetry != nil {
			onRetry(attempt+1, lastErr, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}
