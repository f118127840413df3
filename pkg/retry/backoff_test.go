package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fatalTestError struct{ msg string }

func (e *fatalTestError) Error() string { return e.msg }
func (e *fatalTestError) IsFatal() bool { return true }

func fakeSleep(delays *[]time.Duration) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestCalculateBackoffDuration(t *testing.T) {
	tests := []struct {
		name     string
		attempt  int
		initial  time.Duration
		mult     float64
		expected time.Duration
	}{
		{name: "first delay is the base", attempt: 0, initial: 250 * time.Millisecond, mult: 2.0, expected: 250 * time.Millisecond},
		{name: "second delay doubles", attempt: 1, initial: 250 * time.Millisecond, mult: 2.0, expected: 500 * time.Millisecond},
		{name: "third delay quadruples", attempt: 2, initial: 250 * time.Millisecond, mult: 2.0, expected: time.Second},
		{name: "multiplier one is constant", attempt: 5, initial: time.Second, mult: 1.0, expected: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CalculateBackoffDuration(tt.attempt, tt.initial, tt.mult))
		})
	}
}

func TestDoWithBackoffSucceedsFirstTry(t *testing.T) {
	var delays []time.Duration
	calls := 0

	err := DoWithBackoff(context.Background(), 3, 250*time.Millisecond, 2.0, fakeSleep(&delays),
		func(ctx context.Context) error {
			calls++
			return nil
		}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestDoWithBackoffExhaustsAttempts(t *testing.T) {
	var delays []time.Duration
	calls := 0
	failure := errors.New("downstream unavailable")

	err := DoWithBackoff(context.Background(), 3, 250*time.Millisecond, 2.0, fakeSleep(&delays),
		func(ctx context.Context) error {
			calls++
			return failure
		}, nil)

	require.Error(t, err)
	assert.Equal(t, failure, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 500 * time.Millisecond}, delays)
}

func TestDoWithBackoffRecoversMidway(t *testing.T) {
	var delays []time.Duration
	calls := 0

	err := DoWithBackoff(context.Background(), 5, 100*time.Millisecond, 2.0, fakeSleep(&delays),
		func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return fmt.Errorf("attempt %d failed", calls)
			}
			return nil
		}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestDoWithBackoffFatalAborts(t *testing.T) {
	var delays []time.Duration
	calls := 0
	fatal := &fatalTestError{msg: "contract violation"}

	err := DoWithBackoff(context.Background(), 3, 100*time.Millisecond, 2.0, fakeSleep(&delays),
		func(ctx context.Context) error {
			calls++
			return fatal
		}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestDoWithBackoffOnRetryCallback(t *testing.T) {
	var delays []time.Duration
	var attempts []int

	_ = DoWithBackoff(context.Background(), 3, 250*time.Millisecond, 2.0, fakeSleep(&delays),
		func(ctx context.Context) error {
			return errors.New("still failing")
		},
		func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
			assert.Error(t, err)
		})

	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoWithBackoffCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := DoWithBackoff(ctx, 3, time.Millisecond, 2.0, nil,
		func(ctx context.Context) error {
			calls++
			return errors.New("never reached")
		}, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestSleepRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}
