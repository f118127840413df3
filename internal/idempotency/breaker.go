package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"warden/internal/config"
	"warden/pkg/circuitbreaker"
)

// BreakerStore wraps a Store with a circuit breaker so a failing external
// cache degrades quickly instead of stalling every worker on timeouts. The
// trigger treats store errors as "not found", so an open breaker simply
// disables duplicate suppression for a while.
type BreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

func NewBreakerStore(store Store, cfg config.StoreBreakerConfig) *BreakerStore {
	if !cfg.Enabled {
		return &BreakerStore{store: store}
	}

	cbConfig := circuitbreaker.DefaultConfig("idempotency-store")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}

	return &BreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *BreakerStore) Exists(ctx context.Context, key string) (bool, error) {
	if s.cb == nil {
		return s.store.Exists(ctx, key)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.Exists(ctx, key)
	})
	if err != nil {
		if s.cb.IsOpen() {
			return false, fmt.Errorf("circuit breaker is open for idempotency store: %w", err)
		}
		return false, err
	}

	found, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("store returned invalid result type")
	}
	return found, nil
}

func (s *BreakerStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.cb == nil {
		return s.store.Set(ctx, key, value, ttl)
	}

	_, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, s.store.Set(ctx, key, value, ttl)
	})
	if err != nil && s.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for idempotency store: %w", err)
	}
	return err
}

func (s *BreakerStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.cb == nil {
		return s.store.Get(ctx, key)
	}

	type getResult struct {
		value string
		found bool
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		value, found, getErr := s.store.Get(ctx, key)
		if getErr != nil {
			return nil, getErr
		}
		return getResult{value: value, found: found}, nil
	})
	if err != nil {
		if s.cb.IsOpen() {
			return "", false, fmt.Errorf("circuit breaker is open for idempotency store: %w", err)
		}
		return "", false, err
	}

	r, ok := result.(getResult)
	if !ok {
		return "", false, fmt.Errorf("store returned invalid result type")
	}
	return r.value, r.found, nil
}

// State reports the breaker state, "disabled" when no breaker is configured.
func (s *BreakerStore) State() string {
	if s.cb == nil {
		return "disabled"
	}
	return s.cb.State().String()
}
