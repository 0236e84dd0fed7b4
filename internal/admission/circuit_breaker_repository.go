package admission

import (
	"context"
	"fmt"
	"time"

	"devpulse/internal/config"
	"devpulse/pkg/circuitbreaker"
)

const breakerName = "admission-store"

// CircuitBreakerRepository fails fast while the wrapped store keeps failing,
// so admission answers 503 instead of queueing on a dead Redis.
type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Breaker
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	return &CircuitBreakerRepository{
		repo: repo,
		cb:   circuitbreaker.FromConfig(breakerName, cfg),
	}
}

func (r *CircuitBreakerRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	ok, err := circuitbreaker.Do(ctx, r.cb, func() (bool, error) {
		return r.repo.SetNX(ctx, key, value, ttl)
	})
	return ok, r.wrap(err)
}

func (r *CircuitBreakerRepository) Delete(ctx context.Context, key string) error {
	_, err := circuitbreaker.Do(ctx, r.cb, func() (struct{}, error) {
		return struct{}{}, r.repo.Delete(ctx, key)
	})
	return r.wrap(err)
}

func (r *CircuitBreakerRepository) Count(ctx context.Context, prefix string) (int64, error) {
	n, err := circuitbreaker.Do(ctx, r.cb, func() (int64, error) {
		return r.repo.Count(ctx, prefix)
	})
	return n, r.wrap(err)
}

func (r *CircuitBreakerRepository) State() string {
	return r.cb.State()
}

func (r *CircuitBreakerRepository) IsOpen() bool {
	return r.cb.IsOpen()
}

func (r *CircuitBreakerRepository) wrap(err error) error {
	if err == nil {
		return nil
	}
	if circuitbreaker.IsRejected(err) {
		return fmt.Errorf("circuit breaker is open for %s: %w", breakerName, err)
	}
	return err
}
