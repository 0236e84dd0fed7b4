package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore grants at most one alert per (rule, entity) pair within a
// window. Acquire returns true when the caller may emit and the window starts.
// Release ends a window early, for alerts that were never handed off.
type CooldownStore interface {
	Acquire(ctx context.Context, ruleID, entityKey string, window time.Duration) (bool, error)
	Release(ctx context.Context, ruleID, entityKey string) error
}

func cooldownKey(prefix, ruleID, entityKey string) string {
	return prefix + ruleID + ":" + entityKey
}

type RedisCooldownStore struct {
	client *redis.Client
	prefix string
}

func NewRedisCooldownStore(client *redis.Client, prefix string) *RedisCooldownStore {
	if prefix == "" {
		prefix = "cooldown:"
	}
	return &RedisCooldownStore{client: client, prefix: prefix}
}

func (s *RedisCooldownStore) Acquire(ctx context.Context, ruleID, entityKey string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	ok, err := s.client.SetNX(ctx, cooldownKey(s.prefix, ruleID, entityKey), time.Now().UnixMilli(), window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire cooldown: %w", err)
	}
	return ok, nil
}

func (s *RedisCooldownStore) Release(ctx context.Context, ruleID, entityKey string) error {
	if err := s.client.Del(ctx, cooldownKey(s.prefix, ruleID, entityKey)).Err(); err != nil {
		return fmt.Errorf("failed to release cooldown: %w", err)
	}
	return nil
}

type MemoryCooldownStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryCooldownStore() *MemoryCooldownStore {
	return &MemoryCooldownStore{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryCooldownStore) WithClock(now func() time.Time) *MemoryCooldownStore {
	s.now = now
	return s
}

func (s *MemoryCooldownStore) Acquire(ctx context.Context, ruleID, entityKey string, window time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if window <= 0 {
		return true, nil
	}

	key := cooldownKey("", ruleID, entityKey)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.expires[key] = now.Add(window)

	// Opportunistic cleanup keeps the map bounded by live windows.
	if len(s.expires) > 1024 {
		for k, exp := range s.expires {
			if !now.Before(exp) {
				delete(s.expires, k)
			}
		}
	}
	return true, nil
}

func (s *MemoryCooldownStore) Release(ctx context.Context, ruleID, entityKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.expires, cooldownKey("", ruleID, entityKey))
	s.mu.Unlock()
	return nil
}
