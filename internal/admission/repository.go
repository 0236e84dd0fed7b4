package admission

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Repository is the key-value store behind admission. SetNX must be an atomic
// check-and-insert.
type Repository interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Count(ctx context.Context, prefix string) (int64, error)
}

type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	success, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return success, nil
}

func (r *RedisRepository) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis Del failed: %w", err)
	}
	return nil
}

func (r *RedisRepository) Count(ctx context.Context, prefix string) (int64, error) {
	iter := r.client.Scan(ctx, 0, prefix+"*", 500).Iterator()
	var count int64
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}

// MemoryRepository keeps records in process. Expired records are invisible to
// SetNX immediately and physically removed by Sweep.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]time.Time
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]time.Time),
		now:     time.Now,
	}
}

// WithClock replaces the time source; for tests.
func (r *MemoryRepository) WithClock(now func() time.Time) *MemoryRepository {
	r.now = now
	return r
}

func (r *MemoryRepository) SetNX(ctx context.Context, key string, _ interface{}, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if expiry, ok := r.records[key]; ok && now.Before(expiry) {
		return false, nil
	}
	r.records[key] = now.Add(ttl)
	return true, nil
}

func (r *MemoryRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	delete(r.records, key)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Count(_ context.Context, prefix string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var count int64
	for key, expiry := range r.records {
		if strings.HasPrefix(key, prefix) && now.Before(expiry) {
			count++
		}
	}
	return count, nil
}

// Sweep drops expired records and returns how many were removed.
func (r *MemoryRepository) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for key, expiry := range r.records {
		if !now.Before(expiry) {
			delete(r.records, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (r *MemoryRepository) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
