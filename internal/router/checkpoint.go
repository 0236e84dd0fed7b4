package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// CheckpointStore persists the high-water mark per entity key: the last
// sequence handed to every consumer lane.
type CheckpointStore interface {
	Load(ctx context.Context, entityKey string) (uint64, error)
	Save(ctx context.Context, entityKey string, sequence uint64) error
}

// RedisCheckpointStore keeps all marks in one hash, one field per entity key.
type RedisCheckpointStore struct {
	client *redis.Client
	key    string
}

func NewRedisCheckpointStore(client *redis.Client, key string) *RedisCheckpointStore {
	if key == "" {
		key = "router:hwm"
	}
	return &RedisCheckpointStore{client: client, key: key}
}

func (s *RedisCheckpointStore) Load(ctx context.Context, entityKey string) (uint64, error) {
	val, err := s.client.HGet(ctx, s.key, entityKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis HGET failed: %w", err)
	}

	seq, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid checkpoint for %s: %w", entityKey, err)
	}
	return seq, nil
}

func (s *RedisCheckpointStore) Save(ctx context.Context, entityKey string, sequence uint64) error {
	if err := s.client.HSet(ctx, s.key, entityKey, sequence).Err(); err != nil {
		return fmt.Errorf("redis HSET failed: %w", err)
	}
	return nil
}

type MemoryCheckpointStore struct {
	mu    sync.RWMutex
	marks map[string]uint64
}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{marks: make(map[string]uint64)}
}

func (s *MemoryCheckpointStore) Load(_ context.Context, entityKey string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marks[entityKey], nil
}

func (s *MemoryCheckpointStore) Save(_ context.Context, entityKey string, sequence uint64) error {
	s.mu.Lock()
	if sequence > s.marks[entityKey] {
		s.marks[entityKey] = sequence
	}
	s.mu.Unlock()
	return nil
}
