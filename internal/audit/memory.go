package audit

import (
	"context"
	"sync"

	"devpulse/pkg/models"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records []models.AuditRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, record models.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record.Details = copyDetails(record.Details)

	s.mu.Lock()
	s.records = append(s.records, record)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]models.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AuditRecord, 0)
	for _, r := range s.records {
		if !filter.matches(r) {
			continue
		}
		r.Details = copyDetails(r.Details)
		out = append(out, r)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func copyDetails(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
