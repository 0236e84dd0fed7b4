package audit

import (
	"context"
	"time"

	"devpulse/pkg/metrics"
	"devpulse/pkg/models"
)

// Store is append-only: records are inserted and queried, never updated.
type Store interface {
	Append(ctx context.Context, record models.AuditRecord) error
	Query(ctx context.Context, filter Filter) ([]models.AuditRecord, error)
}

// Filter selects records; zero fields are ignored. Results are ordered by
// RecordedAt ascending so a delivery's history reads top to bottom.
type Filter struct {
	EventID    string
	EntityKey  string
	DeliveryID string
	Provider   string
	Target     string
	Kind       models.AuditKind
	Outcome    string
	From       time.Time
	To         time.Time
	Limit      int
}

func (f Filter) matches(r models.AuditRecord) bool {
	if f.EventID != "" && r.EventID != f.EventID {
		return false
	}
	if f.EntityKey != "" && r.EntityKey != f.EntityKey {
		return false
	}
	if f.DeliveryID != "" && r.DeliveryID != f.DeliveryID {
		return false
	}
	if f.Provider != "" && r.Provider != f.Provider {
		return false
	}
	if f.Target != "" && r.Target != f.Target {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if !f.From.IsZero() && r.RecordedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.RecordedAt.Before(f.To) {
		return false
	}
	return true
}

func observe(database, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery(database, operation, status)
	metrics.ObserveDatabaseQueryDuration(database, operation, time.Since(start))
}
