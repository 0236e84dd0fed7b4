package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"devpulse/internal/config"
	"devpulse/internal/logger"
	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/metrics"
	"devpulse/pkg/models"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Tracker is the delivery tracker and admission audit log. It stamps
// records and forwards them to the store; it never edits stored records.
type Tracker struct {
	store  Store
	cfg    config.AuditConfig
	logger logger.Logger
	newID  func() string
}

func NewTracker(store Store, cfg config.AuditConfig, log logger.Logger) *Tracker {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = maxLimit
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}
	return &Tracker{
		store:  store,
		cfg:    cfg,
		logger: log,
		newID:  uuid.NewString,
	}
}

func (t *Tracker) Record(ctx context.Context, record models.AuditRecord) error {
	if record.ID == "" {
		record.ID = t.newID()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}

	if err := t.store.Append(ctx, record); err != nil {
		metrics.AuditRecordsTotal.WithLabelValues(string(record.Kind), "error").Inc()
		return apperrors.ErrServiceUnavailable.
			WithMessage("audit store unavailable").
			WithCause(err)
	}
	metrics.AuditRecordsTotal.WithLabelValues(string(record.Kind), "success").Inc()
	return nil
}

// RecordAdmission appends an admission outcome. Store failures are logged
// only: an audit outage must not change what the provider is told.
func (t *Tracker) RecordAdmission(ctx context.Context, record models.AuditRecord) {
	if err := t.Record(ctx, record); err != nil {
		t.logger.ErrorwCtx(ctx, "Failed to record admission outcome",
			"provider", record.Provider,
			"delivery_id", record.DeliveryID,
			"outcome", record.Outcome,
			"error", err,
		)
	}
}

func (t *Tracker) Query(ctx context.Context, filter Filter) ([]models.AuditRecord, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, apperrors.ErrValidation.WithMessage("from must be before to")
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = t.cfg.DefaultLimit
	case filter.Limit > t.cfg.MaxLimit:
		filter.Limit = t.cfg.MaxLimit
	}

	records, err := t.store.Query(ctx, filter)
	if err != nil {
		return nil, apperrors.ErrServiceUnavailable.
			WithMessage("audit store unavailable").
			WithCause(err)
	}
	return records, nil
}

// DeadLetters lists delivery attempts that exhausted their retries.
func (t *Tracker) DeadLetters(ctx context.Context, filter Filter) ([]models.AuditRecord, error) {
	filter.Kind = models.AuditKindDelivery
	filter.Outcome = string(models.StateDeadLettered)
	return t.Query(ctx, filter)
}
