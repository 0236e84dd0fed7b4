package admission

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"devpulse/internal/config"
	"devpulse/internal/logger"
	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/metrics"
	"devpulse/pkg/tracing"
)

type Decision int

const (
	Admitted Decision = iota
	Duplicate
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Service decides whether a provider delivery enters the pipeline. The store
// is the only shared mutable state across requests, so every decision is a
// single SetNX.
type Service struct {
	repo   Repository
	cfg    config.AdmissionConfig
	logger logger.Logger
}

func NewService(repo Repository, cfg config.AdmissionConfig, log logger.Logger) *Service {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "admit:"
	}
	return &Service{
		repo:   repo,
		cfg:    cfg,
		logger: log,
	}
}

func (s *Service) Key(provider, deliveryID string) string {
	return s.cfg.KeyPrefix + provider + ":" + deliveryID
}

// Admit records (provider, deliveryID) for the retention horizon. Any store
// failure yields ErrAdmissionUnavailable: the provider retries later rather
// than risking a second admission.
func (s *Service) Admit(ctx context.Context, provider, deliveryID string) (Decision, error) {
	ctx, span := tracing.GetTracer("admission").Start(ctx, "admission.admit")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.provider", provider),
		attribute.String("webhook.delivery_id", deliveryID),
	)

	if provider == "" || deliveryID == "" {
		return Duplicate, apperrors.ErrValidation.
			WithMessage("provider and delivery id are required").
			WithDetail("provider", provider)
	}

	start := time.Now()
	firstSeen := strconv.FormatInt(start.UnixMilli(), 10)
	ok, err := s.repo.SetNX(ctx, s.Key(provider, deliveryID), firstSeen, s.cfg.Retention)
	duration := time.Since(start)

	if err != nil {
		metrics.ObserveAdmissionDuration(duration, "error")
		metrics.AdmissionDecisionsTotal.WithLabelValues(provider, "unavailable").Inc()
		span.RecordError(err)
		s.logger.ErrorwCtx(ctx, "Admission store unavailable, rejecting delivery",
			"provider", provider,
			"delivery_id", deliveryID,
			"error", err,
		)
		return Duplicate, apperrors.ErrAdmissionUnavailable.
			WithCause(err).
			WithDetail("provider", provider)
	}

	metrics.ObserveAdmissionDuration(duration, "ok")

	if !ok {
		metrics.AdmissionDecisionsTotal.WithLabelValues(provider, Duplicate.String()).Inc()
		s.logger.DebugwCtx(ctx, "Duplicate delivery dropped", "provider", provider, "delivery_id", deliveryID)
		return Duplicate, nil
	}

	metrics.AdmissionDecisionsTotal.WithLabelValues(provider, Admitted.String()).Inc()
	return Admitted, nil
}

// Release forgets an admission whose event never entered the ordered
// pipeline, so the provider's retry is admitted instead of being dropped.
func (s *Service) Release(ctx context.Context, provider, deliveryID string) error {
	if err := s.repo.Delete(ctx, s.Key(provider, deliveryID)); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to release admission record",
			"provider", provider,
			"delivery_id", deliveryID,
			"error", err,
		)
		return apperrors.ErrAdmissionUnavailable.WithCause(err)
	}
	return nil
}

// RunMetrics periodically publishes the number of live records.
func (s *Service) RunMetrics(ctx context.Context) {
	interval := s.cfg.MetricsInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.repo.Count(ctx, s.cfg.KeyPrefix)
			if err != nil {
				s.logger.Debugw("Failed to count admission records", "error", err)
				continue
			}
			metrics.SetAdmissionRecords(count)
		}
	}
}
