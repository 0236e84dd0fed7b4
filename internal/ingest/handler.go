package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"devpulse/internal/admission"
	"devpulse/internal/constants"
	"devpulse/internal/logger"
	"devpulse/internal/verifier"
	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/logging"
	"devpulse/pkg/metrics"
	"devpulse/pkg/models"
	"devpulse/pkg/tracing"
)

const defaultMaxBodyBytes = 1 << 20

type Verifier interface {
	Provider(name string) (verifier.Provider, error)
	Verify(ctx context.Context, provider string, body []byte, headers http.Header) error
}

type Admitter interface {
	Admit(ctx context.Context, provider, deliveryID string) (admission.Decision, error)
	Release(ctx context.Context, provider, deliveryID string) error
}

type Normalizer interface {
	Normalize(raw models.RawWebhookEvent) (models.CanonicalEvent, error)
}

type Submitter interface {
	Submit(ctx context.Context, event models.CanonicalEvent) (models.CanonicalEvent, error)
}

type Recorder interface {
	RecordAdmission(ctx context.Context, record models.AuditRecord)
}

// Response is the body returned for accepted and duplicate deliveries.
type Response struct {
	Status     string `json:"status"`
	EventID    string `json:"event_id,omitempty"`
	EntityKey  string `json:"entity_key,omitempty"`
	Sequence   uint64 `json:"sequence,omitempty"`
	DeliveryID string `json:"delivery_id,omitempty"`
}

// Handler runs a provider delivery through verification, admission,
// normalization and the ordered router, and maps the outcome to a status
// code the provider's retry logic understands.
type Handler struct {
	verifier     Verifier
	admitter     Admitter
	normalizer   Normalizer
	router       Submitter
	recorder     Recorder
	maxBodyBytes int64
	logger       logger.Logger
	now          func() time.Time
}

func NewHandler(v Verifier, a Admitter, n Normalizer, r Submitter, rec Recorder, maxBodyBytes int64, log logger.Logger) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{
		verifier:     v,
		admitter:     a,
		normalizer:   n,
		router:       r,
		recorder:     rec,
		maxBodyBytes: maxBodyBytes,
		logger:       log,
		now:          time.Now,
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter, middlewares ...gin.HandlerFunc) {
	handlers := append(append([]gin.HandlerFunc{}, middlewares...), h.Receive)
	router.POST("/webhooks/:provider", handlers...)
}

// Receive godoc
// @Summary      Receive a provider webhook
// @Description  Verifies, deduplicates and sequences a provider delivery
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        provider  path      string  true  "Provider tag (github, gitlab, bitbucket, terraform, kubernetes, cost)"
// @Success      200       {object}  Response
// @Failure      400       {object}  map[string]interface{}
// @Failure      401       {object}  map[string]interface{}
// @Failure      413       {object}  map[string]interface{}
// @Failure      503       {object}  map[string]interface{}
// @Router       /webhooks/{provider} [post]
func (h *Handler) Receive(c *gin.Context) {
	start := h.now()
	provider := c.Param("provider")

	ctx, span := tracing.GetTracer("ingest").Start(c.Request.Context(), "ingest.receive")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.provider", provider))

	outcome, status, body := h.process(ctx, provider, c.Request, c.Writer)

	label := provider
	if outcome == models.OutcomeUnsupportedProvider {
		label = "unknown"
	}
	metrics.WebhookRequestsTotal.WithLabelValues(label, string(outcome)).Inc()
	metrics.ObserveWebhookDuration(label, time.Since(start))

	span.SetAttributes(
		attribute.String("webhook.outcome", string(outcome)),
		attribute.Int("http.status_code", status),
	)
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, string(outcome))
	}

	if status == http.StatusServiceUnavailable {
		c.Header(constants.HeaderRetryAfter, "1")
	}
	c.JSON(status, body)
}

func (h *Handler) process(ctx context.Context, provider string, req *http.Request, w http.ResponseWriter) (models.AdmissionOutcome, int, interface{}) {
	receivedAt := h.now().UTC()

	payload, err := io.ReadAll(http.MaxBytesReader(w, req.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			appErr := apperrors.ErrPayloadTooLarge.WithDetail("limit_bytes", h.maxBodyBytes)
			h.audit(ctx, provider, "", models.OutcomeMalformed, appErr)
			return models.OutcomeMalformed, appErr.Status, apperrors.ToErrorResponse(appErr)
		}
		appErr := apperrors.ErrMalformedPayload.WithMessage("failed to read request body").WithCause(err)
		h.audit(ctx, provider, "", models.OutcomeMalformed, appErr)
		return models.OutcomeMalformed, appErr.Status, apperrors.ToErrorResponse(appErr)
	}

	if err := h.verifier.Verify(ctx, provider, payload, req.Header); err != nil {
		outcome := models.OutcomeRejectedSignature
		if errors.Is(err, apperrors.ErrUnsupportedProvider) {
			outcome = models.OutcomeUnsupportedProvider
		}
		h.audit(ctx, provider, "", outcome, err)
		return outcome, apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err)
	}

	p, err := h.verifier.Provider(provider)
	if err != nil {
		h.audit(ctx, provider, "", models.OutcomeUnsupportedProvider, err)
		return models.OutcomeUnsupportedProvider, apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err)
	}

	deliveryID := p.DeliveryID(req.Header, payload)
	if deliveryID == "" {
		appErr := apperrors.ErrMalformedPayload.
			WithMessage("delivery id is missing").
			WithDetail("provider", provider)
		h.audit(ctx, provider, "", models.OutcomeMalformed, appErr)
		return models.OutcomeMalformed, appErr.Status, apperrors.ToErrorResponse(appErr)
	}
	ctx = logging.WithDeliveryID(ctx, deliveryID)

	decision, err := h.admitter.Admit(ctx, provider, deliveryID)
	if err != nil {
		h.audit(ctx, provider, deliveryID, models.OutcomeUnavailable, err)
		return models.OutcomeUnavailable, http.StatusServiceUnavailable, apperrors.ToErrorResponse(err)
	}
	if decision == admission.Duplicate {
		h.audit(ctx, provider, deliveryID, models.OutcomeDuplicate, nil)
		return models.OutcomeDuplicate, http.StatusOK, Response{Status: string(models.OutcomeDuplicate), DeliveryID: deliveryID}
	}

	event, err := h.normalizer.Normalize(models.RawWebhookEvent{
		Provider:   provider,
		DeliveryID: deliveryID,
		Kind:       p.EventKind(req.Header),
		Headers:    req.Header,
		Body:       payload,
		ReceivedAt: receivedAt,
	})
	if err != nil {
		// The admission record stays: a retry of the same payload would fail
		// the same way.
		metrics.NormalizerRejectionsTotal.WithLabelValues(provider).Inc()
		h.logger.WarnwCtx(ctx, "Dropping malformed webhook payload", "provider", provider, "error", err)
		h.audit(ctx, provider, deliveryID, models.OutcomeMalformed, err)
		return models.OutcomeMalformed, apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err)
	}
	ctx = logging.WithEntityKey(ctx, event.EntityKey)

	sequenced, err := h.router.Submit(ctx, event)
	if err != nil {
		if releaseErr := h.admitter.Release(ctx, provider, deliveryID); releaseErr != nil {
			h.logger.ErrorwCtx(ctx, "Failed to release admission after router rejection",
				"provider", provider,
				"error", releaseErr,
			)
		}

		outcome := models.OutcomeUnavailable
		if errors.Is(err, apperrors.ErrBusy) {
			outcome = models.OutcomeBusy
		} else if !errors.Is(err, apperrors.ErrServiceUnavailable) {
			err = apperrors.ErrServiceUnavailable.WithMessage("event could not be queued").WithCause(err)
		}
		h.logger.WarnwCtx(ctx, "Router rejected event", "outcome", outcome, "error", err)
		h.auditEvent(ctx, provider, deliveryID, event, outcome, err)
		return outcome, http.StatusServiceUnavailable, apperrors.ToErrorResponse(err)
	}

	h.auditEvent(ctx, provider, deliveryID, sequenced, models.OutcomeAdmitted, nil)
	h.logger.DebugwCtx(ctx, "Webhook admitted",
		"provider", provider,
		"event_id", sequenced.EventID,
		"sequence", sequenced.Sequence,
	)

	return models.OutcomeAdmitted, http.StatusOK, Response{
		Status:     string(models.OutcomeAdmitted),
		EventID:    sequenced.EventID,
		EntityKey:  sequenced.EntityKey,
		Sequence:   sequenced.Sequence,
		DeliveryID: deliveryID,
	}
}

func (h *Handler) audit(ctx context.Context, provider, deliveryID string, outcome models.AdmissionOutcome, err error) {
	h.auditEvent(ctx, provider, deliveryID, models.CanonicalEvent{}, outcome, err)
}

func (h *Handler) auditEvent(ctx context.Context, provider, deliveryID string, event models.CanonicalEvent, outcome models.AdmissionOutcome, err error) {
	if h.recorder == nil {
		return
	}
	record := models.NewAdmissionRecord(provider, deliveryID, outcome)
	record.EventID = event.EventID
	record.EntityKey = event.EntityKey
	details := map[string]interface{}{}
	if event.Sequence > 0 {
		details["sequence"] = event.Sequence
	}
	if err != nil {
		record.Error = err.Error()
		details["error_code"] = apperrors.Code(err)
	}
	if len(details) > 0 {
		record.Details = details
	}
	h.recorder.RecordAdmission(ctx, record)
}
