package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"devpulse/internal/logger"
	"devpulse/pkg/errors"
	"devpulse/pkg/models"
)

type Handler struct {
	tracker *Tracker
	logger  logger.Logger
}

func NewHandler(tracker *Tracker, log logger.Logger) *Handler {
	return &Handler{tracker: tracker, logger: log}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		audit := v1.Group("/audit")
		{
			audit.GET("", h.Query)
			audit.GET("/dead-letters", h.DeadLetters)
		}
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

// Query godoc
// @Summary      Query the audit log
// @Description  Admission outcomes and delivery attempt transitions, oldest first
// @Tags         audit
// @Produce      json
// @Param        event_id     query     string  false  "Canonical event ID"
// @Param        entity_key   query     string  false  "Entity key, e.g. repo:acme/api"
// @Param        delivery_id  query     string  false  "Provider delivery ID"
// @Param        provider     query     string  false  "Provider tag"
// @Param        target       query     string  false  "Delivery target, channel:destination"
// @Param        kind         query     string  false  "admission or delivery"
// @Param        outcome      query     string  false  "Admission outcome or delivery state"
// @Param        from         query     string  false  "RFC3339 lower bound (inclusive)"
// @Param        to           query     string  false  "RFC3339 upper bound (exclusive)"
// @Param        limit        query     int     false  "Maximum number of records" default(100)
// @Success      200          {array}   models.AuditRecord
// @Failure      400          {object}  map[string]interface{}
// @Failure      503          {object}  map[string]interface{}
// @Router       /api/v1/audit [get]
func (h *Handler) Query(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	records, err := h.tracker.Query(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// DeadLetters godoc
// @Summary      List dead-lettered deliveries
// @Description  Delivery attempts that exhausted their retries
// @Tags         audit
// @Produce      json
// @Param        entity_key  query     string  false  "Entity key"
// @Param        target      query     string  false  "Delivery target"
// @Param        from        query     string  false  "RFC3339 lower bound (inclusive)"
// @Param        to          query     string  false  "RFC3339 upper bound (exclusive)"
// @Param        limit       query     int     false  "Maximum number of records" default(100)
// @Success      200         {array}   models.AuditRecord
// @Failure      400         {object}  map[string]interface{}
// @Router       /api/v1/audit/dead-letters [get]
func (h *Handler) DeadLetters(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	records, err := h.tracker.DeadLetters(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func parseFilter(c *gin.Context) (Filter, error) {
	filter := Filter{
		EventID:    c.Query("event_id"),
		EntityKey:  c.Query("entity_key"),
		DeliveryID: c.Query("delivery_id"),
		Provider:   c.Query("provider"),
		Target:     c.Query("target"),
		Kind:       models.AuditKind(c.Query("kind")),
		Outcome:    c.Query("outcome"),
	}

	if filter.Kind != "" && filter.Kind != models.AuditKindAdmission && filter.Kind != models.AuditKindDelivery {
		return Filter{}, errors.ErrValidation.WithMessage("kind must be admission or delivery")
	}

	var err error
	if filter.From, err = parseTime(c.Query("from"), "from"); err != nil {
		return Filter{}, err
	}
	if filter.To, err = parseTime(c.Query("to"), "to"); err != nil {
		return Filter{}, err
	}

	if raw := c.Query("limit"); raw != "" {
		limit, convErr := strconv.Atoi(raw)
		if convErr != nil || limit <= 0 {
			return Filter{}, errors.ErrValidation.WithMessage("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func parseTime(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.ErrValidation.
			WithMessage(field + " must be an RFC3339 timestamp").
			WithCause(err)
	}
	return t, nil
}
