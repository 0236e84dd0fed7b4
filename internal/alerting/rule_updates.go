package alerting

import (
	"context"
	"encoding/json"

	"devpulse/internal/logger"
	"devpulse/pkg/models"
)

type RuleReloader interface {
	ReloadRules(ctx context.Context, skipJitter ...bool) error
}

// RuleUpdateHandler reloads the rule set when the rule store announces a
// change on the rule-update topic.
type RuleUpdateHandler struct {
	reloader RuleReloader
	logger   logger.Logger
}

func NewRuleUpdateHandler(reloader RuleReloader, log logger.Logger) *RuleUpdateHandler {
	return &RuleUpdateHandler{
		reloader: reloader,
		logger:   log,
	}
}

func (h *RuleUpdateHandler) HandleRuleUpdate(ctx context.Context, envelope models.StreamEnvelope) error {
	if envelope.Kind != "" && envelope.Kind != models.EnvelopeKindRuleUpdate {
		return nil
	}

	var event models.RuleUpdateEvent
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		h.logger.Warnw("Ignoring undecodable rule update", "id", envelope.ID, "error", err)
		return nil
	}

	if event.EventType != models.EventTypeAlertRuleUpdated {
		return nil
	}

	h.logger.Infow("Received alert rule update",
		"action", event.Action,
		"rule_id", event.RuleID,
		"changed_by", event.ChangedBy,
	)

	if err := h.reloader.ReloadRules(ctx); err != nil {
		h.logger.Errorw("Failed to reload alert rules after update", "error", err)
		return err
	}
	h.logger.Infow("Alert rules reloaded after update", "action", event.Action)
	return nil
}
