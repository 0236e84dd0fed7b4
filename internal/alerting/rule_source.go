package alerting

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"devpulse/internal/config"
	"devpulse/pkg/models"
)

// RuleSource supplies the currently enabled alert rules. The evaluator only
// reads rules; creating and editing them belongs to whoever owns the store.
type RuleSource interface {
	ListActiveRules(ctx context.Context) ([]models.AlertRule, error)
}

type PostgresRuleSource struct {
	db *sql.DB
}

func NewPostgresRuleSource(db *sql.DB) *PostgresRuleSource {
	return &PostgresRuleSource{db: db}
}

func (s *PostgresRuleSource) ListActiveRules(ctx context.Context) ([]models.AlertRule, error) {
	query := `
		SELECT id, name, entity_pattern, event_types, expression, severity,
		       cooldown_seconds, targets, enabled, updated_at
		FROM alert_rules
		WHERE enabled = true
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert rules: %w", err)
	}
	defer rows.Close()

	var rules []models.AlertRule
	for rows.Next() {
		var (
			rule            models.AlertRule
			eventTypes      []string
			severity        string
			cooldownSeconds int64
			targets         []byte
		)
		if err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&rule.EntityPattern,
			pq.Array(&eventTypes),
			&rule.Expression,
			&severity,
			&cooldownSeconds,
			&targets,
			&rule.Enabled,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert rule: %w", err)
		}

		rule.Severity = models.Severity(severity)
		rule.Cooldown = time.Duration(cooldownSeconds) * time.Second
		rule.EventTypes = toEventTypes(eventTypes)
		if len(targets) > 0 {
			if err := json.Unmarshal(targets, &rule.Targets); err != nil {
				return nil, fmt.Errorf("failed to decode targets of rule %s: %w", rule.ID, err)
			}
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}

// ConfigRuleSource serves the rules declared under alerting.rules.
type ConfigRuleSource struct {
	rules []models.AlertRule
}

func NewConfigRuleSource(cfg []config.AlertRuleConfig) *ConfigRuleSource {
	rules := make([]models.AlertRule, 0, len(cfg))
	for _, rc := range cfg {
		rule := models.AlertRule{
			ID:            rc.ID,
			Name:          rc.Name,
			EntityPattern: rc.EntityPattern,
			EventTypes:    toEventTypes(rc.EventTypes),
			Expression:    rc.Expression,
			Severity:      models.Severity(rc.Severity),
			Cooldown:      rc.Cooldown,
			Enabled:       true,
		}
		if rule.Name == "" {
			rule.Name = rule.ID
		}
		for _, tc := range rc.Targets {
			rule.Targets = append(rule.Targets, models.Target{
				Channel:     models.ChannelType(tc.Channel),
				Destination: tc.Destination,
			})
		}
		rules = append(rules, rule)
	}
	return &ConfigRuleSource{rules: rules}
}

func (s *ConfigRuleSource) ListActiveRules(ctx context.Context) ([]models.AlertRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rules := make([]models.AlertRule, len(s.rules))
	copy(rules, s.rules)
	return rules, nil
}

func toEventTypes(values []string) []models.EventType {
	if len(values) == 0 {
		return nil
	}
	types := make([]models.EventType, 0, len(values))
	for _, v := range values {
		types = append(types, models.EventType(v))
	}
	return types
}
