package alerting

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"devpulse/internal/config"
	"devpulse/internal/logger"
	"devpulse/pkg/cel"
	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/logging"
	"devpulse/pkg/metrics"
	"devpulse/pkg/models"
	"devpulse/pkg/retry"
	"devpulse/pkg/tracing"
)

const defaultReloadInterval = 30 * time.Second

// Dispatcher receives the alerts produced by the evaluator.
type Dispatcher interface {
	Dispatch(ctx context.Context, notification models.Notification, targets []models.Target) ([]models.DeliveryAttempt, error)
}

// Recorder persists audit records for alerts the dispatcher refused.
type Recorder interface {
	Record(ctx context.Context, record models.AuditRecord) error
}

type compiledRule struct {
	rule      models.AlertRule
	predicate *cel.Predicate
}

// Evaluator matches ordered canonical events against the active alert rules.
// Apart from the cooldown store it keeps no per-event state.
type Evaluator struct {
	source      RuleSource
	cooldowns   CooldownStore
	dispatcher  Dispatcher
	recorder    Recorder
	cfg         config.AlertingConfig
	retryPolicy retry.Policy
	cel         *cel.Evaluator
	rules       []compiledRule
	rulesMu     sync.RWMutex
	logger      logger.Logger
	newID       func() string
	now         func() time.Time
}

func NewEvaluator(source RuleSource, cooldowns CooldownStore, dispatcher Dispatcher, cfg config.AlertingConfig, log logger.Logger) (*Evaluator, error) {
	env, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = defaultReloadInterval
	}

	return &Evaluator{
		source:      source,
		cooldowns:   cooldowns,
		dispatcher:  dispatcher,
		cfg:         cfg,
		retryPolicy: retry.PolicyFromConfig(cfg.DispatchRetry),
		cel:         env,
		logger:      log,
		newID:       uuid.NewString,
		now:         time.Now,
	}, nil
}

func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

func (e *Evaluator) WithRecorder(r Recorder) *Evaluator {
	e.recorder = r
	return e
}

func (e *Evaluator) Name() string {
	return "evaluator"
}

// Consume evaluates one event. Dispatch failures for individual rules are
// joined into the returned error; evaluation continues for the other rules.
func (e *Evaluator) Consume(ctx context.Context, event models.CanonicalEvent) error {
	ctx, span := tracing.GetTracer("alerting").Start(ctx, "alerting.evaluate")
	defer span.End()
	span.SetAttributes(tracing.EventAttributes(event)...)
	ctx = logging.WithEntityKey(ctx, event.EntityKey)

	var errs []error
	for _, cr := range e.activeRules() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !cr.rule.InScope(event.EntityKey, event.Type) {
			continue
		}

		matched, err := e.match(ctx, cr, event)
		if err != nil {
			metrics.AlertRuleEvaluationsTotal.WithLabelValues(cr.rule.ID, "error").Inc()
			e.logger.ErrorwCtx(ctx, "Alert rule evaluation error",
				"rule_id", cr.rule.ID,
				"event_id", event.EventID,
				"error", err,
			)
			continue
		}
		if !matched {
			metrics.AlertRuleEvaluationsTotal.WithLabelValues(cr.rule.ID, "no_match").Inc()
			continue
		}
		metrics.AlertRuleEvaluationsTotal.WithLabelValues(cr.rule.ID, "match").Inc()

		if !e.acquireCooldown(ctx, cr.rule, event.EntityKey) {
			metrics.AlertsSuppressedTotal.WithLabelValues(cr.rule.ID).Inc()
			e.logger.DebugwCtx(ctx, "Alert suppressed by cooldown",
				"rule_id", cr.rule.ID,
				"event_id", event.EventID,
			)
			continue
		}

		if err := e.emit(ctx, cr.rule, event); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (e *Evaluator) match(ctx context.Context, cr compiledRule, event models.CanonicalEvent) (bool, error) {
	if cr.predicate == nil {
		return true, nil
	}
	return cr.predicate.Eval(ctx, event)
}

// acquireCooldown fails open: an unreachable cooldown store must not hide
// alerts, at the cost of possible repeats.
func (e *Evaluator) acquireCooldown(ctx context.Context, rule models.AlertRule, entityKey string) bool {
	if rule.Cooldown <= 0 || e.cooldowns == nil {
		return true
	}
	ok, err := e.cooldowns.Acquire(ctx, rule.ID, entityKey, rule.Cooldown)
	if err != nil {
		e.logger.WarnwCtx(ctx, "Cooldown store unavailable, emitting alert",
			"rule_id", rule.ID,
			"error", err,
		)
		return true
	}
	return ok
}

func (e *Evaluator) emit(ctx context.Context, rule models.AlertRule, event models.CanonicalEvent) error {
	alert := models.AlertEvent{
		ID:            e.newID(),
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		SourceEventID: event.EventID,
		EntityKey:     event.EntityKey,
		EventType:     event.Type,
		Sequence:      event.Sequence,
		Severity:      rule.Severity,
		Timestamp:     e.now().UTC(),
	}

	if e.dispatcher != nil {
		notification := models.NewAlertNotification(alert)
		rejected, err := e.dispatch(ctx, notification, rule.Targets)
		if err != nil {
			e.reject(ctx, rule, event.EntityKey, notification, rejected, err)
			return fmt.Errorf("failed to dispatch alert %s for rule %s: %w", alert.ID, rule.ID, err)
		}
	}

	metrics.AlertsEmittedTotal.WithLabelValues(rule.ID).Inc()
	e.logger.InfowCtx(ctx, "Alert emitted",
		"alert_id", alert.ID,
		"rule_id", rule.ID,
		"event_id", event.EventID,
		"sequence", event.Sequence,
		"severity", rule.Severity,
	)
	return nil
}

// dispatch hands the alert to the dispatcher, retrying the targets it refused
// as busy. It returns the targets that were never accepted.
func (e *Evaluator) dispatch(ctx context.Context, notification models.Notification, targets []models.Target) ([]models.Target, error) {
	pending := targets
	err := retry.Do(ctx, e.retryPolicy, func() error {
		attempts, err := e.dispatcher.Dispatch(ctx, notification, pending)
		if err == nil {
			pending = nil
			return nil
		}
		pending = unaccepted(pending, attempts)
		if errors.Is(err, apperrors.ErrBusy) {
			return err
		}
		return retry.Stop(err)
	}, func(attempt int, err error, next time.Duration) {
		e.logger.WarnwCtx(ctx, "Dispatcher busy, retrying alert",
			"notification_id", notification.ID,
			"attempt", attempt,
			"pending_targets", len(pending),
			"retry_in", next,
		)
	})
	if err != nil {
		return pending, err
	}
	return nil, nil
}

func unaccepted(targets []models.Target, attempts []models.DeliveryAttempt) []models.Target {
	accepted := make(map[string]struct{}, len(attempts))
	for _, a := range attempts {
		accepted[a.Target.String()] = struct{}{}
	}
	var rest []models.Target
	for _, t := range targets {
		if _, ok := accepted[t.String()]; !ok {
			rest = append(rest, t)
		}
	}
	return rest
}

// reject audits the refused targets. When no target took the alert the
// cooldown window is released so the next matching event can alert again.
func (e *Evaluator) reject(ctx context.Context, rule models.AlertRule, entityKey string, notification models.Notification, targets []models.Target, cause error) {
	metrics.AlertsDispatchRejectedTotal.WithLabelValues(rule.ID).Add(float64(len(targets)))
	e.logger.ErrorwCtx(ctx, "Dispatcher rejected alert",
		"notification_id", notification.ID,
		"rule_id", rule.ID,
		"rejected_targets", len(targets),
		"error", cause,
	)

	if e.recorder != nil {
		for _, target := range targets {
			if err := e.recorder.Record(ctx, models.NewDispatchRejectedRecord(notification, target, cause.Error())); err != nil {
				e.logger.WarnwCtx(ctx, "Failed to record rejected alert",
					"notification_id", notification.ID,
					"target", target.String(),
					"error", err,
				)
			}
		}
	}

	if len(targets) < len(rule.Targets) || rule.Cooldown <= 0 || e.cooldowns == nil {
		return
	}
	if err := e.cooldowns.Release(ctx, rule.ID, entityKey); err != nil {
		e.logger.WarnwCtx(ctx, "Failed to release cooldown",
			"rule_id", rule.ID,
			"error", err,
		)
	}
}

func (e *Evaluator) activeRules() []compiledRule {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	return e.rules
}

// Rules returns a copy of the active rule set.
func (e *Evaluator) Rules() []models.AlertRule {
	active := e.activeRules()
	rules := make([]models.AlertRule, 0, len(active))
	for _, cr := range active {
		rules = append(rules, cr.rule)
	}
	return rules
}

func (e *Evaluator) ReloadRules(ctx context.Context, skipJitter ...bool) error {
	shouldSkipJitter := len(skipJitter) > 0 && skipJitter[0]

	if err := e.applyJitter(ctx, shouldSkipJitter); err != nil {
		return err
	}

	e.logger.DebugwCtx(ctx, "Loading alert rules")
	rules, err := e.source.ListActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load alert rules: %w", err)
	}

	e.updateRules(ctx, e.compile(ctx, rules))
	return nil
}

func (e *Evaluator) applyJitter(ctx context.Context, skipJitter bool) error {
	if skipJitter || e.cfg.ReloadJitter <= 0 {
		return nil
	}

	jitter := time.Duration(rand.Int63n(int64(e.cfg.ReloadJitter)))
	e.logger.DebugwCtx(ctx, "Reload scheduled with jitter",
		"jitter_ms", jitter.Milliseconds(),
	)

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// compile drops rules that fail validation so one bad row cannot disable
// alerting as a whole.
func (e *Evaluator) compile(ctx context.Context, rules []models.AlertRule) []compiledRule {
	compiled := make([]compiledRule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		if !rule.Enabled {
			continue
		}
		if err := models.ValidateAlertRule(&rule); err != nil {
			e.logger.WarnwCtx(ctx, "Skipping invalid alert rule",
				"rule_id", rule.ID,
				"error", err,
			)
			continue
		}

		cr := compiledRule{rule: rule}
		if rule.Expression != "" {
			predicate, err := e.cel.CompilePredicate(rule.Expression)
			if err != nil {
				e.logger.WarnwCtx(ctx, "Skipping alert rule with invalid expression",
					"rule_id", rule.ID,
					"expression", rule.Expression,
					"error", err,
				)
				continue
			}
			cr.predicate = predicate
		}
		compiled = append(compiled, cr)
	}
	return compiled
}

func (e *Evaluator) updateRules(ctx context.Context, rules []compiledRule) {
	e.rulesMu.Lock()
	e.rules = rules
	e.rulesMu.Unlock()

	metrics.SetAlertRulesActive(len(rules))
	e.logger.InfowCtx(ctx, "Successfully reloaded alert rules",
		"rules_count", len(rules),
	)
}

func (e *Evaluator) StartReloader(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ReloadInterval)
	defer ticker.Stop()

	if err := e.ReloadRules(ctx, true); err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to reload alert rules",
			"error", err,
		)
	}

	for {
		select {
		case <-ticker.C:
			if err := e.ReloadRules(ctx); err != nil {
				e.logger.ErrorwCtx(ctx, "Failed to reload alert rules",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
