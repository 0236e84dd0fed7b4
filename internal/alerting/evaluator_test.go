package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devpulse/internal/config"
	"devpulse/internal/dispatcher"
	"devpulse/internal/logger"
	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/models"
)

type recordingDispatcher struct {
	mu            sync.Mutex
	notifications []models.Notification
	targets       [][]models.Target
	err           error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n models.Notification, targets []models.Target) ([]models.DeliveryAttempt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications = append(d.notifications, n)
	d.targets = append(d.targets, targets)
	return nil, d.err
}

func (d *recordingDispatcher) alerts() []models.AlertEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.AlertEvent, 0, len(d.notifications))
	for _, n := range d.notifications {
		out = append(out, *n.Alert)
	}
	return out
}

type staticSource struct {
	rules []models.AlertRule
	err   error
	calls int
}

func (s *staticSource) ListActiveRules(context.Context) ([]models.AlertRule, error) {
	s.calls++
	return s.rules, s.err
}

type failingCooldowns struct{}

func (failingCooldowns) Acquire(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingCooldowns) Release(context.Context, string, string) error {
	return errors.New("connection refused")
}

type auditRecorder struct {
	mu      sync.Mutex
	records []models.AuditRecord
}

func (r *auditRecorder) Record(_ context.Context, rec models.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *auditRecorder) all() []models.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AuditRecord(nil), r.records...)
}

// acceptCounter counts the attempts the wrapped dispatcher accepted.
type acceptCounter struct {
	Dispatcher
	mu       sync.Mutex
	accepted int
}

func (c *acceptCounter) Dispatch(ctx context.Context, n models.Notification, targets []models.Target) ([]models.DeliveryAttempt, error) {
	attempts, err := c.Dispatcher.Dispatch(ctx, n, targets)
	c.mu.Lock()
	c.accepted += len(attempts)
	c.mu.Unlock()
	return attempts, err
}

func (c *acceptCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}

// busyDispatcher refuses the first busyFor calls as a full queue.
type busyDispatcher struct {
	recordingDispatcher
	busyFor int
	calls   int
}

func (d *busyDispatcher) Dispatch(ctx context.Context, n models.Notification, targets []models.Target) ([]models.DeliveryAttempt, error) {
	d.mu.Lock()
	d.calls++
	busy := d.calls <= d.busyFor
	d.mu.Unlock()
	if busy {
		return nil, apperrors.ErrBusy.WithMessage("dispatcher queue full")
	}
	return d.recordingDispatcher.Dispatch(ctx, n, targets)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func pushRule() models.AlertRule {
	return models.AlertRule{
		ID:            "r-push",
		Name:          "pushes to acme",
		EntityPattern: "repo:acme/*",
		EventTypes:    []models.EventType{models.EventTypePush},
		Severity:      models.SeverityInfo,
		Cooldown:      60 * time.Second,
		Targets:       []models.Target{{Channel: models.ChannelLog, Destination: "ops"}},
		Enabled:       true,
	}
}

func pushEvent(id string, seq uint64) models.CanonicalEvent {
	return models.CanonicalEvent{
		EventID:   id,
		EntityKey: "repo:acme/api",
		Type:      models.EventTypePush,
		Sequence:  seq,
		Provider:  "github",
		Payload: map[string]interface{}{
			"branch":  "main",
			"commits": 3,
		},
	}
}

func newTestEvaluator(t *testing.T, source RuleSource, cooldowns CooldownStore, d Dispatcher) *Evaluator {
	t.Helper()
	cfg := config.AlertingConfig{
		DispatchRetry: config.RetryConfig{
			MaxAttempts:     2,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		},
	}
	e, err := NewEvaluator(source, cooldowns, d, cfg, logger.NopLogger())
	require.NoError(t, err)
	require.NoError(t, e.ReloadRules(context.Background(), true))
	return e
}

func TestEvaluator_CooldownSuppressesBurst(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	cooldowns := NewMemoryCooldownStore().WithClock(clock.Now)
	d := &recordingDispatcher{}
	e := newTestEvaluator(t, &staticSource{rules: []models.AlertRule{pushRule()}}, cooldowns, d)
	e.WithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, e.Consume(ctx, pushEvent("e1", 1)))
	clock.Advance(10 * time.Second)
	require.NoError(t, e.Consume(ctx, pushEvent("e2", 2)))

	alerts := d.alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "r-push", alerts[0].RuleID)
	assert.Equal(t, "e1", alerts[0].SourceEventID)
	assert.Equal(t, uint64(1), alerts[0].Sequence)
	assert.NotEmpty(t, alerts[0].ID)

	clock.Advance(55 * time.Second)
	require.NoError(t, e.Consume(ctx, pushEvent("e3", 3)))
	alerts = d.alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, "e3", alerts[1].SourceEventID)
}

func TestEvaluator_CooldownIsPerEntity(t *testing.T) {
	d := &recordingDispatcher{}
	e := newTestEvaluator(t, &staticSource{rules: []models.AlertRule{pushRule()}}, NewMemoryCooldownStore(), d)
	ctx := context.Background()

	other := pushEvent("e2", 1)
	other.EntityKey = "repo:acme/web"

	require.NoError(t, e.Consume(ctx, pushEvent("e1", 1)))
	require.NoError(t, e.Consume(ctx, other))
	assert.Len(t, d.alerts(), 2)
}

func TestEvaluator_Scope(t *testing.T) {
	d := &recordingDispatcher{}
	e := newTestEvaluator(t, &staticSource{rules: []models.AlertRule{pushRule()}}, nil, d)
	ctx := context.Background()

	outside := pushEvent("e1", 1)
	outside.EntityKey = "repo:other/api"
	require.NoError(t, e.Consume(ctx, outside))

	wrongType := pushEvent("e2", 1)
	wrongType.Type = models.EventTypePRMerged
	require.NoError(t, e.Consume(ctx, wrongType))

	assert.Empty(t, d.alerts())
}

func TestEvaluator_Predicate(t *testing.T) {
	rule := pushRule()
	rule.Cooldown = 0
	rule.Expression = `payload.branch == "main" && payload.commits > 2`
	d := &recordingDispatcher{}
	e := newTestEvaluator(t, &staticSource{rules: []models.AlertRule{rule}}, nil, d)
	ctx := context.Background()

	require.NoError(t, e.Consume(ctx, pushEvent("e1", 1)))

	feature := pushEvent("e2", 2)
	feature.Payload["branch"] = "feature/x"
	require.NoError(t, e.Consume(ctx, feature))

	alerts := d.alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "e1", alerts[0].SourceEventID)
	assert.Equal(t, rule.Targets, d.targets[0])
}

func TestEvaluator_EvaluationErrorSkipsRule(t *testing.T) {
	broken := pushRule()
	broken.ID = "r-broken"
	broken.Cooldown = 0
	broken.Expression = `payload.missing.deeper == 1`

	healthy := pushRule()
	healthy.Cooldown = 0

	d := &recordingDispatcher{}
	e := newTestEvaluator(t, &staticSource{rules: []models.AlertRule{broken, healthy}}, nil, d)

	require.NoError(t, e.Consume(context.Background(), pushEvent("e1", 1)))
	alerts := d.alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "r-push", alerts[0].RuleID)
}

func TestEvaluator_CooldownStoreFailureEmits(t *testing.T) {
	d := &recordingDispatcher{}
	e := newTestEvaluator(t, &staticSource{rules: []models.AlertRule{pushRule()}}, failingCooldowns{}, d)

	require.NoError(t, e.Consume(context.Background(), pushEvent("e1", 1)))
	assert.Len(t, d.alerts(), 1)
}

func TestEvaluator_DispatchErrorReturned(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("queue full")}
	e := newTestEvaluator(t, &staticSource{rules: []models.AlertRule{pushRule()}}, nil, d)

	err := e.Consume(context.Background(), pushEvent("e1", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "r-push")
}

func TestEvaluator_SaturatedDispatcherReleasesCooldown(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	cooldowns := NewMemoryCooldownStore().WithClock(clock.Now)

	disp := dispatcher.New(config.DispatcherConfig{QueueSize: 1}, logger.NopLogger(), dispatcher.NewLogChannel(logger.NopLogger()))
	t.Cleanup(func() { _ = disp.Stop(context.Background()) })
	occupant := models.NewAlertNotification(models.AlertEvent{ID: "occupant", RuleID: "r-other", EntityKey: "repo:acme/web"})
	_, err := disp.Dispatch(ctx, occupant, pushRule().Targets)
	require.NoError(t, err)

	d := &acceptCounter{Dispatcher: disp}
	recorder := &auditRecorder{}
	e := newTestEvaluator(t, &staticSource{rules: []models.AlertRule{pushRule()}}, cooldowns, d)
	e.WithClock(clock.Now).WithRecorder(recorder)

	err = e.Consume(ctx, pushEvent("e1", 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrBusy))
	assert.Equal(t, 0, d.count())

	records := recorder.all()
	require.Len(t, records, 1)
	assert.Equal(t, models.OutcomeDispatchRejected, records[0].Outcome)
	assert.Equal(t, pushRule().Targets[0].String(), records[0].Target)
	assert.Equal(t, "r-push", records[0].Details["rule_id"])
	assert.Equal(t, "e1", records[0].EventID)

	disp.Start()
	require.Eventually(t, func() bool { return disp.InFlight() == 0 }, time.Second, 5*time.Millisecond)

	clock.Advance(10 * time.Second)
	require.NoError(t, e.Consume(ctx, pushEvent("e2", 2)))
	assert.Equal(t, 1, d.count())

	// The accepted alert holds the window.
	clock.Advance(10 * time.Second)
	require.NoError(t, e.Consume(ctx, pushEvent("e3", 3)))
	assert.Equal(t, 1, d.count())
}

func TestEvaluator_StoppedDispatcherReleasesCooldown(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	cooldowns := NewMemoryCooldownStore().WithClock(clock.Now)

	disp := dispatcher.New(config.DispatcherConfig{}, logger.NopLogger(), dispatcher.NewLogChannel(logger.NopLogger()))
	require.NoError(t, disp.Stop(ctx))

	recorder := &auditRecorder{}
	e := newTestEvaluator(t, &staticSource{rules: []models.AlertRule{pushRule()}}, cooldowns, disp)
	e.WithClock(clock.Now).WithRecorder(recorder)

	err := e.Consume(ctx, pushEvent("e1", 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrServiceUnavailable))
	require.Len(t, recorder.all(), 1)

	ok, err := cooldowns.Acquire(ctx, "r-push", "repo:acme/api", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluator_BusyDispatcherRetried(t *testing.T) {
	d := &busyDispatcher{busyFor: 1}
	recorder := &auditRecorder{}
	e := newTestEvaluator(t, &staticSource{rules: []models.AlertRule{pushRule()}}, NewMemoryCooldownStore(), d)
	e.WithRecorder(recorder)

	require.NoError(t, e.Consume(context.Background(), pushEvent("e1", 1)))
	assert.Len(t, d.alerts(), 1)
	assert.Equal(t, 2, d.calls)
	assert.Empty(t, recorder.all())
}

func TestEvaluator_PartialAcceptKeepsCooldown(t *testing.T) {
	ctx := context.Background()
	cooldowns := NewMemoryCooldownStore()
	disp := dispatcher.New(config.DispatcherConfig{}, logger.NopLogger(), dispatcher.NewLogChannel(logger.NopLogger()))
	t.Cleanup(func() { _ = disp.Stop(context.Background()) })

	rule := pushRule()
	rule.Targets = append(rule.Targets, models.Target{Channel: models.ChannelSlack, Destination: "#ops"})
	recorder := &auditRecorder{}
	e := newTestEvaluator(t, &staticSource{rules: []models.AlertRule{rule}}, cooldowns, disp)
	e.WithRecorder(recorder)

	err := e.Consume(ctx, pushEvent("e1", 1))
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	records := recorder.all()
	require.Len(t, records, 1)
	assert.Equal(t, "slack:#ops", records[0].Target)

	ok, err := cooldowns.Acquire(ctx, "r-push", "repo:acme/api", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCooldownStore_Release(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCooldownStore()

	ok, err := store.Acquire(ctx, "r1", "repo:acme/api", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Release(ctx, "r1", "repo:acme/api"))
	require.NoError(t, store.Release(ctx, "r1", "repo:acme/missing"))

	ok, err = store.Acquire(ctx, "r1", "repo:acme/api", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluator_ReloadSkipsInvalidRules(t *testing.T) {
	badExpr := pushRule()
	badExpr.ID = "r-bad-expr"
	badExpr.Expression = `payload.branch ==`

	noTargets := pushRule()
	noTargets.ID = "r-no-targets"
	noTargets.Targets = nil

	disabled := pushRule()
	disabled.ID = "r-disabled"
	disabled.Enabled = false

	e := newTestEvaluator(t, &staticSource{rules: []models.AlertRule{badExpr, noTargets, disabled, pushRule()}}, nil, nil)

	rules := e.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "r-push", rules[0].ID)
}

func TestEvaluator_ReloadFailureKeepsRules(t *testing.T) {
	source := &staticSource{rules: []models.AlertRule{pushRule()}}
	e := newTestEvaluator(t, source, nil, nil)

	source.err = errors.New("db down")
	require.Error(t, e.ReloadRules(context.Background(), true))
	assert.Len(t, e.Rules(), 1)
}

func TestEvaluator_ReloadJitterHonoursContext(t *testing.T) {
	e, err := NewEvaluator(&staticSource{}, nil, nil, config.AlertingConfig{ReloadJitter: time.Hour}, logger.NopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.ReloadRules(ctx), context.Canceled)
}

func TestConfigRuleSource(t *testing.T) {
	source := NewConfigRuleSource([]config.AlertRuleConfig{{
		ID:            "cfg-1",
		EntityPattern: "cluster:*",
		EventTypes:    []string{"cluster_event"},
		Severity:      "warning",
		Cooldown:      time.Minute,
		Targets:       []config.TargetConfig{{Channel: "slack", Destination: "https://hooks.slack.test/x"}},
	}})

	rules, err := source.ListActiveRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "cfg-1", rules[0].Name)
	assert.True(t, rules[0].Enabled)
	assert.Equal(t, []models.EventType{models.EventTypeClusterEvent}, rules[0].EventTypes)
	assert.Equal(t, models.ChannelSlack, rules[0].Targets[0].Channel)
}

func TestRedisCooldownStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisCooldownStore(client, "")
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "r1", "repo:acme/api", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Acquire(ctx, "r1", "repo:acme/api", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Acquire(ctx, "r2", "repo:acme/api", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(61 * time.Second)
	ok, err = store.Acquire(ctx, "r1", "repo:acme/api", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Release(ctx, "r1", "repo:acme/api"))
	assert.False(t, mr.Exists("cooldown:r1:repo:acme/api"))
	ok, err = store.Acquire(ctx, "r1", "repo:acme/api", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.Close()
	_, err = store.Acquire(ctx, "r3", "repo:acme/api", time.Minute)
	assert.Error(t, err)
}

type countingReloader struct {
	calls int
}

func (r *countingReloader) ReloadRules(context.Context, ...bool) error {
	r.calls++
	return nil
}

func TestRuleUpdateHandler(t *testing.T) {
	reloader := &countingReloader{}
	h := NewRuleUpdateHandler(reloader, logger.NopLogger())
	ctx := context.Background()

	data, err := json.Marshal(models.RuleUpdateEvent{
		EventType: models.EventTypeAlertRuleUpdated,
		RuleID:    "r-push",
		Action:    models.ActionUpdate,
	})
	require.NoError(t, err)

	require.NoError(t, h.HandleRuleUpdate(ctx, models.StreamEnvelope{ID: "1", Kind: models.EnvelopeKindRuleUpdate, Data: data}))
	assert.Equal(t, 1, reloader.calls)

	other, err := json.Marshal(models.RuleUpdateEvent{EventType: "something_else"})
	require.NoError(t, err)
	require.NoError(t, h.HandleRuleUpdate(ctx, models.StreamEnvelope{ID: "2", Data: other}))
	require.NoError(t, h.HandleRuleUpdate(ctx, models.StreamEnvelope{ID: "3", Data: []byte("{")}))
	require.NoError(t, h.HandleRuleUpdate(ctx, models.StreamEnvelope{ID: "4", Kind: models.EnvelopeKindEvent, Data: data}))
	assert.Equal(t, 1, reloader.calls)
}
