package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"devpulse/internal/config"
	"devpulse/internal/logger"
	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/logging"
	"devpulse/pkg/metrics"
	"devpulse/pkg/models"
	"devpulse/pkg/retry"
	"devpulse/pkg/tracing"
)

const (
	defaultWorkers     = 4
	defaultMaxAttempts = 5
	defaultSendTimeout = 10 * time.Second
	idleWait           = time.Minute
)

// Tracker receives every state an attempt passes through.
type Tracker interface {
	Record(ctx context.Context, record models.AuditRecord) error
}

// DeadLetterSink gets attempts that exhausted their retries.
type DeadLetterSink interface {
	PublishDeadLetter(ctx context.Context, attempt models.DeliveryAttempt, notification models.Notification) error
}

// Dispatcher delivers notifications to channel targets with bounded,
// jittered retries. Each (notification, target) pair has at most one live
// attempt, owned by whichever worker popped it from the retry queue.
type Dispatcher struct {
	cfg      config.DispatcherConfig
	channels map[models.ChannelType]Channel
	tracker  Tracker
	dlq      DeadLetterSink
	logger   logger.Logger
	newID    func() string

	mu       sync.Mutex
	queue    taskQueue
	inflight map[string]struct{}
	started  bool
	closed   bool

	wake        chan struct{}
	work        chan *task
	schedCancel context.CancelFunc
	workCancel  context.CancelFunc
	wg          sync.WaitGroup
}

func New(cfg config.DispatcherConfig, log logger.Logger, channels ...Channel) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff.Base = time.Second
	}
	if cfg.Backoff.Multiplier < 1 {
		cfg.Backoff.Multiplier = 2
	}
	if cfg.Backoff.Cap < cfg.Backoff.Base {
		cfg.Backoff.Cap = cfg.Backoff.Base
	}

	d := &Dispatcher{
		cfg:      cfg,
		channels: make(map[models.ChannelType]Channel, len(channels)),
		logger:   log,
		newID:    uuid.NewString,
		inflight: make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		work:     make(chan *task),
	}
	for _, ch := range channels {
		d.channels[ch.Type()] = ch
	}
	return d
}

func (d *Dispatcher) WithTracker(t Tracker) *Dispatcher {
	d.tracker = t
	return d
}

func (d *Dispatcher) WithDeadLetterSink(s DeadLetterSink) *Dispatcher {
	d.dlq = s
	return d
}

func (d *Dispatcher) Channels() []models.ChannelType {
	types := make([]models.ChannelType, 0, len(d.channels))
	for t := range d.channels {
		types = append(types, t)
	}
	return types
}

// Start launches the scheduler and the worker pool. Attempts dispatched
// before Start wait in the queue.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	schedCtx, schedCancel := context.WithCancel(context.Background())
	workCtx, workCancel := context.WithCancel(context.Background())
	d.schedCancel = schedCancel
	d.workCancel = workCancel

	d.wg.Add(1)
	go d.runScheduler(schedCtx)

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.runWorker(workCtx)
	}
	d.logger.Infow("Dispatcher started",
		"workers", d.cfg.Workers,
		"max_attempts", d.cfg.MaxAttempts,
	)
}

// Dispatch creates one Pending attempt per target and queues it for immediate
// delivery. Targets that cannot be accepted are reported in the joined error
// while the rest are still dispatched.
func (d *Dispatcher) Dispatch(ctx context.Context, notification models.Notification, targets []models.Target) ([]models.DeliveryAttempt, error) {
	ctx, span := tracing.GetTracer("dispatcher").Start(ctx, "dispatcher.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("notification.id", notification.ID),
		attribute.Int("notification.targets", len(targets)),
	)

	now := time.Now().UTC()
	var (
		tasks []*task
		errs  []error
	)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, apperrors.ErrServiceUnavailable.WithMessage("dispatcher is stopped")
	}
	for _, target := range targets {
		if _, ok := d.channels[target.Channel]; !ok {
			errs = append(errs, apperrors.ErrValidation.
				WithMessage(fmt.Sprintf("no channel registered for %q", target.Channel)).
				WithDetail("target", target.String()))
			continue
		}

		key := notification.ID + "|" + target.String()
		if _, busy := d.inflight[key]; busy {
			errs = append(errs, apperrors.ErrDuplicateAttempt.
				WithDetail("notification_id", notification.ID).
				WithDetail("target", target.String()))
			continue
		}
		if d.cfg.QueueSize > 0 && len(d.inflight) >= d.cfg.QueueSize {
			errs = append(errs, apperrors.ErrBusy.
				WithMessage("dispatcher queue full").
				WithDetail("target", target.String()))
			continue
		}

		d.inflight[key] = struct{}{}
		tasks = append(tasks, &task{
			attempt: models.DeliveryAttempt{
				ID:             d.newID(),
				NotificationID: notification.ID,
				EventID:        notification.EventID,
				EntityKey:      notification.EntityKey,
				Target:         target,
				State:          models.StatePending,
				CreatedAt:      now,
				UpdatedAt:      now,
			},
			notification: notification,
			schedule:     retry.NewSchedule(d.cfg.Backoff.Base, d.cfg.Backoff.Cap, d.cfg.Backoff.Multiplier, d.cfg.Backoff.Jitter),
			inflightKey:  key,
			due:          now,
		})
	}
	d.mu.Unlock()

	attempts := make([]models.DeliveryAttempt, 0, len(tasks))
	for _, t := range tasks {
		d.record(ctx, t.attempt)
		attempts = append(attempts, t.attempt)
	}

	if len(tasks) > 0 {
		d.mu.Lock()
		for _, t := range tasks {
			d.queue.push(t)
		}
		metrics.DispatcherPending.Set(float64(d.queue.Len()))
		d.mu.Unlock()
		d.signal()
	}

	return attempts, errors.Join(errs...)
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) runScheduler(ctx context.Context) {
	defer d.wg.Done()
	defer close(d.work)

	for {
		d.mu.Lock()
		t, wait, ok := d.queue.popDue(time.Now())
		metrics.DispatcherPending.Set(float64(d.queue.Len()))
		d.mu.Unlock()

		if t != nil {
			select {
			case d.work <- t:
				continue
			case <-ctx.Done():
				d.requeue(t)
				return
			}
		}

		if !ok {
			wait = idleWait
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-d.wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (d *Dispatcher) requeue(t *task) {
	d.mu.Lock()
	d.queue.push(t)
	d.mu.Unlock()
	d.signal()
}

func (d *Dispatcher) runWorker(ctx context.Context) {
	defer d.wg.Done()
	for t := range d.work {
		d.process(ctx, t)
	}
}

func (d *Dispatcher) process(ctx context.Context, t *task) {
	ctx = logging.WithEntityKey(ctx, t.attempt.EntityKey)
	channel := d.channels[t.attempt.Target.Channel]

	t.attempt.Attempt++
	if err := transition(&t.attempt, models.StateDelivering, time.Now().UTC()); err != nil {
		d.logger.ErrorwCtx(ctx, "Dropping attempt in unexpected state",
			"attempt_id", t.attempt.ID,
			"error", err,
		)
		d.finish(t)
		return
	}
	d.record(ctx, t.attempt)

	err := d.send(ctx, channel, t)
	now := time.Now().UTC()

	if err == nil {
		_ = transition(&t.attempt, models.StateDelivered, now)
		t.attempt.LastError = ""
		t.attempt.NextRetryAt = time.Time{}
		d.record(ctx, t.attempt)
		d.finish(t)
		d.logger.DebugwCtx(ctx, "Notification delivered",
			"attempt_id", t.attempt.ID,
			"target", t.attempt.Target.String(),
			"attempt", t.attempt.Attempt,
		)
		return
	}

	t.attempt.LastError = err.Error()
	if isPermanent(err) || t.attempt.Attempt >= d.cfg.MaxAttempts {
		d.deadLetter(ctx, t, now)
		return
	}

	delay := t.schedule.Next()
	_ = transition(&t.attempt, models.StateRetrying, now)
	t.attempt.NextRetryAt = now.Add(delay)
	d.record(ctx, t.attempt)
	d.logger.WarnwCtx(ctx, "Notification delivery failed, retrying",
		"attempt_id", t.attempt.ID,
		"target", t.attempt.Target.String(),
		"attempt", t.attempt.Attempt,
		"next_delay", delay,
		"error", err,
	)

	t.due = t.attempt.NextRetryAt
	d.requeue(t)
}

func (d *Dispatcher) send(ctx context.Context, channel Channel, t *task) (err error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	ctx, span := tracing.GetTracer("dispatcher").Start(sendCtx, "dispatcher.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("delivery.channel", string(t.attempt.Target.Channel)),
		attribute.Int("delivery.attempt", t.attempt.Attempt),
	)

	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanic("channel "+string(t.attempt.Target.Channel), r)
			d.logger.ErrorwCtx(ctx, "Panic recovered in notification channel",
				"channel", t.attempt.Target.Channel,
				"error", err,
			)
		}
	}()

	msg, err := newMessage(t.attempt, t.notification)
	if err != nil {
		return permanentFailure("%v", err)
	}

	start := time.Now()
	err = channel.Send(ctx, t.attempt.Target, msg)
	metrics.ObserveDeliveryDuration(string(t.attempt.Target.Channel), time.Since(start))
	return err
}

func (d *Dispatcher) deadLetter(ctx context.Context, t *task, now time.Time) {
	_ = transition(&t.attempt, models.StateDeadLettered, now)
	t.attempt.NextRetryAt = time.Time{}
	d.record(ctx, t.attempt)
	metrics.DeadLettersTotal.WithLabelValues(string(t.attempt.Target.Channel)).Inc()

	d.logger.ErrorwCtx(ctx, "Notification dead-lettered",
		"attempt_id", t.attempt.ID,
		"notification_id", t.attempt.NotificationID,
		"event_id", t.attempt.EventID,
		"target", t.attempt.Target.String(),
		"attempts", t.attempt.Attempt,
		"error", t.attempt.LastError,
	)

	if d.dlq != nil {
		if err := d.dlq.PublishDeadLetter(ctx, t.attempt, t.notification); err != nil {
			d.logger.ErrorwCtx(ctx, "Failed to publish dead letter",
				"attempt_id", t.attempt.ID,
				"error", err,
			)
		}
	}
	d.finish(t)
}

func (d *Dispatcher) finish(t *task) {
	d.mu.Lock()
	delete(d.inflight, t.inflightKey)
	d.mu.Unlock()
}

func (d *Dispatcher) record(ctx context.Context, attempt models.DeliveryAttempt) {
	metrics.DeliveryAttemptsTotal.WithLabelValues(string(attempt.Target.Channel), string(attempt.State)).Inc()
	if d.tracker == nil {
		return
	}
	if err := d.tracker.Record(ctx, models.NewDeliveryRecord(attempt)); err != nil {
		d.logger.ErrorwCtx(ctx, "Failed to record delivery attempt",
			"attempt_id", attempt.ID,
			"state", attempt.State,
			"error", err,
		)
	}
}

func isPermanent(err error) bool {
	return retry.IsFatal(err)
}

// Pending returns the number of attempts waiting in the retry queue.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

// InFlight returns the number of non-terminal attempts.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Stop refuses new dispatches, lets workers finish their current sends and
// returns. Attempts still queued are closed with an abandoned audit record and
// handed to the dead-letter sink. When ctx expires first, in-progress sends
// are cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	d.mu.Unlock()

	if !started {
		d.abandonQueued(ctx)
		return nil
	}

	d.schedCancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.workCancel()
		d.abandonQueued(ctx)
		return ctx.Err()
	}
	d.workCancel()
	d.abandonQueued(ctx)
	return nil
}

func (d *Dispatcher) abandonQueued(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	d.mu.Lock()
	tasks := d.queue.drain()
	metrics.DispatcherPending.Set(0)
	d.mu.Unlock()

	if len(tasks) == 0 {
		return
	}
	d.logger.Warnw("Dispatcher stopped with queued attempts",
		"abandoned", len(tasks),
	)

	for _, t := range tasks {
		metrics.DeliveriesAbandonedTotal.WithLabelValues(string(t.attempt.Target.Channel)).Inc()
		if d.tracker != nil {
			if err := d.tracker.Record(ctx, models.NewAbandonedRecord(t.attempt, "dispatcher stopped before delivery")); err != nil {
				d.logger.ErrorwCtx(ctx, "Failed to record abandoned attempt",
					"attempt_id", t.attempt.ID,
					"error", err,
				)
			}
		}
		if d.dlq != nil {
			if err := d.dlq.PublishDeadLetter(ctx, t.attempt, t.notification); err != nil {
				d.logger.ErrorwCtx(ctx, "Failed to publish abandoned attempt",
					"attempt_id", t.attempt.ID,
					"error", err,
				)
			}
		}
		d.finish(t)
	}
}
