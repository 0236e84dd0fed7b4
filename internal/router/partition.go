package router

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/logging"
	"devpulse/pkg/metrics"
	"devpulse/pkg/models"
	"devpulse/pkg/tracing"
)

// partition owns one entity key. The sequence counter is guarded by token:
// only the holder reads or writes last and loaded. The run goroutine is the
// only reader of inbox and the only writer to the lanes.
type partition struct {
	key    string
	router *Router

	token  chan struct{}
	last   uint64
	loaded bool

	inbox chan models.CanonicalEvent
	lanes []*lane
	prev  *partition
	done  chan struct{}

	// refs counts Submit calls holding this partition; guarded by router.mu.
	refs int
}

type lane struct {
	consumer Consumer
	events   chan models.CanonicalEvent
}

func newPartition(r *Router, key string, prev *partition) *partition {
	p := &partition{
		key:    key,
		router: r,
		token:  make(chan struct{}, 1),
		inbox:  make(chan models.CanonicalEvent, r.cfg.QueueCapacity),
		prev:   prev,
		done:   make(chan struct{}),
	}
	for _, c := range r.consumers {
		p.lanes = append(p.lanes, &lane{
			consumer: c,
			events:   make(chan models.CanonicalEvent, r.cfg.LaneCapacity),
		})
	}
	return p
}

// load reads the high-water mark once the predecessor for the same key has
// fully drained, so sequences keep increasing across retirement and restart.
func (p *partition) load(ctx context.Context, deadline <-chan time.Time) error {
	if p.prev != nil {
		select {
		case <-p.prev.done:
			p.prev = nil
		case <-deadline:
			return apperrors.ErrBusy.WithDetail("entity_key", p.key)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	last, err := p.router.store.Load(ctx, p.key)
	if err != nil {
		metrics.RouterCheckpointErrorsTotal.Inc()
		return apperrors.ErrServiceUnavailable.
			WithCause(err).
			WithDetail("entity_key", p.key).
			AsRetryable()
	}
	p.last = last
	p.loaded = true
	return nil
}

func (p *partition) run() {
	r := p.router
	defer close(p.done)

	var wg sync.WaitGroup
	for _, l := range p.lanes {
		wg.Add(1)
		go func(l *lane) {
			defer wg.Done()
			p.drain(l)
		}(l)
	}

	defer func() {
		for _, l := range p.lanes {
			close(l.events)
		}
		wg.Wait()
		r.partitionExited(p)
	}()

	idle := time.NewTimer(r.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case event, ok := <-p.inbox:
			if !ok {
				return
			}
			p.fanOut(event)

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.cfg.IdleTimeout)

		case <-idle.C:
			if r.retire(p) {
				return
			}
			idle.Reset(r.cfg.IdleTimeout)
		}
	}
}

// fanOut hands the event to every lane in order. A full lane blocks this
// partition only, which backs up its inbox and eventually turns into Busy.
func (p *partition) fanOut(event models.CanonicalEvent) {
	r := p.router
	for _, l := range p.lanes {
		select {
		case l.events <- event:
		case <-r.ctx.Done():
			return
		}
	}

	ctx := logging.WithEntityKey(r.ctx, p.key)
	if err := r.store.Save(ctx, p.key, event.Sequence); err != nil {
		metrics.RouterCheckpointErrorsTotal.Inc()
		r.logger.WarnwCtx(ctx, "Failed to save router checkpoint",
			"sequence", event.Sequence,
			"error", err,
		)
	}
}

func (p *partition) drain(l *lane) {
	r := p.router
	name := l.consumer.Name()
	for event := range l.events {
		if err := p.deliver(l.consumer, event); err != nil {
			metrics.RouterConsumerErrorsTotal.WithLabelValues(name).Inc()
			r.logger.ErrorwCtx(logging.WithEntityKey(r.ctx, p.key), "Consumer failed to process event",
				"consumer", name,
				"event_id", event.EventID,
				"sequence", event.Sequence,
				"panic", apperrors.IsPanic(err),
				"error", err,
			)
		}
	}
}

func (p *partition) deliver(c Consumer, event models.CanonicalEvent) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = apperrors.RecoverPanic("consumer "+c.Name(), rec)
		}
	}()
	ctx, span := tracing.GetTracer("router").Start(p.router.ctx, "router.deliver",
		trace.WithAttributes(tracing.EventAttributes(event)...),
		trace.WithAttributes(attribute.String("router.consumer", c.Name())),
	)
	defer span.End()

	return c.Consume(logging.WithEntityKey(ctx, p.key), event)
}
