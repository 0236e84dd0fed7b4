package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"devpulse/internal/config"
	"devpulse/internal/logger"
	apperrors "devpulse/pkg/errors"
	"devpulse/pkg/metrics"
	"devpulse/pkg/models"
)

// Router assigns per-entity sequence numbers and delivers every event to each
// registered consumer in sequence order. Different entity keys never wait on
// each other.
type Router struct {
	cfg       config.RouterConfig
	store     CheckpointStore
	consumers []Consumer
	logger    logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	partitions map[string]*partition
	retiring   map[string]*partition
	closed     bool
	inflight   sync.WaitGroup
	running    sync.WaitGroup
}

func New(cfg config.RouterConfig, store CheckpointStore, log logger.Logger, consumers ...Consumer) *Router {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.LaneCapacity <= 0 {
		cfg.LaneCapacity = 1024
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 250 * time.Millisecond
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if store == nil {
		store = NewMemoryCheckpointStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		cfg:        cfg,
		store:      store,
		consumers:  consumers,
		logger:     log,
		ctx:        ctx,
		cancel:     cancel,
		partitions: make(map[string]*partition),
		retiring:   make(map[string]*partition),
	}
}

// Submit sequences the event and queues it on its entity's partition. It waits
// at most the enqueue timeout for room and then fails with ErrBusy. Once Submit
// returns nil the event will reach every consumer.
func (r *Router) Submit(ctx context.Context, event models.CanonicalEvent) (models.CanonicalEvent, error) {
	if event.EntityKey == "" {
		return event, apperrors.ErrValidation.WithMessage("entity_key is required")
	}

	p, err := r.acquire(event.EntityKey)
	if err != nil {
		return event, err
	}
	defer r.release(p)

	deadline := time.NewTimer(r.cfg.EnqueueTimeout)
	defer deadline.Stop()

	select {
	case p.token <- struct{}{}:
	case <-deadline.C:
		return event, r.busy(p.key)
	case <-ctx.Done():
		return event, ctx.Err()
	}
	defer func() { <-p.token }()

	if !p.loaded {
		if err := p.load(ctx, deadline.C); err != nil {
			if errors.Is(err, apperrors.ErrBusy) {
				metrics.RouterBusyTotal.Inc()
			}
			return event, err
		}
	}

	event.Sequence = p.last + 1
	select {
	case p.inbox <- event:
		p.last = event.Sequence
	case <-deadline.C:
		return event, r.busy(p.key)
	case <-ctx.Done():
		return event, ctx.Err()
	}

	metrics.RouterEventsSequencedTotal.Inc()
	return event, nil
}

func (r *Router) busy(entityKey string) error {
	metrics.RouterBusyTotal.Inc()
	return apperrors.ErrBusy.WithDetail("entity_key", entityKey)
}

func (r *Router) acquire(key string) (*partition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, apperrors.ErrServiceUnavailable.WithMessage("router is stopped")
	}

	p, ok := r.partitions[key]
	if !ok {
		p = newPartition(r, key, r.retiring[key])
		r.partitions[key] = p
		r.running.Add(1)
		metrics.RouterActivePartitions.Inc()
		go p.run()
	}
	p.refs++
	r.inflight.Add(1)
	return p, nil
}

func (r *Router) release(p *partition) {
	r.mu.Lock()
	p.refs--
	r.mu.Unlock()
	r.inflight.Done()
}

// retire removes an idle partition so its goroutines can exit. It refuses
// while any Submit holds the partition or events are still queued.
func (r *Router) retire(p *partition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || p.refs > 0 || len(p.inbox) > 0 {
		return false
	}
	if r.partitions[p.key] == p {
		delete(r.partitions, p.key)
	}
	r.retiring[p.key] = p
	return true
}

func (r *Router) partitionExited(p *partition) {
	r.mu.Lock()
	if r.retiring[p.key] == p {
		delete(r.retiring, p.key)
	}
	if r.partitions[p.key] == p {
		delete(r.partitions, p.key)
	}
	r.mu.Unlock()

	metrics.RouterActivePartitions.Dec()
	r.running.Done()
}

// ActivePartitions reports how many entity keys currently own a partition.
func (r *Router) ActivePartitions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.partitions)
}

// Stop rejects new submissions, lets every queued event reach its consumers
// and waits for the partitions to exit. If ctx expires first the consumer
// context is cancelled and queued events may be dropped.
func (r *Router) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.inflight.Wait()

	r.mu.Lock()
	for _, p := range r.partitions {
		close(p.inbox)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}
