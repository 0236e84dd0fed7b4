package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"devpulse/internal/broker"
	"devpulse/internal/config"
	"devpulse/internal/logger"
)

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Base holds the shared config, logger and Kafka clients, and the ordered
// list of shutdown steps registered while the service is wired. Producer and
// Consumer stay nil when Kafka is disabled.
type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Producer broker.Producer
	Consumer broker.Consumer

	mu      sync.Mutex
	closers []closer

	shutdownOnce sync.Once
	shutdownErr  error
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// OnShutdown registers a shutdown step. Steps run last-registered first, so
// a component is stopped before the stores and clients it was built on.
func (b *Base) OnShutdown(name string, fn func(ctx context.Context) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closers = append(b.closers, closer{name: name, fn: fn})
}

func (b *Base) KafkaEnabled() bool {
	return b.Config.Broker.Kafka.Enabled
}

func (b *Base) InitBroker() error {
	if !b.KafkaEnabled() {
		b.Logger.Info("Kafka disabled, stream publishing and rule-update events are off")
		return nil
	}

	producer, err := broker.NewProducer(b.Config.Broker)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}

	consumer, err := broker.NewConsumer(b.Config.Broker, b.Logger)
	if err != nil {
		_ = producer.Close()
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	b.Producer = producer
	b.Consumer = consumer
	b.OnShutdown("kafka producer", func(context.Context) error { return producer.Close() })
	b.OnShutdown("kafka consumer", func(context.Context) error { return consumer.Close() })

	b.Logger.Infow("Kafka clients initialized", "brokers", b.Config.Broker.Kafka.Brokers)
	return nil
}

// Shutdown runs every registered step within ctx, continuing past failures,
// and joins their errors. Only the first call does any work; later calls
// return its result.
func (b *Base) Shutdown(ctx context.Context) error {
	b.shutdownOnce.Do(func() {
		b.mu.Lock()
		closers := b.closers
		b.closers = nil
		b.mu.Unlock()

		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			c := closers[i]
			start := time.Now()
			if err := c.fn(ctx); err != nil {
				b.Logger.Errorw("Shutdown step failed", "step", c.name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
				continue
			}
			b.Logger.Debugw("Shutdown step completed", "step", c.name, "duration", time.Since(start))
		}

		b.shutdownErr = errors.Join(errs...)
		if b.shutdownErr == nil {
			b.Logger.Info("Application exited successfully")
		}
	})
	return b.shutdownErr
}
