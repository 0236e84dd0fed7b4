package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"devpulse/internal/config"
	"devpulse/pkg/metrics"
)

// StateDisabled is reported by a nil Breaker.
const StateDisabled = "disabled"

type Config struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	ReadyToTrip  func(counts gobreaker.Counts) bool
	IsSuccessful func(err error) bool
}

func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      60 * time.Second,
		ReadyToTrip:  RatioTrip(0.5, 3),
		IsSuccessful: ignoreCancellation,
	}
}

// RatioTrip opens the breaker once at least minRequests were seen in the
// current interval and the failure ratio reached ratio.
func RatioTrip(ratio float64, minRequests uint32) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.Requests < minRequests || counts.Requests == 0 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
	}
}

// ignoreCancellation does not hold a call the caller abandoned against the
// dependency.
func ignoreCancellation(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// Breaker guards calls to one dependency (the admission store, one webhook
// host). A nil *Breaker is valid and passes every call through.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// FromConfig applies the configured overrides to DefaultConfig. It returns
// nil when breakers are disabled.
func FromConfig(name string, cfg config.CircuitBreakerConfig) *Breaker {
	if !cfg.Enabled {
		return nil
	}

	c := DefaultConfig(name)
	if cfg.MaxRequests > 0 {
		c.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		c.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		c.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		c.ReadyToTrip = RatioTrip(cfg.FailureRatio, cfg.MinRequests)
	}
	return New(c)
}

func New(cfg Config) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         cfg.Name,
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		ReadyToTrip:  cfg.ReadyToTrip,
		IsSuccessful: cfg.IsSuccessful,
		OnStateChange: func(name string, _, to gobreaker.State) {
			setStateGauge(name, to)
		},
	})
	setStateGauge(cfg.Name, cb.State())
	return &Breaker{cb: cb}
}

// Do runs fn through b. It refuses to start once ctx is done.
func Do[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	if b == nil {
		return fn()
	}

	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	b.record(err)
	if err != nil {
		return zero, err
	}
	typed, _ := result.(T)
	return typed, nil
}

func (b *Breaker) Name() string {
	if b == nil {
		return ""
	}
	return b.cb.Name()
}

// State is "closed", "half-open", "open" or StateDisabled.
func (b *Breaker) State() string {
	if b == nil {
		return StateDisabled
	}
	return b.cb.State().String()
}

func (b *Breaker) IsOpen() bool {
	return b != nil && b.cb.State() == gobreaker.StateOpen
}

// IsRejected reports whether err came from the breaker itself rather than the
// wrapped call.
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (b *Breaker) record(err error) {
	name := b.cb.Name()
	metrics.CircuitBreakerRequests.WithLabelValues(name, b.cb.State().String()).Inc()
	if err != nil && !IsRejected(err) && !ignoreCancellation(err) {
		metrics.CircuitBreakerFailures.WithLabelValues(name).Inc()
	}
}

func setStateGauge(name string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(v)
}
