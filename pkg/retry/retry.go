package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"devpulse/internal/config"
	apperrors "devpulse/pkg/errors"
)

// Policy bounds the in-process retries of one unit of work, such as a
// stream message handed to a handler.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.2,
	}
}

// PolicyFromConfig overlays the configured values on DefaultPolicy.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval > 0 {
		p.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		p.MaxInterval = cfg.MaxInterval
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	return p
}

// Notify is called before each wait with the attempt that just failed.
type Notify func(attempt int, err error, next time.Duration)

type stopError struct {
	err error
}

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }
func (e *stopError) IsFatal() bool { return true }

// Stop marks err as not worth another attempt.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &stopError{err: err}
}

// IsFatal reports whether err, or anything it wraps, declares itself fatal.
func IsFatal(err error) bool {
	var fatal apperrors.FatalError
	return errors.As(err, &fatal) && fatal.IsFatal()
}

// Do runs fn until it succeeds, returns a fatal error, the attempts run out
// or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, policy Policy, fn func() error, notify Notify) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(newExponential(policy), uint64(policy.MaxAttempts-1)),
		ctx,
	)

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err != nil && IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var onWait backoff.Notify
	if notify != nil {
		onWait = func(err error, next time.Duration) { notify(attempt, err, next) }
	}

	return backoff.RetryNotify(operation, b, onWait)
}

func newExponential(p Policy) *backoff.ExponentialBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = p.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()
	return exp
}
