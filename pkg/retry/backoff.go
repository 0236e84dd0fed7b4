package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Schedule hands out the delays of one retrying task across calls. Each delay
// is the jittered exponential step, clamped so it is never shorter than the
// previous one and never longer than the cap.
type Schedule struct {
	exp  *backoff.ExponentialBackOff
	cap  time.Duration
	last time.Duration
}

func NewSchedule(base, cap time.Duration, multiplier, jitter float64) *Schedule {
	exp := newExponential(Policy{
		InitialInterval: base,
		MaxInterval:     cap,
		Multiplier:      multiplier,
		Jitter:          jitter,
	})
	return &Schedule{exp: exp, cap: cap}
}

func (s *Schedule) Next() time.Duration {
	d := s.exp.NextBackOff()
	if d == backoff.Stop || d > s.cap {
		d = s.cap
	}
	if d < s.last {
		d = s.last
	}
	s.last = d
	return d
}
